package cluster

import (
	"bytes"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"kvreplica/internal/wal"
)

// HeartbeatRequest and VoteRequest mirror the small JSON bodies
// original_source posts to /internal/heartbeat and /internal/vote. They
// are exported so the HTTP frontend (internal/api) can bind request
// bodies straight into them.
type HeartbeatRequest struct {
	Term     int    `json:"term"`
	LeaderID string `json:"leader_id"`
}

type VoteRequest struct {
	Term        int    `json:"term"`
	CandidateID string `json:"candidate_id"`
}

type VoteResponse struct {
	Granted bool `json:"granted"`
}

type ReplicateRequest struct {
	Record wal.Record `json:"record"`
}

func postJSON(client *http.Client, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

// sendHeartbeat posts a heartbeat to a single peer and discards the
// response body; the caller treats any error as "peer unreachable" and
// moves on, never retrying.
func sendHeartbeat(client *http.Client, peerAddr string, term int, leaderID string) error {
	resp, err := postJSON(client, peerAddr+"/internal/heartbeat", HeartbeatRequest{Term: term, LeaderID: leaderID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("heartbeat rejected: %s", resp.Status)
	}
	return nil
}

// sendVoteRequest asks a single peer for its vote and reports whether it
// was granted.
func sendVoteRequest(client *http.Client, peerAddr string, term int, candidateID string) (bool, error) {
	resp, err := postJSON(client, peerAddr+"/internal/vote", VoteRequest{Term: term, CandidateID: candidateID})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("vote request rejected: %s", resp.Status)
	}

	var vr VoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return false, err
	}
	return vr.Granted, nil
}

// sendReplicate forwards a durable record to a single peer.
func sendReplicate(client *http.Client, peerAddr string, rec wal.Record) error {
	resp, err := postJSON(client, peerAddr+"/internal/replicate", ReplicateRequest{Record: rec})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("replicate rejected: %s", resp.Status)
	}
	return nil
}
