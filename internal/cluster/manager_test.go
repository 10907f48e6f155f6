package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"kvreplica/internal/indexer"
	"kvreplica/internal/store"
	"kvreplica/internal/value"
	"kvreplica/internal/wal"
)

func newTestEngine(t *testing.T) *store.Engine {
	t.Helper()
	e, _, err := store.Open(t.TempDir(), indexer.New())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSingleNodeClusterIsLeaderAtTermZero(t *testing.T) {
	m := New("solo", nil, newTestEngine(t))
	m.Start(context.Background())
	defer m.Stop()

	if !m.IsLeader() {
		t.Fatal("expected single-node cluster to be leader")
	}
	if m.Term() != 0 {
		t.Fatalf("expected term 0, got %d", m.Term())
	}
	if m.LeaderID() != "solo" {
		t.Fatalf("expected self as leader, got %q", m.LeaderID())
	}
}

func TestReceiveHeartbeatAdoptsLeaderAndSteppsDown(t *testing.T) {
	m := New("follower1", []string{"http://peer"}, newTestEngine(t))
	m.Start(context.Background())
	defer m.Stop()

	m.ReceiveHeartbeat(5, "leader-x")

	if m.CurrentRole() != RoleFollower {
		t.Fatalf("expected follower role, got %v", m.CurrentRole())
	}
	if m.Term() != 5 {
		t.Fatalf("expected term 5, got %d", m.Term())
	}
	if m.LeaderID() != "leader-x" {
		t.Fatalf("expected leader-x, got %q", m.LeaderID())
	}
}

func TestReceiveHeartbeatIgnoresStaleTerm(t *testing.T) {
	m := New("follower1", []string{"http://peer"}, newTestEngine(t))
	m.Start(context.Background())
	defer m.Stop()

	m.ReceiveHeartbeat(10, "leader-x")
	m.ReceiveHeartbeat(3, "leader-y")

	if m.Term() != 10 || m.LeaderID() != "leader-x" {
		t.Fatalf("stale heartbeat should be ignored, got term=%d leader=%q", m.Term(), m.LeaderID())
	}
}

func TestReceiveVoteRequestGrantsOnlyForHigherTerm(t *testing.T) {
	m := New("follower1", []string{"http://peer"}, newTestEngine(t))
	m.Start(context.Background())
	defer m.Stop()

	m.ReceiveHeartbeat(4, "someone")

	if granted := m.ReceiveVoteRequest(4, "candidate-a"); granted {
		t.Fatal("expected vote to be denied for an equal term")
	}
	if granted := m.ReceiveVoteRequest(5, "candidate-a"); !granted {
		t.Fatal("expected vote to be granted for a strictly higher term")
	}
	if m.Term() != 5 {
		t.Fatalf("expected adopted term 5, got %d", m.Term())
	}
}

func TestReplicateToPeersNoopWhenNotLeader(t *testing.T) {
	var hits atomic.Int32
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer peer.Close()

	engine := newTestEngine(t)
	m := New("follower1", []string{peer.URL}, engine)
	m.Start(context.Background())
	defer m.Stop()

	// Not leader: ReplicateToPeers must return without sending anything to
	// the peer. The election timeout (at least 1.5s) outlasts this test, so
	// no vote request reaches the peer either.
	done := make(chan struct{})
	go func() {
		m.ReplicateToPeers(wal.SetRecord("k", value.String("v")))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReplicateToPeers blocked unexpectedly")
	}
	time.Sleep(200 * time.Millisecond)
	if n := hits.Load(); n != 0 {
		t.Fatalf("expected no request to reach the peer, got %d", n)
	}
}

// The tests below drive a real 3-node FSM over httptest.Servers, covering
// spec.md §8's S5 (failover) and exercising S6-adjacent leader-change
// behavior at the Manager level (internal/api/api_test.go covers S6's
// 503-from-a-follower behavior at the HTTP-handler level).

type clusterNode struct {
	id     string
	engine *store.Engine
	mgr    *Manager
	srv    *httptest.Server
	cancel context.CancelFunc
}

// registerInternalRoutes wires a bare net/http mux straight to mgr's
// message-receiving methods, the same three routes
// internal/api/handlers.go mounts on gin, without depending on that
// package (internal/api imports internal/cluster, not the reverse).
func registerInternalRoutes(mux *http.ServeMux, mgr *Manager) {
	mux.HandleFunc("/internal/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req HeartbeatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mgr.ReceiveHeartbeat(req.Term, req.LeaderID)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/internal/vote", func(w http.ResponseWriter, r *http.Request) {
		var req VoteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		granted := mgr.ReceiveVoteRequest(req.Term, req.CandidateID)
		_ = json.NewEncoder(w).Encode(VoteResponse{Granted: granted})
	})
	mux.HandleFunc("/internal/replicate", func(w http.ResponseWriter, r *http.Request) {
		var req ReplicateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := mgr.ApplyReplicated(req.Record); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func clusterNodeName(i int) string { return string(rune('a' + i)) }

// startHTTPCluster boots n nodes wired together over real httptest.Server
// listeners, the way cmd/server wires nodes over real listen addresses.
func startHTTPCluster(t *testing.T, n int) []*clusterNode {
	t.Helper()

	nodes := make([]*clusterNode, n)
	muxes := make([]*http.ServeMux, n)
	urls := make([]string, n)

	for i := range nodes {
		muxes[i] = http.NewServeMux()
		nodes[i] = &clusterNode{id: clusterNodeName(i), engine: newTestEngine(t), srv: httptest.NewServer(muxes[i])}
		urls[i] = nodes[i].srv.URL
	}

	for i, nd := range nodes {
		var peers []string
		for j, u := range urls {
			if j != i {
				peers = append(peers, u)
			}
		}
		nd.mgr = New(nd.id, peers, nd.engine)
		registerInternalRoutes(muxes[i], nd.mgr)

		ctx, cancel := context.WithCancel(context.Background())
		nd.cancel = cancel
		nd.mgr.Start(ctx)
	}

	t.Cleanup(func() {
		for _, nd := range nodes {
			nd.cancel()
			nd.mgr.Stop()
			nd.srv.Close()
		}
	})

	return nodes
}

func waitForClusterLeader(t *testing.T, nodes []*clusterNode, timeout time.Duration) *clusterNode {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, nd := range nodes {
			if nd.mgr.IsLeader() {
				return nd
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no leader elected before timeout")
	return nil
}

// TestFailoverElectsNewLeaderAndPreservesReplicatedWrite covers spec.md
// §8's S5: identify the leader, write and replicate a key, hard-kill the
// leader, confirm a different node becomes leader within 30s, and confirm
// the replicated key survived the failover.
func TestFailoverElectsNewLeaderAndPreservesReplicatedWrite(t *testing.T) {
	nodes := startHTTPCluster(t, 3)
	leader := waitForClusterLeader(t, nodes, 5*time.Second)

	if err := leader.engine.Set("rep_key", value.String("rep_val"), false); err != nil {
		t.Fatalf("set on leader: %v", err)
	}
	leader.mgr.ReplicateToPeers(wal.SetRecord("rep_key", value.String("rep_val")))

	replicateDeadline := time.Now().Add(2 * time.Second)
	for _, nd := range nodes {
		if nd == leader {
			continue
		}
		for {
			if _, ok := nd.engine.Get("rep_key"); ok {
				break
			}
			if time.Now().After(replicateDeadline) {
				t.Fatalf("node %s never received replicated write before failover", nd.id)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	// Hard-kill the leader: stop its monitor loop and close its listener
	// so peers see it as unreachable.
	leader.cancel()
	leader.mgr.Stop()
	leader.srv.Close()

	var survivors []*clusterNode
	for _, nd := range nodes {
		if nd != leader {
			survivors = append(survivors, nd)
		}
	}

	newLeader := waitForClusterLeader(t, survivors, 30*time.Second)
	if newLeader == leader {
		t.Fatal("expected a different node to become leader after failover")
	}

	v, ok := newLeader.engine.Get("rep_key")
	if !ok || !v.Equal(value.String("rep_val")) {
		t.Fatalf("expected new leader to retain rep_key=rep_val, got ok=%v v=%v", ok, v)
	}

	if err := newLeader.engine.Set("new_key", value.String("new_val"), false); err != nil {
		t.Fatalf("expected write on new leader to succeed, got: %v", err)
	}
}
