package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"kvreplica/internal/cluster"
	"kvreplica/internal/indexer"
	"kvreplica/internal/store"
)

type testNode struct {
	id     string
	engine *store.Engine
	mgr    *cluster.Manager
	router *gin.Engine
	srv    *httptest.Server
	cancel context.CancelFunc
}

// newCluster boots n in-process nodes wired together exactly like
// cmd/server does, except peer addresses are httptest.Server URLs
// instead of real listen addresses.
func newCluster(t *testing.T, n int) []*testNode {
	t.Helper()
	gin.SetMode(gin.TestMode)

	nodes := make([]*testNode, n)
	urls := make([]string, n)

	for i := 0; i < n; i++ {
		e, _, err := store.Open(t.TempDir(), indexer.New())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		nodes[i] = &testNode{id: nodeName(i), engine: e}
	}

	// Stand up the HTTP servers first so every node knows every URL.
	for i, nd := range nodes {
		nd.router = gin.New()
		nd.srv = httptest.NewServer(nd.router)
		urls[i] = nd.srv.URL
	}

	for i, nd := range nodes {
		var peers []string
		for j, u := range urls {
			if j != i {
				peers = append(peers, u)
			}
		}
		nd.mgr = cluster.New(nd.id, peers, nd.engine)
		h := NewHandler(nd.engine, nd.mgr, nd.id, false)
		h.Register(nd.router)

		ctx, cancel := context.WithCancel(context.Background())
		nd.cancel = cancel
		nd.mgr.Start(ctx)
	}

	t.Cleanup(func() {
		for _, nd := range nodes {
			nd.cancel()
			nd.mgr.Stop()
			nd.srv.Close()
			_ = nd.engine.Close()
		}
	})

	return nodes
}

func nodeName(i int) string {
	return string(rune('a' + i))
}

func waitForLeader(t *testing.T, nodes []*testNode, timeout time.Duration) *testNode {
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

func TestFollowerRejectsWritesWithNotLeader(t *testing.T) {
	nodes := newCluster(t, 3)
	leader := waitForLeader(t, nodes, 5*time.Second)

	var follower *testNode
	for _, nd := range nodes {
		if nd != leader {
			follower = nd
			break
		}
	}

	body, _ := json.Marshal(map[string]any{"key": "k", "value": "v"})
	resp, err := http.Post(follower.srv.URL+"/set", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from a non-leader, got %d", resp.StatusCode)
	}
}

func TestLeaderWriteReplicatesToFollowers(t *testing.T) {
	nodes := newCluster(t, 3)
	leader := waitForLeader(t, nodes, 5*time.Second)

	body, _ := json.Marshal(map[string]any{"key": "hello", "value": "world"})
	resp, err := http.Post(leader.srv.URL+"/set", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from the leader, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for _, nd := range nodes {
		if nd == leader {
			continue
		}
		for {
			if _, ok := nd.engine.Get("hello"); ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("node %s never received replicated write", nd.id)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
}

func TestSingleNodeIsImmediatelyLeader(t *testing.T) {
	nodes := newCluster(t, 1)
	if !nodes[0].mgr.IsLeader() {
		t.Fatal("expected single node to be leader immediately")
	}
	if nodes[0].mgr.Term() != 0 {
		t.Fatalf("expected term 0, got %d", nodes[0].mgr.Term())
	}
}
