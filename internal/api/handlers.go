// Package api wires up the Gin HTTP router and request handlers for both
// the client-facing KV surface and the internal peer-to-peer surface
// (spec.md §6.7, §8), generalized from the teacher's internal/api package
// (Register/Handler/middleware layout) onto the new operation set.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kvreplica/internal/cluster"
	"kvreplica/internal/store"
	"kvreplica/internal/value"
	"kvreplica/internal/wal"
)

// Handler holds every dependency the routes need, wired from cmd/server.
type Handler struct {
	engine    *store.Engine
	mgr       *cluster.Manager
	selfID    string
	debugFail bool
}

// NewHandler creates a Handler. debugFail toggles the 1% simulated
// failure injection on writes (spec.md §9), off by default.
func NewHandler(engine *store.Engine, mgr *cluster.Manager, selfID string, debugFail bool) *Handler {
	return &Handler{engine: engine, mgr: mgr, selfID: selfID, debugFail: debugFail}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/get/:key", h.Get)
	r.POST("/set", h.Set)
	r.DELETE("/delete/:key", h.Delete)
	r.POST("/bulk", h.Bulk)
	r.POST("/snapshot", h.TakeSnapshot)
	r.GET("/debug/info", h.DebugInfo)

	internal := r.Group("/internal")
	internal.POST("/heartbeat", h.InternalHeartbeat)
	internal.POST("/vote", h.InternalVote)
	internal.POST("/replicate", h.InternalReplicate)
}

// requireLeader rejects the request with 503 when this node does not
// currently believe itself to be the leader, the gate every write route
// applies (spec.md §9's NotLeader error), mirroring original_source's
// ensure_leader dependency.
func (h *Handler) requireLeader(c *gin.Context) bool {
	if h.mgr.IsLeader() {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":     "not leader",
		"leader_id": h.mgr.LeaderID(),
	})
	return false
}

// Get handles GET /get/:key. Only the leader serves reads, matching
// original_source's get_key route (it calls ensure_leader() before
// db.get(key)).
func (h *Handler) Get(c *gin.Context) {
	if !h.requireLeader(c) {
		return
	}

	key := c.Param("key")
	v, ok := h.engine.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v.ToAny()})
}

type setBody struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
	Debug bool   `json:"debug"`
}

// Set handles POST /set. debug, when set on the request body, layers on
// top of the node-wide --debug-fail flag (spec.md §6: {key, value, debug?}).
func (h *Handler) Set(c *gin.Context) {
	if !h.requireLeader(c) {
		return
	}

	var body setBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := value.FromAny(body.Value)
	if err := h.engine.Set(body.Key, v, h.debugFail || body.Debug); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.mgr.ReplicateToPeers(wal.SetRecord(body.Key, v))
	c.JSON(http.StatusOK, gin.H{"key": body.Key, "value": body.Value})
}

// Delete handles DELETE /delete/:key.
func (h *Handler) Delete(c *gin.Context) {
	if !h.requireLeader(c) {
		return
	}

	key := c.Param("key")
	if err := h.engine.Delete(key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.mgr.ReplicateToPeers(wal.DelRecord(key))
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

type bulkItem struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
}

type bulkBody struct {
	Items []bulkItem `json:"items" binding:"required"`
	Debug bool       `json:"debug"`
}

// Bulk handles POST /bulk: a set of key/value pairs applied as a single
// atomic WAL record. debug layers on top of the node-wide --debug-fail
// flag, matching /set (spec.md §6: {items, debug?}).
func (h *Handler) Bulk(c *gin.Context) {
	if !h.requireLeader(c) {
		return
	}

	var body bulkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]store.KV, len(body.Items))
	walItems := make([]wal.KV, len(body.Items))
	for i, it := range body.Items {
		v := value.FromAny(it.Value)
		items[i] = store.KV{Key: it.Key, Value: v}
		walItems[i] = wal.KV{K: it.Key, V: v}
	}

	if err := h.engine.BulkSet(items, h.debugFail || body.Debug); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.mgr.ReplicateToPeers(wal.BulkRecord(walItems))
	c.JSON(http.StatusOK, gin.H{"applied": len(items)})
}

// TakeSnapshot handles POST /snapshot: persist the current map and
// truncate the WAL.
func (h *Handler) TakeSnapshot(c *gin.Context) {
	if err := h.engine.Snapshot(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshotted": true})
}

// DebugInfo handles GET /debug/info, returning exactly
// {node_id, role, leader, term, peers} per spec.md §6, matching
// original_source's debug_info().
func (h *Handler) DebugInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node_id": h.selfID,
		"role":    h.mgr.CurrentRole().String(),
		"leader":  h.mgr.LeaderID(),
		"term":    h.mgr.Term(),
		"peers":   h.mgr.Peers(),
	})
}

// InternalHeartbeat handles POST /internal/heartbeat from whichever peer
// currently believes it is the leader.
func (h *Handler) InternalHeartbeat(c *gin.Context) {
	var req cluster.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mgr.ReceiveHeartbeat(req.Term, req.LeaderID)
	c.Status(http.StatusNoContent)
}

// InternalVote handles POST /internal/vote from a candidate.
func (h *Handler) InternalVote(c *gin.Context) {
	var req cluster.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	granted := h.mgr.ReceiveVoteRequest(req.Term, req.CandidateID)
	c.JSON(http.StatusOK, cluster.VoteResponse{Granted: granted})
}

// InternalReplicate handles POST /internal/replicate. Per spec.md §9 and
// original_source's equivalent route, the sender's claimed leadership is
// not verified before the record is applied.
func (h *Handler) InternalReplicate(c *gin.Context) {
	var req cluster.ReplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.ApplyReplicated(req.Record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
