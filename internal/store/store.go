// Package store implements the KV Engine (spec.md §4.4): an in-memory map
// whose mutations are serialized by a single mutex, durable via
// internal/wal before they are applied, and recoverable from
// internal/snapshot plus WAL replay at startup.
//
// Concurrency model: every mutating operation takes the engine's exclusive
// lock before the WAL append and in-memory apply, and releases it only
// after both complete (spec.md §5) — a mutex-guarded engine where each
// request goroutine performs its own WAL write, the discipline the teacher
// (ppriyankuu-godkv's Store) uses, generalized away from its vector-clock
// and tombstone bookkeeping which this spec's single-writer model has no
// use for.
package store

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"kvreplica/internal/indexer"
	"kvreplica/internal/snapshot"
	"kvreplica/internal/value"
	"kvreplica/internal/wal"
)

// ErrDurabilityFailure is returned when a mutation could not be made
// durable (the WAL append/fsync failed). No in-memory state changes when
// this is returned.
var ErrDurabilityFailure = errors.New("store: durability failure")

// ErrSimulatedFailure is returned by the debug_fail injection path. It
// carries the same message as ErrDurabilityFailure, so an HTTP client
// cannot tell the two apart — both mean "this write did not happen" — per
// spec.md §9; in-process, errors.Is still distinguishes them.
var ErrSimulatedFailure = errors.New("store: durability failure")

// simulatedFailureProbability is the hardcoded injection rate for
// debug_fail, matching original_source's engine.py (`random.random() < 0.01`).
const simulatedFailureProbability = 0.01

// KV is one pair in a bulk write, preserving caller-given order.
type KV struct {
	Key   string
	Value value.Value
}

// Engine is the in-memory key/value map plus its durability and recovery
// machinery. All exported methods are safe for concurrent use.
type Engine struct {
	mu   sync.RWMutex
	data map[string]value.Value

	w    *wal.WAL
	snap *snapshot.Store
	idx  *indexer.Indexer

	randFloat func() float64
}

// Open loads a node's data directory (spec.md §4.3 recovery order: load
// the snapshot if present, then replay the WAL on top of it) and returns a
// ready Engine. ix may be nil if no secondary indexing is wanted.
func Open(dataDir string, ix *indexer.Indexer) (*Engine, *wal.ReplayStats, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, err
	}
	if ix == nil {
		ix = indexer.New()
	}

	snap := snapshot.New(filepath.Join(dataDir, "db.snapshot"))
	data, _, err := snap.Load()
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		data = make(map[string]value.Value)
	}

	w, err := wal.Open(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, nil, err
	}

	e := &Engine{
		data:      data,
		w:         w,
		snap:      snap,
		idx:       ix,
		randFloat: rand.Float64,
	}

	// Rebuild the indexer over whatever the snapshot restored, since the
	// indexer itself is not persisted (spec.md §6.3).
	for k, v := range data {
		e.idx.Update(k, v, value.Null())
	}

	stats, err := w.Replay(func(rec wal.Record) error {
		e.applyLocked(rec)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return e, &stats, nil
}

// Close releases the engine's open file handles.
func (e *Engine) Close() error {
	return e.w.Close()
}

// Get returns the current value for key and whether it exists.
func (e *Engine) Get(key string) (value.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[key]
	return v, ok
}

// Set durably records and applies a single key write. If debugFail is
// true, the operation may be rejected before anything is written to the
// WAL, simulating an unrelated failure (spec.md §4.4, invariant: a failed
// write never leaves partial state).
func (e *Engine) Set(key string, v value.Value, debugFail bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if debugFail && e.randFloat() < simulatedFailureProbability {
		return ErrSimulatedFailure
	}

	rec := wal.SetRecord(key, v)
	if err := e.w.Append(rec); err != nil {
		return ErrDurabilityFailure
	}
	e.applyLocked(rec)
	return nil
}

// Delete durably records and applies a key removal. Deleting an absent
// key is a no-op that still succeeds and is still logged, matching
// original_source's engine.delete, which takes no debug_simulate_error
// argument — unlike Set/BulkSet, delete has no debug-injection path
// (spec.md §4.4's operation table).
func (e *Engine) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := wal.DelRecord(key)
	if err := e.w.Append(rec); err != nil {
		return ErrDurabilityFailure
	}
	e.applyLocked(rec)
	return nil
}

// BulkSet applies every item in items as a single atomic unit: one WAL
// record, one apply pass. Either all items become durable and visible or
// none do.
func (e *Engine) BulkSet(items []KV, debugFail bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if debugFail && e.randFloat() < simulatedFailureProbability {
		return ErrSimulatedFailure
	}

	walItems := make([]wal.KV, len(items))
	for i, it := range items {
		walItems[i] = wal.KV{K: it.Key, V: it.Value}
	}
	rec := wal.BulkRecord(walItems)
	if err := e.w.Append(rec); err != nil {
		return ErrDurabilityFailure
	}
	e.applyLocked(rec)
	return nil
}

// ApplyExternal durably logs and applies a record received from the
// cluster leader, bypassing debug_fail injection — replicated writes are
// applied as given, never speculatively failed (spec.md §6.6).
func (e *Engine) ApplyExternal(rec wal.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.w.Append(rec); err != nil {
		return ErrDurabilityFailure
	}
	e.applyLocked(rec)
	return nil
}

// Snapshot persists the current map to disk and truncates the WAL, the
// two steps always performed together (spec.md §4.3).
func (e *Engine) Snapshot() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	copyData := make(map[string]value.Value, len(e.data))
	for k, v := range e.data {
		copyData[k] = v
	}

	if err := e.snap.Save(copyData); err != nil {
		return err
	}
	return e.w.Truncate()
}

// Keys returns a snapshot of the currently-stored key set.
func (e *Engine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	return keys
}

// applyLocked mutates the in-memory map and the secondary indexer for an
// already-durable record. Callers must hold e.mu.
func (e *Engine) applyLocked(rec wal.Record) {
	switch rec.Op {
	case wal.OpSet:
		old := e.data[rec.Key]
		e.data[rec.Key] = rec.Val
		e.idx.Update(rec.Key, rec.Val, old)
	case wal.OpDel:
		old, existed := e.data[rec.Key]
		if existed {
			delete(e.data, rec.Key)
			e.idx.Remove(rec.Key, old)
		}
	case wal.OpBulk:
		for _, item := range rec.Items {
			old := e.data[item.K]
			e.data[item.K] = item.V
			e.idx.Update(item.K, item.V, old)
		}
	}
}
