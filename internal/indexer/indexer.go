// Package indexer implements the optional secondary indexer noted in
// spec.md §2 (C7) and §9: an inverted text index over string-valued keys,
// plus a toy deterministic-embedding vector index kept illustrative per
// spec.md's explicit flag ("this is not a real vector index; treat it as
// illustrative"). Both are grounded directly on
// _examples/original_source/src/db/indexes.py's IndexManager.
package indexer

import (
	"hash/fnv"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"kvreplica/internal/value"
)

var wordPattern = regexp.MustCompile(`\w+`)

// Indexer maintains derived indexes under KV Engine mutations. The
// inverted index lives in an xsync.Map so Search can run concurrently
// with the engine's own Update/Remove calls (made from inside the
// engine's write lock) without contending on a second mutex — the same
// role xsync.Map plays for Jipok-go-persist's persistMaps registry.
type Indexer struct {
	// word -> set of keys containing it
	inverted *xsync.Map

	vecMu   sync.RWMutex
	vectors map[string][]float64
}

const vectorDims = 10

// New creates an empty Indexer.
func New() *Indexer {
	return &Indexer{
		inverted: xsync.NewMap(),
		vectors:  make(map[string][]float64),
	}
}

// Update is called by the KV engine after a SET applies. It removes the
// old value's contribution (if any) and indexes the new one. Only
// string-valued documents are indexed, mirroring original_source's
// `isinstance(value, str)` check.
func (ix *Indexer) Update(key string, newVal, oldVal value.Value) {
	if s, ok := oldVal.AsString(); ok {
		ix.unindexWords(key, s)
	}
	s, ok := newVal.AsString()
	if !ok {
		ix.vecMu.Lock()
		delete(ix.vectors, key)
		ix.vecMu.Unlock()
		return
	}
	ix.indexWords(key, s)

	ix.vecMu.Lock()
	ix.vectors[key] = embed(s)
	ix.vecMu.Unlock()
}

// Remove is called after a DEL applies.
func (ix *Indexer) Remove(key string, oldVal value.Value) {
	if s, ok := oldVal.AsString(); ok {
		ix.unindexWords(key, s)
	}
	ix.vecMu.Lock()
	delete(ix.vectors, key)
	ix.vecMu.Unlock()
}

func (ix *Indexer) indexWords(key, text string) {
	for _, w := range tokenize(text) {
		setVal, ok := ix.inverted.Load(w)
		if !ok {
			setVal = xsync.NewMap()
			ix.inverted.Store(w, setVal)
		}
		setVal.(*xsync.Map).Store(key, struct{}{})
	}
}

func (ix *Indexer) unindexWords(key, text string) {
	for _, w := range tokenize(text) {
		setVal, ok := ix.inverted.Load(w)
		if !ok {
			continue
		}
		keys := setVal.(*xsync.Map)
		keys.Delete(key)
	}
}

// Search returns the keys whose indexed text contains every word in
// query (an AND of postings lists), mirroring IndexManager.search.
func (ix *Indexer) Search(query string) []string {
	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	var result map[string]struct{}
	for _, w := range words {
		setVal, ok := ix.inverted.Load(w)
		if !ok {
			return nil
		}
		keys := setVal.(*xsync.Map)
		current := make(map[string]struct{})
		keys.Range(func(k string, _ interface{}) bool {
			current[k] = struct{}{}
			return true
		})

		if result == nil {
			result = current
			continue
		}
		for k := range result {
			if _, ok := current[k]; !ok {
				delete(result, k)
			}
		}
	}

	out := make([]string, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// VectorSearch performs brute-force cosine similarity against the toy
// embedding index and returns the topK closest keys. Flagged in spec.md
// §9 as illustrative only — not a real nearest-neighbor structure.
func (ix *Indexer) VectorSearch(query string, topK int) []string {
	q := embed(query)

	type scored struct {
		key   string
		score float64
	}

	ix.vecMu.RLock()
	scores := make([]scored, 0, len(ix.vectors))
	for k, v := range ix.vectors {
		scores = append(scores, scored{key: k, score: cosine(q, v)})
	}
	ix.vecMu.RUnlock()

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]string, topK)
	for i := 0; i < topK; i++ {
		out[i] = scores[i].key
	}
	return out
}

func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// embed computes a deterministic pseudo-embedding from a hash seed, the
// same "not a real model" approach as original_source's _get_embedding.
func embed(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := int64(h.Sum64())
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float64, vectorDims)
	for i := range vec {
		vec[i] = rng.Float64()
	}
	return vec
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / (denom + 1e-9)
}
