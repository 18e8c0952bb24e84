// Package ann wraps coder/hnsw behind the same top-k shape
// internal/similarity's brute-force path returns, so a project that
// grows past the brute-force comfort zone can switch search strategy
// without its callers noticing. Grounded on qdrant_manager.go's
// HnswConfig (M, ef_construct) translated from a remote collection
// config onto an in-process graph.
package ann

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// Config mirrors the tunables the teacher exposed per Qdrant collection.
// M is the max edges per node; EfSearch trades recall for latency at
// query time.
type Config struct {
	M        int
	EfSearch int
}

// DefaultConfig favors the >=98% recall target over raw speed, a
// reasonable default for a personal library where query volume is low
// and users notice missed matches more than a few extra milliseconds.
func DefaultConfig() Config {
	return Config{M: 16, EfSearch: 64}
}

// Index is a single project+model's in-memory HNSW graph. It is
// rebuilt from storage on demand (NewIndex) rather than persisted, since
// the brute-force path is always available as a correctness fallback and
// a stale on-disk ANN index would be a second source of truth to keep in
// sync with semantic_embeddings.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	cfg   Config
}

// NewIndex builds an index over the given (photoID, vector) pairs.
func NewIndex(cfg Config, vectors map[int64][]float32) *Index {
	g := hnsw.NewGraph[int64]()
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	for id, v := range vectors {
		g.Add(hnsw.MakeNode(id, v))
	}
	return &Index{graph: g, cfg: cfg}
}

// Add inserts or replaces one vector in the index.
func (idx *Index) Add(photoID int64, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.graph.Add(hnsw.MakeNode(photoID, vector))
}

// Remove deletes a vector from the index, used when a photo is deleted
// or re-embedded under a different model.
func (idx *Index) Remove(photoID int64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.graph.Delete(photoID)
}

// SearchResult is one ANN match, ordered nearest first.
type SearchResult struct {
	PhotoID int64
	Score   float64
}

// Search returns the approximate top-k nearest neighbors to query.
func (idx *Index) Search(query []float32, k int) ([]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.graph.Len() == 0 {
		return nil, nil
	}
	neighbors, err := idx.graph.Search(query, k)
	if err != nil {
		return nil, fmt.Errorf("ann: search: %w", err)
	}
	out := make([]SearchResult, len(neighbors))
	for i, n := range neighbors {
		out[i] = SearchResult{PhotoID: n.Key, Score: float64(n.Score)}
	}
	return out, nil
}

// Len reports the number of vectors currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph.Len()
}
