// Package similarity implements cosine top-k search over a project's
// semantic embeddings: brute-force by default, with an optional HNSW
// index (internal/similarity/ann) for projects large enough that brute
// force no longer fits the interactive search budget. Grounded on the
// teacher's qdrant_manager.go for the collection/search-params shape
// (HNSW M / ef_construct, score_threshold, top-k) translated from a
// remote vector-database client onto an in-process index, and on
// original_source/services/photo_similarity_service.py for the
// canonical-model factory pattern (for_project) that rejects queries
// against the wrong model before they can return a silently wrong score.
package similarity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/reflib/libraryd/internal/apperr"
	"github.com/reflib/libraryd/internal/models"
	"github.com/reflib/libraryd/internal/similarity/ann"
	"github.com/reflib/libraryd/internal/storage"
	"github.com/reflib/libraryd/internal/vecmath"
)

// annThreshold is the embedding-count floor above which Service builds
// and queries an ann.Index instead of scanning every embedding per
// query. Below it, brute force is already fast enough that an HNSW
// graph's approximate recall isn't worth trading for.
const annThreshold = 2000

// Embedder produces a query vector for free-text search. Implementations
// live in internal/mlcontract; this package only consumes the interface
// so it never hardcodes a specific model's loading logic.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Result is one scored candidate from a similarity query.
type Result struct {
	PhotoID int64
	Score   float64
}

// Service answers similarity queries for one project against its current
// canonical semantic model. A Service is only ever constructed via
// NewServiceForProject so a caller can never accidentally query against
// embeddings left over from a prior model.
type Service struct {
	store    *storage.Store
	embedder Embedder
	project  *models.Project

	annMu      sync.Mutex
	annIndex   *ann.Index
	annBuiltOn int // len(embeddings) the cached index was built from
}

// NewServiceForProject resolves the project's canonical model and
// returns a Service bound to it. Returns ErrEmbeddingNotReady wrapped in
// EmbeddingNotReadyError if the project has no canonical model set yet
// (embedding job has never completed a first pass).
func NewServiceForProject(ctx context.Context, store *storage.Store, embedder Embedder, projectID int64) (*Service, error) {
	p, err := store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("similarity: load project: %w", err)
	}
	if p.SemanticModel == "" {
		return nil, &apperr.EmbeddingNotReadyError{PhotoID: 0, Model: "", Reason: fmt.Sprintf("project %d has no canonical semantic model yet", projectID)}
	}
	return &Service{store: store, embedder: embedder, project: p}, nil
}

// SearchByPhoto returns the top-k photos most similar to photoID's own
// embedding, scoring only candidates at or above threshold and excluding
// both photoID itself and every photo sharing its asset (exact
// duplicates are §4.3's concern and would otherwise dominate results).
func (s *Service) SearchByPhoto(ctx context.Context, photoID int64, threshold float64, k int) ([]Result, error) {
	embeddings, err := s.store.EmbeddingsForModel(ctx, s.project.ID, s.project.SemanticModel)
	if err != nil {
		return nil, fmt.Errorf("similarity: load embeddings: %w", err)
	}

	var row *models.SemanticEmbedding
	for _, e := range embeddings {
		if e.PhotoID == photoID {
			row = e
			break
		}
	}
	if row == nil {
		return nil, &apperr.EmbeddingNotReadyError{PhotoID: photoID, Model: s.project.SemanticModel, Reason: "missing"}
	}
	currentHash, err := s.store.ContentHashForPhoto(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("similarity: load content hash: %w", err)
	}
	if row.SourceHash != currentHash {
		return nil, &apperr.EmbeddingNotReadyError{PhotoID: photoID, Model: s.project.SemanticModel, Reason: "hash_mismatch"}
	}
	query := unpack(row)

	siblings, err := s.store.AssetSiblings(ctx, s.project.ID, photoID)
	if err != nil {
		return nil, fmt.Errorf("similarity: load asset siblings: %w", err)
	}
	exclude := make(map[int64]bool, len(siblings)+1)
	exclude[photoID] = true
	for _, id := range siblings {
		exclude[id] = true
	}

	return s.search(embeddings, query, k, threshold, exclude), nil
}

// SearchByText embeds text with the bound Embedder and returns the top-k
// matching photos. The query is canceled cooperatively via ctx; a caller
// navigating away mid-search is expected to cancel its context rather
// than wait for a stale result.
func (s *Service) SearchByText(ctx context.Context, text string, k int) ([]Result, error) {
	query, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed query text: %w", err)
	}
	query = vecmath.L2Normalize(query)

	embeddings, err := s.store.EmbeddingsForModel(ctx, s.project.ID, s.project.SemanticModel)
	if err != nil {
		return nil, fmt.Errorf("similarity: load embeddings: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.search(embeddings, query, k, 0, nil), nil
}

// Readiness reports how many of the project's photos currently have an
// embedding under the canonical model, so a caller can show "indexing:
// 4321/5000" instead of EmbeddingNotReadyError surfacing mid-query.
func (s *Service) Readiness(ctx context.Context) (have, total int, err error) {
	return s.store.EmbeddingCoverage(ctx, s.project.ID, s.project.SemanticModel)
}

// search picks brute force or the cached ANN index depending on
// annThreshold, falling back to brute force whenever the index can't
// serve the query (too few candidates to validate recall, or an
// underlying hnsw error).
func (s *Service) search(embeddings []*models.SemanticEmbedding, query []float32, k int, threshold float64, exclude map[int64]bool) []Result {
	if len(embeddings) < annThreshold {
		return topK(embeddings, query, k, threshold, exclude)
	}

	idx := s.ensureANNIndex(embeddings)
	// Over-fetch past k so that filtering out `exclude` still leaves k
	// results; hnsw has no native exclude-set support.
	neighbors, err := idx.Search(query, k+len(exclude)+8)
	if err != nil || len(neighbors) == 0 {
		return topK(embeddings, query, k, threshold, exclude)
	}

	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		if exclude[n.PhotoID] || n.Score < threshold {
			continue
		}
		results = append(results, Result{PhotoID: n.PhotoID, Score: n.Score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	if len(results) == 0 {
		// ANN recall gap or an overly aggressive exclude set — brute force
		// is the correctness fallback spec.md §4.6 requires.
		return topK(embeddings, query, k, threshold, exclude)
	}
	return results
}

// ensureANNIndex lazily builds the project's HNSW index on first use and
// rebuilds it whenever the embedding count has moved since the cached
// build, the cheap proxy for "a reindex happened" without needing a
// separate invalidation signal from internal/embeddings.
func (s *Service) ensureANNIndex(embeddings []*models.SemanticEmbedding) *ann.Index {
	s.annMu.Lock()
	defer s.annMu.Unlock()
	if s.annIndex != nil && s.annBuiltOn == len(embeddings) {
		return s.annIndex
	}
	vectors := make(map[int64][]float32, len(embeddings))
	for _, e := range embeddings {
		vectors[e.PhotoID] = unpack(e)
	}
	s.annIndex = ann.NewIndex(ann.DefaultConfig(), vectors)
	s.annBuiltOn = len(embeddings)
	return s.annIndex
}

func topK(embeddings []*models.SemanticEmbedding, query []float32, k int, threshold float64, exclude map[int64]bool) []Result {
	results := make([]Result, 0, len(embeddings))
	for _, e := range embeddings {
		if exclude[e.PhotoID] {
			continue
		}
		vec := unpack(e)
		score := float64(vecmath.CosineSimilarityNormalized(query, vec))
		if score < threshold {
			continue
		}
		results = append(results, Result{PhotoID: e.PhotoID, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
