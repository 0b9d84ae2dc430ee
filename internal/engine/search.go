package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"catsearch/internal/catalog"
	"catsearch/internal/embed"
	"catsearch/internal/index"
	"catsearch/internal/vecmath"
)

// Result is one scored catalog match. Score is the inner product of the
// unit query and item vectors, so it equals cosine similarity and higher
// is better. Rank is 1-based position within the result set.
type Result struct {
	Score     float32        `json:"score"`
	Rank      int            `json:"rank"`
	Record    catalog.Record `json:"record"`
	Query     string         `json:"query"`
	Timestamp time.Time      `json:"timestamp"`
}

// Search embeds the query and returns the top k catalog matches by
// similarity, at most min(k, corpus size) of them. k <= 0 means
// DefaultTopK.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := e.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return nil, ErrNotInitialized
	}

	hits, err := e.resolveLocked(vec, k)
	if err != nil {
		return nil, err
	}
	return e.assembleLocked(hits, query)
}

// Resolve embeds the query and returns raw index hits without joining
// them to catalog records.
func (e *Engine) Resolve(ctx context.Context, query string, k int) ([]index.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := e.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return nil, ErrNotInitialized
	}
	return e.resolveLocked(vec, k)
}

// queryVector embeds a query, query-prefixed and unit-normalized,
// consulting the cache first. Cached vectors stay valid across rebuilds
// because they depend only on the embedder, never on the corpus.
func (e *Engine) queryVector(ctx context.Context, query string) ([]float32, error) {
	if v, ok := e.queryCache.Get(query); ok {
		return v, nil
	}

	vecs, err := e.embedder.Embed(ctx, []string{embed.QueryPrefix + query})
	if err != nil {
		return nil, fmt.Errorf("engine: query embedding: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("engine: query embedding: got %d vectors", len(vecs))
	}
	v := vecs[0]
	vecmath.Normalize(v)
	e.queryCache.Add(query, v)
	return v, nil
}

// resolveLocked queries the index under the caller's read lock. The
// graph occasionally returns fewer than min(k, n) hits when a node
// cluster is unreachable from the entry point; an exhaustive scan over
// the matrix tops the set back up so callers always get exactly
// min(k, n) results.
func (e *Engine) resolveLocked(vec []float32, k int) ([]index.SearchResult, error) {
	hits, err := e.idx.Search(vec, k)
	if err != nil {
		return nil, err
	}
	want := min(k, e.cat.Len())
	if len(hits) < want {
		hits = e.fillFromScan(vec, hits, want)
	}
	return hits, nil
}

func (e *Engine) fillFromScan(vec []float32, hits []index.SearchResult, want int) []index.SearchResult {
	seen := make(map[uint32]bool, len(hits))
	for _, h := range hits {
		seen[h.Ordinal] = true
	}

	extra := make([]index.SearchResult, 0, len(e.vectors)-len(hits))
	for i, v := range e.vectors {
		ord := uint32(i)
		if seen[ord] {
			continue
		}
		extra = append(extra, index.SearchResult{Ordinal: ord, Distance: vecmath.InnerDistance(vec, v)})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Distance < extra[j].Distance })

	hits = append(hits, extra[:want-len(hits)]...)
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits
}

// assembleLocked joins index hits to catalog records under the caller's
// read lock. An ordinal outside the corpus means the served index no
// longer matches the served catalog.
func (e *Engine) assembleLocked(hits []index.SearchResult, query string) ([]Result, error) {
	now := time.Now()
	results := make([]Result, len(hits))
	for i, h := range hits {
		if int(h.Ordinal) >= e.cat.Len() {
			return nil, fmt.Errorf("%w: ordinal %d outside corpus of %d", ErrIndexCorruption, h.Ordinal, e.cat.Len())
		}
		results[i] = Result{
			Score:     1 - h.Distance,
			Rank:      i + 1,
			Record:    e.cat.Records[h.Ordinal],
			Query:     query,
			Timestamp: now,
		}
	}
	return results, nil
}
