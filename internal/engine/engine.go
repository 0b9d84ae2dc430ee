// Package engine owns the retrieval core: the catalog, its embedding
// matrix, and the HNSW index, kept ordinal-aligned so that vector i,
// index entry i, and catalog record i always describe the same item.
//
// Initialization builds or loads both derived artifacts, queries resolve
// against the served state under a read lock, and rebuilds prepare a full
// replacement off-lock before swapping it in, so searches keep working on
// the old artifacts while a rebuild runs.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"catsearch/internal/catalog"
	"catsearch/internal/embed"
	"catsearch/internal/index"
	"catsearch/internal/store"
	"catsearch/internal/vecmath"
)

// DefaultTopK is the result count used when a caller passes no limit.
const DefaultTopK = 15

const queryCacheSize = 512

// Config holds the engine's tunables. Zero values fall back to the
// defaults the catalog tooling has always shipped with.
type Config struct {
	CSVPath            string
	EmbeddingsPath     string
	IndexPath          string
	HNSWM              int // bidirectional connections per node
	HNSWEfConstruction int // construction search depth
	HNSWEfSearch       int // query search depth
	NWorkers           int // parallel embedding workers
	BatchSize          int // texts per embedding request
}

func (c Config) withDefaults() Config {
	if c.HNSWM <= 0 {
		c.HNSWM = 32
	}
	if c.HNSWEfConstruction <= 0 {
		c.HNSWEfConstruction = 200
	}
	if c.HNSWEfSearch <= 0 {
		c.HNSWEfSearch = 100
	}
	if c.NWorkers <= 0 {
		c.NWorkers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	return c
}

// Engine is the retrieval core. Construct once with New, call Initialize,
// then it is safe for concurrent searches and rebuilds.
type Engine struct {
	cfg      Config
	embedder embed.Embedder

	// buildMu serializes Initialize and Rebuild; mu guards the served
	// state and is held only briefly during the post-build swap.
	buildMu sync.Mutex
	mu      sync.RWMutex
	cat     *catalog.Catalog
	vectors [][]float32
	idx     *index.HNSW
	ready   bool

	queryCache *lru.Cache[string, []float32]
}

// New creates an engine. No I/O happens until Initialize.
func New(cfg Config, embedder embed.Embedder) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("engine: embedder is required")
	}
	cache, err := lru.New[string, []float32](queryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: query cache: %w", err)
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		embedder:   embedder,
		queryCache: cache,
	}, nil
}

// Initialize loads the catalog and materializes the embedding matrix and
// the HNSW index, building and persisting whatever is missing, stale, or
// forced. Both artifacts must describe exactly the loaded corpus; a
// cached copy with the wrong row count is discarded and rebuilt.
func (e *Engine) Initialize(ctx context.Context, force bool) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	log.Printf("[Engine] Initializing semantic search (force_rebuild=%v)", force)

	cat, err := catalog.Load(e.cfg.CSVPath)
	if err != nil {
		return err
	}

	vectors, matrixCached, err := store.Artifact[[][]float32]{
		Path: e.cfg.EmbeddingsPath,
		Load: store.DecodeMatrix,
		Validate: func(m [][]float32) error {
			if len(m) != cat.Len() {
				return fmt.Errorf("matrix has %d rows, corpus has %d", len(m), cat.Len())
			}
			return nil
		},
		Build: func() ([][]float32, error) {
			return e.encodeCorpus(ctx, cat.Descriptions())
		},
		Encode: store.EncodeMatrix,
	}.Materialize(force)
	if err != nil {
		return err
	}
	if matrixCached {
		log.Printf("[Engine] Loaded embeddings: %d vectors", len(vectors))
	}

	// A freshly encoded matrix invalidates any persisted graph even when
	// the row counts agree: the graph indexes the old vectors.
	idx, indexCached, err := store.Artifact[*index.HNSW]{
		Path: e.cfg.IndexPath,
		Load: func(data []byte) (*index.HNSW, error) {
			h := index.NewHNSW(e.indexConfig())
			if err := h.Unmarshal(data); err != nil {
				return nil, err
			}
			return h, nil
		},
		Validate: func(h *index.HNSW) error {
			if h.Len() != cat.Len() {
				return fmt.Errorf("index has %d vectors, corpus has %d", h.Len(), cat.Len())
			}
			return nil
		},
		Build: func() (*index.HNSW, error) {
			return e.buildIndex(vectors)
		},
		Encode: func(h *index.HNSW) ([]byte, error) {
			return h.Marshal()
		},
	}.Materialize(force || !matrixCached)
	if err != nil {
		return err
	}
	if indexCached {
		log.Printf("[Engine] Loaded HNSW index: %d vectors", idx.Len())
	}
	idx.SetEfSearch(e.cfg.HNSWEfSearch)

	e.mu.Lock()
	e.cat = cat
	e.vectors = vectors
	e.idx = idx
	e.ready = true
	e.mu.Unlock()

	log.Printf("[Engine] Ready: %d items indexed", cat.Len())
	return nil
}

// Rebuild regenerates embeddings and index from the current corpus file,
// replacing the persisted artifacts. Searches continue against the old
// state until the new one swaps in.
func (e *Engine) Rebuild(ctx context.Context) error {
	return e.Initialize(ctx, true)
}

// encodeCorpus embeds every description, passage-prefixed, through a
// bounded worker pool. Batches land at their own offsets in the output,
// so worker completion order never reorders vectors.
func (e *Engine) encodeCorpus(ctx context.Context, descs []string) ([][]float32, error) {
	log.Printf("[Engine] Generating embeddings for %d descriptions (%d workers, batch_size=%d)",
		len(descs), e.cfg.NWorkers, e.cfg.BatchSize)

	texts := make([]string, len(descs))
	for i, d := range descs {
		texts[i] = embed.PassagePrefix + d
	}

	type job struct {
		offset int
		texts  []string
	}
	var jobs []job
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		jobs = append(jobs, job{offset: start, texts: texts[start:end]})
	}

	out := make([][]float32, len(texts))
	sem := make(chan struct{}, e.cfg.NWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	var done atomic.Int64

	started := time.Now()
	for _, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			vecs, err := e.embedder.Embed(ctx, j.texts)
			if err == nil && len(vecs) != len(j.texts) {
				err = fmt.Errorf("got %d vectors for %d texts", len(vecs), len(j.texts))
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			for i, v := range vecs {
				vecmath.Normalize(v)
				out[j.offset+i] = v
			}

			if n := done.Add(1); n%10 == 0 {
				log.Printf("[Engine] Embedding progress: %d/%d batches", n, len(jobs))
			}
		}(j)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("engine: embedding generation: %w", firstErr)
	}

	elapsed := time.Since(started).Seconds()
	if elapsed > 0 {
		log.Printf("[Engine] Embeddings generated in %.1fs (%.1f texts/s)",
			elapsed, float64(len(texts))/elapsed)
	}
	return out, nil
}

func (e *Engine) buildIndex(vectors [][]float32) (*index.HNSW, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to index", ErrIndexBuild)
	}

	log.Printf("[Engine] Building HNSW index: M=%d, ef_construction=%d",
		e.cfg.HNSWM, e.cfg.HNSWEfConstruction)
	started := time.Now()

	h := index.NewHNSW(e.indexConfig())
	if err := h.Add(vectors); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexBuild, err)
	}

	log.Printf("[Engine] HNSW index built in %.1fs with %d vectors",
		time.Since(started).Seconds(), h.Len())
	return h, nil
}

func (e *Engine) indexConfig() index.HNSWConfig {
	return index.HNSWConfig{
		M:              e.cfg.HNSWM,
		EfConstruction: e.cfg.HNSWEfConstruction,
		EfSearch:       e.cfg.HNSWEfSearch,
	}
}

// SetEfSearch adjusts query search depth on the live index.
func (e *Engine) SetEfSearch(ef int) {
	if ef <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.HNSWEfSearch = ef
	if e.idx != nil {
		e.idx.SetEfSearch(ef)
	}
}

// Status describes the served state.
type Status struct {
	Ready      bool   `json:"ready"`
	Items      int    `json:"items"`
	Dimensions int    `json:"dimensions"`
	Embedder   string `json:"embedder"`
	EfSearch   int    `json:"ef_search"`
	M          int    `json:"hnsw_m"`
}

// Status reports the current engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		Ready:    e.ready,
		Embedder: e.embedder.Name(),
		EfSearch: e.cfg.HNSWEfSearch,
		M:        e.cfg.HNSWM,
	}
	if e.ready {
		s.Items = e.cat.Len()
		s.Dimensions = e.idx.Dims()
	}
	return s
}

// Len returns the corpus size, 0 before initialization.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return 0
	}
	return e.cat.Len()
}

// ExtraColumns returns the pass-through column names of the loaded
// corpus, in file order.
func (e *Engine) ExtraColumns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return nil
	}
	return e.cat.ExtraColumns
}
