// Package index implements nearest-neighbor search over the catalog's
// embedding matrix with a Hierarchical Navigable Small World graph.
//
// Nodes carry no identifiers: a vector's ordinal is its insertion
// position, which matches its row in the embedding matrix and its record
// in the catalog. The metric is inner-product distance (1 - dot) and all
// vectors are expected to be unit length, so distance orders exactly like
// cosine similarity reversed.
package index

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"catsearch/internal/vecmath"
)

var (
	// ErrDimMismatch reports a vector whose length differs from the ones
	// already indexed.
	ErrDimMismatch = errors.New("index: vector dimension mismatch")

	// ErrCorrupt reports a persisted graph blob that does not decode.
	ErrCorrupt = errors.New("index: persisted graph corrupted")
)

// HNSWConfig configures the HNSW graph.
type HNSWConfig struct {
	M              int     // Max connections per node (default 32)
	EfConstruction int     // Construction search depth (default 200)
	EfSearch       int     // Query search depth (default 100)
	LevelMult      float64 // Level multiplier (default 1/ln(M))
	Seed           int64   // Level RNG seed (default 100)
}

func (c *HNSWConfig) withDefaults() HNSWConfig {
	cfg := *c
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 100
	}
	if cfg.LevelMult == 0 {
		cfg.LevelMult = 1.0 / math.Log(float64(cfg.M))
	}
	if cfg.Seed == 0 {
		cfg.Seed = 100
	}
	return cfg
}

// SearchResult is one nearest-neighbor match. Ordinal is the vector's
// insertion position.
type SearchResult struct {
	Ordinal  int
	Distance float32
}

// hnswNode is an HNSW graph node. Fields are exported for gob
// serialization.
type hnswNode struct {
	Vector    []float32
	Level     int
	Neighbors [][]uint32 // Neighbors[level] = list of neighbor ordinals
}

// HNSW is a Hierarchical Navigable Small World graph index. Safe for
// concurrent use; searches take a read lock, Add and Unmarshal a write
// lock.
type HNSW struct {
	nodes      []hnswNode
	entryPoint int32 // -1 if empty
	maxLevel   int
	dims       int
	cfg        HNSWConfig
	rng        *rand.Rand
	mu         sync.RWMutex
}

// NewHNSW creates an empty HNSW index.
func NewHNSW(cfg HNSWConfig) *HNSW {
	cfg = cfg.withDefaults()
	return &HNSW{
		entryPoint: -1,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Add appends vectors to the index in order. The ordinal of each vector
// is its position in the overall insertion sequence.
func (h *HNSW) Add(vectors [][]float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, v := range vectors {
		if h.dims == 0 {
			h.dims = len(v)
		} else if len(v) != h.dims {
			return ErrDimMismatch
		}
		h.addOne(v)
	}
	return nil
}

func (h *HNSW) addOne(vec []float32) {
	level := h.randomLevel()
	idx := uint32(len(h.nodes))

	n := hnswNode{
		Vector:    vec,
		Level:     level,
		Neighbors: make([][]uint32, level+1),
	}
	for i := range n.Neighbors {
		n.Neighbors[i] = make([]uint32, 0, h.cfg.M)
	}

	h.nodes = append(h.nodes, n)

	if h.entryPoint < 0 {
		h.entryPoint = int32(idx)
		h.maxLevel = level
		return
	}

	// Find entry point at top level and descend
	currNode := uint32(h.entryPoint)
	for l := h.maxLevel; l > level; l-- {
		currNode = h.searchLayerOne(vec, currNode, l)
	}

	// Insert at each level from level down to 0
	for l := min(level, h.maxLevel); l >= 0; l-- {
		neighbors := h.searchLayer(vec, currNode, h.cfg.EfConstruction, l)
		h.selectAndConnect(idx, neighbors, l)
		if len(neighbors) > 0 {
			currNode = neighbors[0]
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = int32(idx)
	}
}

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	for r == 0 {
		r = h.rng.Float64()
	}
	return int(-math.Log(r) * h.cfg.LevelMult)
}

func (h *HNSW) searchLayerOne(query []float32, entry uint32, level int) uint32 {
	curr := entry
	currDist := vecmath.InnerDistance(query, h.nodes[curr].Vector)

	for {
		changed := false
		if level < len(h.nodes[curr].Neighbors) {
			for _, neighbor := range h.nodes[curr].Neighbors[level] {
				dist := vecmath.InnerDistance(query, h.nodes[neighbor].Vector)
				if dist < currDist {
					curr = neighbor
					currDist = dist
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return curr
}

func (h *HNSW) searchLayer(query []float32, entry uint32, ef, level int) []uint32 {
	visited := make(map[uint32]bool)
	candidates := &distHeap{}
	results := &distHeap{}

	dist := vecmath.InnerDistance(query, h.nodes[entry].Vector)
	candidates.push(distItem{idx: entry, dist: dist})
	results.push(distItem{idx: entry, dist: dist})
	visited[entry] = true

	for candidates.len() > 0 {
		curr := candidates.pop()

		if results.len() > 0 && curr.dist > results.peek().dist && results.len() >= ef {
			break
		}

		if level < len(h.nodes[curr.idx].Neighbors) {
			for _, neighbor := range h.nodes[curr.idx].Neighbors[level] {
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true

				nDist := vecmath.InnerDistance(query, h.nodes[neighbor].Vector)
				if results.len() < ef || nDist < results.peek().dist {
					candidates.push(distItem{idx: neighbor, dist: nDist})
					results.push(distItem{idx: neighbor, dist: nDist})
					if results.len() > ef {
						results.popLast()
					}
				}
			}
		}
	}

	result := make([]uint32, results.len())
	for i := range result {
		result[i] = results.items[i].idx
	}
	return result
}

func (h *HNSW) selectAndConnect(idx uint32, neighbors []uint32, level int) {
	m := h.cfg.M
	if level == 0 {
		m = h.cfg.M * 2
	}

	// Select up to M neighbors
	selected := neighbors
	if len(selected) > m {
		selected = selected[:m]
	}

	// Connect bidirectionally
	h.nodes[idx].Neighbors[level] = append(h.nodes[idx].Neighbors[level], selected...)
	for _, n := range selected {
		if level < len(h.nodes[n].Neighbors) {
			h.nodes[n].Neighbors[level] = append(h.nodes[n].Neighbors[level], idx)
			// Prune if too many
			if len(h.nodes[n].Neighbors[level]) > m {
				h.pruneConnections(n, level, m)
			}
		}
	}
}

func (h *HNSW) pruneConnections(idx uint32, level, m int) {
	neighbors := h.nodes[idx].Neighbors[level]
	if len(neighbors) <= m {
		return
	}

	// Sort by distance to idx and keep closest M
	type nd struct {
		n    uint32
		dist float32
	}
	nds := make([]nd, len(neighbors))
	for i, n := range neighbors {
		nds[i] = nd{n: n, dist: vecmath.InnerDistance(h.nodes[idx].Vector, h.nodes[n].Vector)}
	}
	sort.Slice(nds, func(i, j int) bool { return nds[i].dist < nds[j].dist })

	h.nodes[idx].Neighbors[level] = make([]uint32, m)
	for i := 0; i < m; i++ {
		h.nodes[idx].Neighbors[level][i] = nds[i].n
	}
}

// Search returns the k nearest neighbors of query, closest first. The
// effective search depth is the larger of the configured EfSearch and k.
func (h *HNSW) Search(query []float32, k int) ([]SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entryPoint < 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != h.dims {
		return nil, ErrDimMismatch
	}

	// Descend from top to level 0
	currNode := uint32(h.entryPoint)
	for l := h.maxLevel; l > 0; l-- {
		currNode = h.searchLayerOne(query, currNode, l)
	}

	// Search at level 0
	neighbors := h.searchLayer(query, currNode, max(h.cfg.EfSearch, k), 0)

	results := make([]SearchResult, 0, len(neighbors))
	for _, idx := range neighbors {
		results = append(results, SearchResult{
			Ordinal:  int(idx),
			Distance: vecmath.InnerDistance(query, h.nodes[idx].Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// SetEfSearch adjusts the query search depth without rebuilding the
// graph.
func (h *HNSW) SetEfSearch(ef int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ef > 0 {
		h.cfg.EfSearch = ef
	}
}

// Len returns the number of vectors in the index.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Dims returns the vector dimensionality, 0 while empty.
func (h *HNSW) Dims() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dims
}

// Config returns the effective configuration.
func (h *HNSW) Config() HNSWConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// hnswData is the serializable representation of the HNSW index.
type hnswData struct {
	Nodes      []hnswNode
	EntryPoint int32
	MaxLevel   int
	Dims       int
	Cfg        HNSWConfig
}

// Marshal serializes the graph.
func (h *HNSW) Marshal() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data := hnswData{
		Nodes:      h.nodes,
		EntryPoint: h.entryPoint,
		MaxLevel:   h.maxLevel,
		Dims:       h.dims,
		Cfg:        h.cfg,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal replaces the index contents with a previously marshaled
// graph.
func (h *HNSW) Unmarshal(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var d hnswData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	h.nodes = d.Nodes
	h.entryPoint = d.EntryPoint
	h.maxLevel = d.MaxLevel
	h.dims = d.Dims
	h.cfg = d.Cfg
	h.rng = rand.New(rand.NewSource(d.Cfg.Seed))

	return nil
}

// distItem for priority queue
type distItem struct {
	idx  uint32
	dist float32
}

// distHeap is a simple min-heap for search
type distHeap struct {
	items []distItem
}

func (h *distHeap) len() int { return len(h.items) }

func (h *distHeap) push(item distItem) {
	h.items = append(h.items, item)
	// Bubble up
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].dist >= h.items[parent].dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *distHeap) pop() distItem {
	item := h.items[0]
	h.items[0] = h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	h.bubbleDown(0)
	return item
}

func (h *distHeap) peek() distItem {
	return h.items[0]
}

func (h *distHeap) popLast() {
	// Remove the max item (for results pruning)
	if len(h.items) == 0 {
		return
	}
	maxIdx := 0
	for i := 1; i < len(h.items); i++ {
		if h.items[i].dist > h.items[maxIdx].dist {
			maxIdx = i
		}
	}
	h.items = append(h.items[:maxIdx], h.items[maxIdx+1:]...)
}

func (h *distHeap) bubbleDown(i int) {
	for {
		left := 2*i + 1
		right := 2*i + 2
		smallest := i

		if left < len(h.items) && h.items[left].dist < h.items[smallest].dist {
			smallest = left
		}
		if right < len(h.items) && h.items[right].dist < h.items[smallest].dist {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
