// Package index provides approximate nearest-neighbor indexing structures
// used to back the property search engine's kNN retrieval paths.
package index

import (
	"sync"
)

// FieldName identifies which vector field a sub-index belongs to.
// The schema manager registers one VectorIndex per field: "vector_text"
// for the text/multimodal embedding, and "image_vectors" for the nested
// per-image vectors.
type FieldName string

const (
	FieldVectorText   FieldName = "vector_text"
	FieldImageVectors FieldName = "image_vectors"
)

// VectorIndex is the common interface satisfied by all ANN backends.
type VectorIndex interface {
	Insert(id string, vector []float32) error
	Search(query []float32, k int) ([]string, []float32)
	Delete(id string) error
	Size() int
}

// MultiIndex registers one VectorIndex per field and dispatches
// insert/search/delete to the field the caller names. Unlike a single
// flat HNSW graph, this lets vector_text and image_vectors live in
// independently sized and independently queried ANN graphs while
// sharing the same construction and lifecycle code.
type MultiIndex struct {
	mu      sync.RWMutex
	indices map[FieldName]VectorIndex
}

// NewMultiIndex creates an empty multi-index.
func NewMultiIndex() *MultiIndex {
	return &MultiIndex{indices: make(map[FieldName]VectorIndex)}
}

// Register attaches a VectorIndex under the given field name.
func (m *MultiIndex) Register(field FieldName, idx VectorIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indices[field] = idx
}

// Field returns the VectorIndex registered for a field, or nil.
func (m *MultiIndex) Field(field FieldName) VectorIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indices[field]
}

// Insert inserts a vector into the named field's index.
func (m *MultiIndex) Insert(field FieldName, id string, vector []float32) error {
	idx := m.Field(field)
	if idx == nil {
		return nil
	}
	return idx.Insert(id, vector)
}

// Search runs kNN search against the named field's index.
func (m *MultiIndex) Search(field FieldName, query []float32, k int) ([]string, []float32) {
	idx := m.Field(field)
	if idx == nil {
		return nil, nil
	}
	return idx.Search(query, k)
}

// Delete removes an id from every registered field index. Used when a
// listing or one of its images is removed.
func (m *MultiIndex) Delete(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, idx := range m.indices {
		if err := idx.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// Sizes reports the element count of every registered field index.
func (m *MultiIndex) Sizes() map[FieldName]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[FieldName]int, len(m.indices))
	for f, idx := range m.indices {
		out[f] = idx.Size()
	}
	return out
}

// HNSWAdapter wraps HNSW to implement VectorIndex with a fixed
// default ef_search, so callers configure ef once at construction
// instead of on every query.
type HNSWAdapter struct {
	*HNSW
	defaultEf int
}

// NewHNSWAdapter creates an HNSWAdapter. distFunc should be
// CosineDistance to satisfy the cosine-space requirement of §4.4/§6.4.
func NewHNSWAdapter(m, efConstruction, efSearch int, distFunc func([]float32, []float32) float32) *HNSWAdapter {
	return &HNSWAdapter{
		HNSW:      NewHNSW(m, efConstruction, distFunc),
		defaultEf: efSearch,
	}
}

// Search implements VectorIndex, using the adapter's default ef unless
// a larger one is implied by k.
func (h *HNSWAdapter) Search(query []float32, k int) ([]string, []float32) {
	ef := h.defaultEf
	if ef < k {
		ef = k * 2
	}
	return h.HNSW.Search(query, k, ef)
}

var _ VectorIndex = (*HNSWAdapter)(nil)
