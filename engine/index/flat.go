// Package index provides an in-process flat inner-product vector index over
// venue records. Vectors are L2-normalized at insertion, so inner product
// equals cosine similarity. Search is exact (brute force) and stable: ties
// keep insertion order.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

// Flat is an exact inner-product index with a fixed dimensionality.
// It is safe for concurrent Search; Add must not race with Search.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	records []domain.VenueRecord
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Dim returns the index dimensionality.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of indexed records.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

// Add normalizes and appends one record with its embedding. A dimension
// mismatch is a configuration error and fails fast.
func (f *Flat) Add(rec domain.VenueRecord, vector []float32) error {
	if len(vector) != f.dim {
		return fmt.Errorf("index: add %q: got %d dims, index has %d: %w",
			rec.Name, len(vector), f.dim, domain.ErrDimensionMismatch)
	}
	v := normalize(vector)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, v)
	f.records = append(f.records, rec)
	return nil
}

// Search returns the top n records by inner-product similarity, descending.
// Ties keep insertion order. A query dimension mismatch fails fast.
func (f *Flat) Search(_ context.Context, query []float32, n int) ([]domain.Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("index: search: got %d dims, index has %d: %w",
			len(query), f.dim, domain.ErrDimensionMismatch)
	}
	q := normalize(query)

	f.mu.RLock()
	defer f.mu.RUnlock()

	hits := make([]domain.Hit, len(f.records))
	for i, vec := range f.vectors {
		hits[i] = domain.Hit{Record: f.records[i], Score: float64(dot(q, vec))}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if n < len(hits) {
		hits = hits[:n]
	}
	return hits, nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// normalize returns a fresh L2-normalized copy of v. Zero vectors are
// returned as-is (they match nothing).
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
