package index

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

func mustAdd(t *testing.T, f *Flat, name string, vec []float32) {
	t.Helper()
	if err := f.Add(domain.VenueRecord{Name: name}, vec); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
}

func TestFlatSearchOrdering(t *testing.T) {
	f := NewFlat(2)
	mustAdd(t, f, "east", []float32{1, 0})
	mustAdd(t, f, "north", []float32{0, 1})
	mustAdd(t, f, "northeast", []float32{1, 1})

	hits, err := f.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("len(hits) = %d", len(hits))
	}
	if hits[0].Record.Name != "east" {
		t.Errorf("hits[0] = %s, want east", hits[0].Record.Name)
	}
	if hits[1].Record.Name != "northeast" {
		t.Errorf("hits[1] = %s, want northeast", hits[1].Record.Name)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-6 {
		t.Errorf("top score = %v, want 1.0", hits[0].Score)
	}
}

func TestFlatSearchTiesKeepInsertionOrder(t *testing.T) {
	f := NewFlat(2)
	// Both orthogonal to the query: identical scores.
	mustAdd(t, f, "first", []float32{0, 1})
	mustAdd(t, f, "second", []float32{0, -1})
	mustAdd(t, f, "match", []float32{1, 0})

	hits, err := f.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[1].Record.Name != "first" || hits[2].Record.Name != "second" {
		t.Errorf("tie order = [%s %s], want [first second]", hits[1].Record.Name, hits[2].Record.Name)
	}
}

func TestFlatSearchTruncates(t *testing.T) {
	f := NewFlat(2)
	mustAdd(t, f, "a", []float32{1, 0})
	mustAdd(t, f, "b", []float32{0, 1})

	hits, err := f.Search(context.Background(), []float32{1, 1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
}

func TestFlatDimensionMismatch(t *testing.T) {
	f := NewFlat(3)
	if err := f.Add(domain.VenueRecord{Name: "x"}, []float32{1, 0}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("Add err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := f.Search(context.Background(), []float32{1, 0}, 1); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("Search err = %v, want ErrDimensionMismatch", err)
	}
}

func TestLoadSnapshot(t *testing.T) {
	data := strings.Join([]string{
		`{"name":"Trattoria Roma","tags":["italian"],"embedding":[1,0]}`,
		`{"name":"Sushi Zen","tags":["japanese"],"embedding":[0,1]}`,
	}, "\n")

	f, err := LoadSnapshot(strings.NewReader(data))
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if f.Len() != 2 || f.Dim() != 2 {
		t.Fatalf("len=%d dim=%d", f.Len(), f.Dim())
	}

	hits, err := f.Search(context.Background(), []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Record.Name != "Sushi Zen" {
		t.Errorf("top = %s", hits[0].Record.Name)
	}
}

func TestLoadSnapshotMissingEmbedding(t *testing.T) {
	if _, err := LoadSnapshot(strings.NewReader(`{"name":"No Vec"}`)); err == nil {
		t.Fatal("want error for missing embedding")
	}
}
