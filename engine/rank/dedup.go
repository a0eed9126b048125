package rank

import (
	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/pkg/fn"
)

// Deduplicate collapses hits onto unique venues by normalized name, keeping
// the first (highest-similarity) occurrence of each, and projects them into
// mutable candidates.
func Deduplicate(hits []domain.Hit) []domain.Candidate {
	unique := fn.UniqueBy(hits, func(h domain.Hit) string {
		return domain.DedupKey(h.Record.Name)
	})
	return fn.Map(unique, func(h domain.Hit) domain.Candidate {
		c := h.Record.Candidate()
		c.SemanticScore = h.Score
		return c
	})
}
