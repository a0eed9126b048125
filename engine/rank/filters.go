package rank

import (
	"strings"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/pkg/fn"
)

// cuisine phrasings often carry filler that no venue text contains verbatim.
var cuisineStopwords = map[string]bool{
	"cuisine": true,
	"food":    true,
}

// cuisineTokens splits a cuisine preference into meaningful lowercase tokens.
// Generic filler and very short fragments are dropped.
func cuisineTokens(pref string) []string {
	fields := strings.Fields(strings.ToLower(pref))
	return fn.Filter(fields, func(tok string) bool {
		return len(tok) > 2 && !cuisineStopwords[tok]
	})
}

// matchesCuisine reports whether any token appears in the candidate's name,
// description, or tags.
func matchesCuisine(c domain.Candidate, tokens []string) bool {
	hay := strings.ToLower(c.Name + " " + c.Description + " " + strings.Join(c.Tags, " "))
	for _, tok := range tokens {
		if strings.Contains(hay, tok) {
			return true
		}
	}
	return false
}

// FilterCuisine keeps candidates matching the cuisine preference. The filter
// fails open: when nothing matches (or the preference reduces to no usable
// tokens), the pool is returned untouched and kept is false.
func FilterCuisine(pool []domain.Candidate, pref string) (out []domain.Candidate, kept bool) {
	tokens := cuisineTokens(pref)
	if len(tokens) == 0 {
		return pool, false
	}
	filtered := fn.Filter(pool, func(c domain.Candidate) bool {
		return matchesCuisine(c, tokens)
	})
	if len(filtered) == 0 {
		return pool, false
	}
	return filtered, true
}

// FilterPrice keeps candidates whose price bracket overlaps the preference.
// A candidate also matches when the raw preference text appears verbatim in
// its price string, which covers exotic formats neither side can parse.
// Like the cuisine filter it fails open on an empty match.
func FilterPrice(pool []domain.Candidate, pref string) (out []domain.Candidate, kept bool) {
	want, haveWant := ParsePriceRange(pref)
	prefLower := strings.ToLower(strings.TrimSpace(pref))

	filtered := fn.Filter(pool, func(c domain.Candidate) bool {
		if haveWant {
			if have, ok := ParsePriceRange(c.Price); ok && want.Overlaps(have) {
				return true
			}
		}
		return c.Price != "" && prefLower != "" &&
			strings.Contains(strings.ToLower(c.Price), prefLower)
	})
	if len(filtered) == 0 {
		return pool, false
	}
	return filtered, true
}
