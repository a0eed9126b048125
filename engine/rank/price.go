package rank

import (
	"regexp"
	"strconv"
	"strings"
)

// PriceRange is an inclusive per-person spend bracket.
type PriceRange struct {
	Low  int
	High int
}

// Overlaps reports whether the two brackets intersect.
func (p PriceRange) Overlaps(o PriceRange) bool {
	return max(p.Low, o.Low) <= min(p.High, o.High)
}

var (
	cheapWords = []string{"cheap", "budget", "inexpensive", "affordable", "economical"}
	midWords   = []string{"moderate", "medium", "mid-range", "midrange", "reasonable"}
	pricyWords = []string{"expensive", "upscale", "exclusive", "luxurious", "fancy", "fine dining"}

	digitsRe = regexp.MustCompile(`\d+`)
)

// ParsePriceRange interprets free-form price text as a bracket. Recognition
// order matters: budget keywords win over dollar signs, which win over bare
// numbers, so "cheap, under 100" stays in the cheap bracket.
func ParsePriceRange(text string) (PriceRange, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return PriceRange{}, false
	}

	containsAny := func(words []string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}
	switch {
	case containsAny(cheapWords):
		return PriceRange{0, 40}, true
	case containsAny(midWords):
		return PriceRange{40, 80}, true
	case containsAny(pricyWords):
		return PriceRange{80, 1000}, true
	}

	if n := strings.Count(s, "$"); n > 0 {
		switch {
		case n == 1:
			return PriceRange{0, 40}, true
		case n == 2:
			return PriceRange{40, 80}, true
		default:
			return PriceRange{80, 1000}, true
		}
	}

	nums := digitsRe.FindAllString(s, -1)
	if len(nums) == 0 {
		return PriceRange{}, false
	}
	lo, hi := -1, -1
	for _, raw := range nums {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if lo == -1 || n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	if lo == -1 {
		return PriceRange{}, false
	}
	return PriceRange{lo, hi}, true
}
