package assist

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/hours"
)

// FormatCandidates renders a ranked venue list as plain text, one numbered
// entry per venue with whichever metadata is present.
func FormatCandidates(candidates []domain.Candidate) string {
	return formatCandidatesAt(candidates, time.Now())
}

func formatCandidatesAt(candidates []domain.Candidate, now time.Time) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "   Cuisine: %s\n", strings.Join(c.Tags, ", "))
		}
		if c.Address != "" {
			b.WriteString("   Address: " + shortAddress(c.Address))
			if !math.IsInf(c.DistanceKm, 1) {
				fmt.Fprintf(&b, " (%.2f km)", c.DistanceKm)
			}
			b.WriteString("\n")
		}
		if c.Rating != nil {
			fmt.Fprintf(&b, "   Rating: %.1f/5.0", *c.Rating)
			if c.ReviewCount != nil {
				fmt.Fprintf(&b, " (%d reviews)", *c.ReviewCount)
			}
			b.WriteString("\n")
		}
		if c.Price != "" {
			fmt.Fprintf(&b, "   Price: %s\n", c.Price)
		}
		if len(c.OpeningHours) > 0 {
			if hours.Open(c.OpeningHours, now) {
				b.WriteString("   Open now\n")
			} else {
				b.WriteString("   Closed now\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// shortAddress trims a full geocoded address down to its street part. When
// the address leads with a bare house number the street segment follows it.
func shortAddress(address string) string {
	parts := strings.Split(address, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 1 && (isDigits(parts[0]) || len(parts[0]) < 3) {
		return parts[1] + " " + parts[0]
	}
	return parts[0]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
