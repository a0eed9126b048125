// Package domain defines core domain types, constants, and validation for the
// Gusto engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

import (
	"encoding/json"
	"math"
	"strings"
)

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// OpeningHours maps a lowercase English weekday name ("monday".."sunday") to
// a free-text schedule string, e.g. "12:00-22:00" or "closed".
type OpeningHours map[string]string

// Candidate is one venue as seen by the ranking pipeline. Candidates are
// created fresh per search call and never shared across queries.
type Candidate struct {
	// ID is the dedup key derived from the normalized name; not user-visible.
	ID string `json:"-"`
	// Name is the display string.
	Name string `json:"name"`
	// Description is the free text used as reranker input and for
	// cuisine/keyword matching.
	Description string `json:"description,omitempty"`
	// Tags are category strings (cuisine/venue types) in stored order.
	Tags []string `json:"tags,omitempty"`

	Address string `json:"address,omitempty"`

	// SemanticScore starts as the raw vector similarity and is overwritten
	// by the reranker's sigmoid-normalized score.
	SemanticScore float64 `json:"semantic_score"`

	Rating       *float64      `json:"rating,omitempty"`       // [1,5]
	ReviewCount  *int          `json:"review_count,omitempty"` // >= 0
	Price        string        `json:"price,omitempty"`        // free text, see rank.ParsePriceRange
	Coordinates  *Coordinates  `json:"coordinates,omitempty"`
	OpeningHours OpeningHours  `json:"opening_hours,omitempty"`

	// DistanceKm is +Inf until computed against a user location.
	DistanceKm float64 `json:"-"`
	// FinalScore is the fused ranking key, computed once per query.
	FinalScore float64 `json:"final_score"`
}

// MarshalJSON emits distance_km only once it has been computed; the +Inf
// sentinel has no JSON representation.
func (c Candidate) MarshalJSON() ([]byte, error) {
	type alias Candidate
	out := struct {
		alias
		DistanceKm *float64 `json:"distance_km,omitempty"`
	}{alias: alias(c)}
	if !math.IsInf(c.DistanceKm, 0) {
		out.DistanceKm = &c.DistanceKm
	}
	return json.Marshal(out)
}

// DedupKey normalizes a venue name into the dedup/identity key.
func DedupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// VenueRecord is the stored projection of a venue: the enriched record kept
// alongside its embedding in the index backend.
type VenueRecord struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Address      string       `json:"address,omitempty"`
	Rating       *float64     `json:"rating,omitempty"`
	ReviewCount  *int         `json:"review_count,omitempty"`
	Price        string       `json:"price,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	OpeningHours OpeningHours `json:"opening_hours,omitempty"`
	// Embedding is present in index snapshots, absent on the ingest wire
	// (the ingest pipeline computes it).
	Embedding []float32 `json:"embedding,omitempty"`
}

// Candidate projects the record into a fresh pipeline candidate.
func (r VenueRecord) Candidate() Candidate {
	return Candidate{
		ID:           DedupKey(r.Name),
		Name:         r.Name,
		Description:  r.Description,
		Tags:         r.Tags,
		Address:      r.Address,
		Rating:       r.Rating,
		ReviewCount:  r.ReviewCount,
		Price:        r.Price,
		Coordinates:  r.Coordinates,
		OpeningHours: r.OpeningHours,
		DistanceKm:   math.Inf(1),
	}
}

// Hit is a single vector search result: the stored record and its raw
// similarity score (inner product of normalized vectors, unnormalized range).
type Hit struct {
	Record VenueRecord
	Score  float64
}
