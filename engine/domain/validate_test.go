package domain

import (
	"errors"
	"math"
	"testing"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestValidateQuery(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		wantErr error
	}{
		{"ok", "pizza near the station", nil},
		{"empty", "", ErrInvalidQuery},
		{"whitespace", "   ", ErrInvalidQuery},
		{"too short", "a", ErrQueryTooShort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateQuery(tc.query)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateQuery(%q) = %v, want nil", tc.query, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateQuery(%q) = %v, want %v", tc.query, err, tc.wantErr)
			}
		})
	}
}

func TestValidateRecord(t *testing.T) {
	ok := VenueRecord{Name: "Trattoria Roma", Rating: f64(4.5), ReviewCount: intp(120)}
	if err := ValidateRecord(ok); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	bad := []VenueRecord{
		{Name: ""},
		{Name: "X", Rating: f64(0.5)},
		{Name: "X", Rating: f64(5.5)},
		{Name: "X", ReviewCount: intp(-1)},
		{Name: "X", Coordinates: &Coordinates{Lat: 95, Lon: 0}},
		{Name: "X", Coordinates: &Coordinates{Lat: 0, Lon: 200}},
	}
	for _, rec := range bad {
		if err := ValidateRecord(rec); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("ValidateRecord(%+v) = %v, want ErrInvalidRecord", rec, err)
		}
	}
}

func TestDedupKey(t *testing.T) {
	if got := DedupKey("  Trattoria ROMA "); got != "trattoria roma" {
		t.Fatalf("DedupKey = %q", got)
	}
}

func TestCandidateProjection(t *testing.T) {
	rec := VenueRecord{Name: " Bistro Nord ", Description: "french bistro", Tags: []string{"french"}}
	c := rec.Candidate()
	if c.ID != "bistro nord" {
		t.Errorf("ID = %q, want %q", c.ID, "bistro nord")
	}
	if !math.IsInf(c.DistanceKm, 1) {
		t.Errorf("DistanceKm = %v, want +Inf", c.DistanceKm)
	}
	if c.FinalScore != 0 {
		t.Errorf("FinalScore = %v, want 0", c.FinalScore)
	}
}
