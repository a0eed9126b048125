package geo

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

func TestDistanceKm(t *testing.T) {
	// Lodz city centre to Manufaktura, roughly 1.5 km.
	center := domain.Coordinates{Lat: 51.7592, Lon: 19.4560}
	manufaktura := domain.Coordinates{Lat: 51.7796, Lon: 19.4470}

	d := DistanceKm(center, manufaktura)
	if d < 2.0 || d > 2.6 {
		t.Errorf("DistanceKm = %.3f, want ~2.3", d)
	}

	if got := DistanceKm(center, center); got != 0 {
		t.Errorf("distance to self = %v, want 0", got)
	}

	// Symmetric.
	if d2 := DistanceKm(manufaktura, center); math.Abs(d-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", d, d2)
	}
}

func TestCandidateDistanceUnknownCoords(t *testing.T) {
	user := domain.Coordinates{Lat: 51.76, Lon: 19.45}
	c := &domain.Candidate{Name: "no coords"}
	if d := CandidateDistanceKm(user, c); !math.IsInf(d, 1) {
		t.Errorf("distance without coordinates = %v, want +Inf", d)
	}
}

func TestNominatimResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Manufaktura, Lodz, Poland" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`[{"lat":"51.7796","lon":"19.4470"}]`))
	}))
	defer srv.Close()

	g := NewNominatim(srv.URL, "gusto-engine-test", "Lodz, Poland")
	coords, err := g.Resolve(context.Background(), "Manufaktura")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if coords.Lat != 51.7796 || coords.Lon != 19.4470 {
		t.Errorf("coords = %+v", coords)
	}
}

func TestNominatimResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewNominatim(srv.URL, "gusto-engine-test", "")
	if _, err := g.Resolve(context.Background(), "nowhere at all"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
