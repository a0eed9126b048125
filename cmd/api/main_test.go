package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/rank"
	"github.com/tastegraph/gusto-engine/pkg/metrics"
)

type stubEncoder struct{ err error }

func (s stubEncoder) Encode(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, s.err
}

type stubRetriever struct{ hits []domain.Hit }

func (s stubRetriever) Search(context.Context, []float32, int) ([]domain.Hit, error) {
	return s.hits, nil
}

type stubReranker struct{}

func (stubReranker) ScoreBatch(_ context.Context, _ string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i := range out {
		out[i] = 2
	}
	return out, nil
}

func testRankService(t *testing.T, hits []domain.Hit, encErr error) *rank.Service {
	t.Helper()
	svc, err := rank.New(stubEncoder{err: encErr}, stubRetriever{hits: hits}, stubReranker{}, rank.Options{}, slog.Default())
	if err != nil {
		t.Fatalf("rank.New: %v", err)
	}
	return svc
}

func TestHandleSearch(t *testing.T) {
	hits := []domain.Hit{
		{Record: domain.VenueRecord{Name: "Trattoria Roma", Description: "pasta"}, Score: 0.9},
	}
	h := handleSearch(testRankService(t, hits, nil), metrics.New(), slog.Default())

	req := httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"query":"pasta place","k":3}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	// A query without a user location leaves distances uncomputed; the
	// response must still be a decodable body, with distance_km absent.
	var res struct {
		Candidates []map[string]any `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("body not valid JSON: %v: %s", err, rec.Body.String())
	}
	if len(res.Candidates) != 1 || res.Candidates[0]["name"] != "Trattoria Roma" {
		t.Fatalf("body: %s", rec.Body.String())
	}
	if _, ok := res.Candidates[0]["distance_km"]; ok {
		t.Fatalf("distance_km must be omitted without a user location: %s", rec.Body.String())
	}
}

func TestHandleSearchBadRequests(t *testing.T) {
	h := handleSearch(testRankService(t, nil, nil), metrics.New(), slog.Default())

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader("{")))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status %d", rec.Code)
		}
	})

	t.Run("short query", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"query":"a"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status %d", rec.Code)
		}
	})
}

func TestHandleSearchBackendDown(t *testing.T) {
	h := handleSearch(testRankService(t, nil, context.DeadlineExceeded), metrics.New(), slog.Default())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"query":"pasta"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
}

func TestSessionStoreReuse(t *testing.T) {
	s := newSessionStore(nil, nil, nil, 5, slog.Default())

	id1, a1, created := s.get("")
	if !created || id1 == "" {
		t.Fatalf("fresh session: id=%q created=%v", id1, created)
	}
	id2, a2, created := s.get(id1)
	if created || id2 != id1 || a1 != a2 {
		t.Fatal("existing session must be reused")
	}
	if _, _, created := s.get("unknown-id"); !created {
		t.Fatal("unknown id must create a session")
	}
	if s.len() != 2 {
		t.Fatalf("sessions = %d, want 2", s.len())
	}
}

func TestHandleSubmitVenueRejectsInvalid(t *testing.T) {
	// Validation failures never reach the broker, so a nil conn is fine.
	h := handleSubmitVenue(nil, metrics.New(), slog.Default())

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"missing name", `{"rating":4.5}`},
		{"rating out of range", `{"name":"Trattoria","rating":9}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/venues", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rec.Code)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" || cfg.IndexBackend != "memory" || cfg.TopK != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
