package assist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/intent"
	"github.com/tastegraph/gusto-engine/engine/rank"
	"github.com/tastegraph/gusto-engine/pkg/ollama"
)

// scripted chat model: answers the intent prompt first, then the expansion
// prompt, per Respond call.
type scriptedChat struct {
	replies []string
	i       int
}

func (s *scriptedChat) Chat(_ context.Context, _ []ollama.Message, _ float64) (string, error) {
	if s.i >= len(s.replies) {
		return "", errors.New("script exhausted")
	}
	r := s.replies[s.i]
	s.i++
	return r, nil
}

type mockSearcher struct {
	res     *rank.Result
	err     error
	lastReq rank.Request
}

func (m *mockSearcher) Search(_ context.Context, req rank.Request) (*rank.Result, error) {
	m.lastReq = req
	return m.res, m.err
}

type mockGeocoder struct {
	coords domain.Coordinates
	err    error
	last   string
}

func (m *mockGeocoder) Resolve(_ context.Context, place string) (domain.Coordinates, error) {
	m.last = place
	return m.coords, m.err
}

func newAssistant(chat *scriptedChat, searcher Searcher, geocoder *mockGeocoder, opts Options) *Assistant {
	analyzer := intent.NewAnalyzer(chat, "Lodz", nil)
	return New(analyzer, searcher, geocoder, opts, nil)
}

func venue(name string) domain.Candidate {
	r := 4.5
	n := 120
	return domain.Candidate{
		Name:        name,
		Address:     "Piotrkowska 10, Lodz",
		Rating:      &r,
		ReviewCount: &n,
		Price:       "$$",
		DistanceKm:  1.25,
	}
}

func TestRespondChitchat(t *testing.T) {
	chat := &scriptedChat{replies: []string{`{"intent":"chitchat"}`}}
	a := newAssistant(chat, &mockSearcher{}, &mockGeocoder{}, Options{})

	got, err := a.Respond(context.Background(), "hi!")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(got, "what you feel like eating") {
		t.Fatalf("got %q", got)
	}
}

func TestRespondSearchFlow(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		`{"intent":"recommendation","location":"Manufaktura","cuisine":"sushi","price":"cheap"}`,
		`"sushi bar, japanese cuisine. Offering: Sushi. Character: Casual."`,
	}}
	searcher := &mockSearcher{res: &rank.Result{Candidates: []domain.Candidate{venue("Sushi Bar")}}}
	geocoder := &mockGeocoder{coords: domain.Coordinates{Lat: 51.78, Lon: 19.45}}
	a := newAssistant(chat, searcher, geocoder, Options{})

	got, err := a.Respond(context.Background(), "cheap sushi near Manufaktura")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if geocoder.last != "Manufaktura" {
		t.Fatalf("geocoded %q", geocoder.last)
	}
	if searcher.lastReq.Cuisine != "sushi" || searcher.lastReq.Price != "cheap" {
		t.Fatalf("search request %+v", searcher.lastReq)
	}
	if searcher.lastReq.UserLocation == nil || searcher.lastReq.UserLocation.Lat != 51.78 {
		t.Fatalf("location not threaded into the search: %+v", searcher.lastReq.UserLocation)
	}
	if !strings.Contains(searcher.lastReq.Query, "sushi bar") {
		t.Fatalf("expanded query not used: %q", searcher.lastReq.Query)
	}
	if !strings.Contains(got, "Sushi Bar") || !strings.Contains(got, "near Manufaktura") {
		t.Fatalf("reply %q", got)
	}
}

func TestRespondAsksForLocationOnce(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		`{"intent":"recommendation","cuisine":"pizza"}`,
		`{"intent":"recommendation","cuisine":"pizza"}`,
		`"pizzeria. Offering: Pizza. Character: Casual."`,
	}}
	searcher := &mockSearcher{res: &rank.Result{Candidates: []domain.Candidate{venue("Pizza Spot")}}}
	a := newAssistant(chat, searcher, &mockGeocoder{}, Options{AskForLocation: true})

	first, err := a.Respond(context.Background(), "pizza")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(first, "Which part of town") {
		t.Fatalf("expected a location prompt, got %q", first)
	}

	second, err := a.Respond(context.Background(), "anywhere")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(second, "Pizza Spot") {
		t.Fatalf("second reply should search, got %q", second)
	}
	if searcher.lastReq.UserLocation != nil {
		t.Fatal("anywhere must not invent a location")
	}
}

func TestRespondRelaxedMessaging(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		`{"intent":"recommendation","cuisine":"ethiopian"}`,
		`NONE`,
	}}
	searcher := &mockSearcher{res: &rank.Result{
		Candidates: []domain.Candidate{venue("Fallback Bistro")},
		Relaxed:    rank.Relaxation{Cuisine: true},
	}}
	a := newAssistant(chat, searcher, &mockGeocoder{}, Options{})

	got, err := a.Respond(context.Background(), "ethiopian food")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(got, "Nothing matched that cuisine") {
		t.Fatalf("missing relaxation notice: %q", got)
	}
}

func TestRespondBackendDownIsGraceful(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		`{"intent":"recommendation"}`,
		`NONE`,
	}}
	searcher := &mockSearcher{err: domain.ErrIndexUnavailable}
	a := newAssistant(chat, searcher, &mockGeocoder{}, Options{})

	got, err := a.Respond(context.Background(), "ramen")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(got, "try again") {
		t.Fatalf("got %q", got)
	}
}

func TestRespondEmptyResults(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		`{"intent":"recommendation"}`,
		`NONE`,
	}}
	searcher := &mockSearcher{res: &rank.Result{}}
	a := newAssistant(chat, searcher, &mockGeocoder{}, Options{})

	got, err := a.Respond(context.Background(), "deep sea anglerfish tasting menu")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(got, "couldn't find anything") {
		t.Fatalf("got %q", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	replies := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		replies = append(replies, `{"intent":"chitchat","direct":""}`)
	}
	chat := &scriptedChat{replies: replies}
	a := newAssistant(chat, &mockSearcher{}, &mockGeocoder{}, Options{})

	for i := 0; i < 20; i++ {
		if _, err := a.Respond(context.Background(), "hello"); err != nil {
			t.Fatalf("Respond: %v", err)
		}
	}
	if len(a.history) > maxHistory {
		t.Fatalf("history grew to %d, cap is %d", len(a.history), maxHistory)
	}
}

func TestFormatCandidates(t *testing.T) {
	c := venue("Trattoria Roma")
	c.Tags = []string{"italian", "pasta"}
	c.OpeningHours = domain.OpeningHours{"wednesday": "12:00-22:00"}

	got := formatCandidatesAt([]domain.Candidate{c}, time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC))
	for _, want := range []string{"1. Trattoria Roma", "italian, pasta", "Piotrkowska 10", "(1.25 km)", "4.5/5.0", "120 reviews", "Price: $$", "Open now"} {
		if !strings.Contains(got, want) {
			t.Fatalf("formatted output missing %q:\n%s", want, got)
		}
	}
}

func TestShortAddress(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Piotrkowska 10, Lodz, Poland", "Piotrkowska 10"},
		{"26, Kasprzaka, Lodz", "Kasprzaka 26"},
		{"Manufaktura", "Manufaktura"},
	}
	for _, tc := range cases {
		if got := shortAddress(tc.in); got != tc.want {
			t.Fatalf("shortAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
