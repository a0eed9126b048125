// Package assist is the conversational layer over the search pipeline: it
// reads user intent, resolves locations, runs searches, and formats replies.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/geo"
	"github.com/tastegraph/gusto-engine/engine/intent"
	"github.com/tastegraph/gusto-engine/engine/rank"
	"github.com/tastegraph/gusto-engine/pkg/ollama"
)

// Searcher runs one ranked venue search. rank.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, req rank.Request) (*rank.Result, error)
}

// maxHistory bounds the stored conversation, counted in messages. Older
// turns beyond it stop influencing intent extraction.
const maxHistory = 12

// Options configures an Assistant.
type Options struct {
	// TopK is how many venues a reply lists.
	TopK int
	// AskForLocation makes the assistant request a location once before the
	// first search instead of silently ranking without proximity.
	AskForLocation bool
}

// Assistant drives one conversation. It is not safe for concurrent use;
// create one per session.
type Assistant struct {
	analyzer *intent.Analyzer
	searcher Searcher
	geocoder geo.Geocoder
	logger   *slog.Logger
	opts     Options

	history       []ollama.Message
	userLocation  *domain.Coordinates
	locationLabel string
	askedLocation bool
}

// New creates an Assistant.
func New(analyzer *intent.Analyzer, searcher Searcher, geocoder geo.Geocoder, opts Options, logger *slog.Logger) *Assistant {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		analyzer: analyzer,
		searcher: searcher,
		geocoder: geocoder,
		logger:   logger,
		opts:     opts,
	}
}

// Location returns the label and coordinates the conversation is anchored
// to, if any.
func (a *Assistant) Location() (string, *domain.Coordinates) {
	return a.locationLabel, a.userLocation
}

// Respond handles one user message and returns the assistant's reply.
func (a *Assistant) Respond(ctx context.Context, userMessage string) (string, error) {
	in, err := a.analyzer.Analyze(ctx, a.history, userMessage)
	if err != nil {
		return "", fmt.Errorf("assist: %w", err)
	}

	var reply string
	switch {
	case in.Kind == intent.KindChitchat && in.DirectResponse != "":
		reply = in.DirectResponse
	case in.Kind == intent.KindChitchat:
		reply = "Hi! Tell me what you feel like eating and I'll find a place."
	default:
		reply, err = a.recommend(ctx, in, userMessage)
		if err != nil {
			return "", err
		}
	}

	a.remember(userMessage, reply)
	return reply, nil
}

func (a *Assistant) recommend(ctx context.Context, in intent.Intent, userMessage string) (string, error) {
	if in.Location != "" {
		a.resolveLocation(ctx, in.Location)
	}
	if a.userLocation == nil && a.opts.AskForLocation && !a.askedLocation {
		a.askedLocation = true
		return "Which part of town should I look in? Name a street, district, or landmark, or say \"anywhere\".", nil
	}

	query := a.analyzer.ExpandQuery(ctx, a.history, userMessage)
	if query == "" {
		query = userMessage
	}

	req := rank.Request{
		Query:        query,
		K:            a.opts.TopK,
		UserLocation: a.userLocation,
		Cuisine:      in.Cuisine,
		Price:        in.Price,
	}
	res, err := a.searcher.Search(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrIndexUnavailable) ||
			errors.Is(err, domain.ErrEncoderUnavailable) ||
			errors.Is(err, domain.ErrRerankerUnavailable) {
			a.logger.Error("search backend unavailable", "error", err)
			return "Search is having trouble right now, please try again in a moment.", nil
		}
		return "", fmt.Errorf("assist: search: %w", err)
	}

	if len(res.Candidates) == 0 {
		return "I couldn't find anything matching that. Could you try different preferences?", nil
	}

	var b strings.Builder
	b.WriteString(a.headline(res.Relaxed))
	b.WriteString("\n\n")
	b.WriteString(FormatCandidates(res.Candidates))
	return b.String(), nil
}

func (a *Assistant) headline(relaxed rank.Relaxation) string {
	switch {
	case relaxed.Cuisine && relaxed.Price:
		return "Nothing matched that cuisine and price exactly, so here are the closest overall matches:"
	case relaxed.Cuisine:
		return "Nothing matched that cuisine exactly, so here are the closest overall matches:"
	case relaxed.Price:
		return "Nothing fit that budget exactly, so here are the closest overall matches:"
	case relaxed.Hours:
		return "Nothing matching is open right now, so here are the closest overall matches:"
	case a.locationLabel != "":
		return fmt.Sprintf("Here's what I found near %s:", a.locationLabel)
	default:
		return "Here's what I found:"
	}
}

// resolveLocation geocodes a place phrase and anchors the conversation to
// it. Failures are logged and ignored; ranking simply proceeds without
// proximity.
func (a *Assistant) resolveLocation(ctx context.Context, place string) {
	coords, err := a.geocoder.Resolve(ctx, place)
	if err != nil {
		a.logger.Warn("geocoding failed", "place", place, "error", err)
		return
	}
	a.userLocation = &coords
	a.locationLabel = place
}

func (a *Assistant) remember(userMessage, reply string) {
	a.history = append(a.history,
		ollama.Message{Role: "user", Content: userMessage},
		ollama.Message{Role: "assistant", Content: reply},
	)
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
}
