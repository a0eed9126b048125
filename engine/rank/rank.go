// Package rank orchestrates the hybrid retrieval-and-ranking pipeline.
// A query is embedded, a candidate pool is retrieved from the vector index,
// deduplicated, narrowed by optional cuisine/price filters, re-scored by a
// cross-encoder, gated, and finally ordered by a weighted fusion of semantic,
// rating, popularity, and proximity signals.
package rank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/geo"
	"github.com/tastegraph/gusto-engine/engine/hours"
	"github.com/tastegraph/gusto-engine/pkg/fn"
)

// Encoder produces a fixed-dimension embedding for a text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Retriever performs top-n similarity search over the venue index.
// Results are ordered by similarity descending, ties stable.
type Retriever interface {
	Search(ctx context.Context, vector []float32, n int) ([]domain.Hit, error)
}

// Reranker jointly scores (query, text) pairs with a cross-encoder and
// returns one raw logit per text, in input order.
type Reranker interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Weights are the score-fusion coefficients. They must sum to 1.
type Weights struct {
	Semantic   float64 `json:"semantic"`
	Rating     float64 `json:"rating"`
	Popularity float64 `json:"popularity"`
	Proximity  float64 `json:"proximity"`
}

// DefaultWeights mirror the tuning of the reference deployment: the reranker
// acts as a relevance gate, so ordering leans on venue quality.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.35, Rating: 0.35, Popularity: 0.10, Proximity: 0.20}
}

// Validate checks that the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Semantic, w.Rating, w.Popularity, w.Proximity} {
		if v < 0 {
			return fmt.Errorf("rank: negative weight: %w", domain.ErrInvalidWeights)
		}
	}
	sum := w.Semantic + w.Rating + w.Popularity + w.Proximity
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("rank: weights sum to %.4f: %w", sum, domain.ErrInvalidWeights)
	}
	return nil
}

// DefaultGateThreshold is the relevance gate applied when Options leaves
// GateThreshold nil.
const DefaultGateThreshold = 0.15

// Options configures the pipeline behaviour.
type Options struct {
	// TopK is the default result count when a request leaves K unset.
	TopK int
	// GateThreshold drops candidates whose reranked score is at or below
	// it. Nil means DefaultGateThreshold; point at 0 to disable the gate
	// (reranked scores are strictly positive).
	GateThreshold *float64
	// PoolMultiplier sizes the retrieval pool as K x PoolMultiplier.
	PoolMultiplier int
	// CuisinePoolMultiplier replaces PoolMultiplier when a cuisine filter is
	// supplied, anticipating that filtering discards most of the pool.
	CuisinePoolMultiplier int
	Weights               Weights
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:                  5,
		PoolMultiplier:        10,
		CuisinePoolMultiplier: 20,
		Weights:               DefaultWeights(),
	}
}

// Request is one search invocation. All constraint fields are optional.
type Request struct {
	Query        string              `json:"query"`
	K            int                 `json:"k,omitempty"`
	UserLocation *domain.Coordinates `json:"user_location,omitempty"`
	Price        string              `json:"price,omitempty"`
	Cuisine      string              `json:"cuisine,omitempty"`
	// OpenNow keeps only venues open at search time.
	OpenNow bool `json:"open_now,omitempty"`
}

// Relaxation reports which fail-open filters reverted to the unfiltered pool.
type Relaxation struct {
	Cuisine bool `json:"cuisine"`
	Price   bool `json:"price"`
	Hours   bool `json:"hours"`
}

// Any reports whether any constraint was relaxed.
func (r Relaxation) Any() bool { return r.Cuisine || r.Price || r.Hours }

// Result is the ranked output of one search.
type Result struct {
	Candidates []domain.Candidate `json:"candidates"`
	Relaxed    Relaxation         `json:"relaxed"`
}

// Service owns the long-lived encoder, retriever, and reranker handles and
// runs the pipeline. It holds no per-query state; concurrent Search calls
// never share candidates.
type Service struct {
	encoder   Encoder
	retriever Retriever
	reranker  Reranker
	opts      Options
	gate      float64
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service. Zero-valued option fields fall back to defaults;
// invalid fusion weights are rejected.
func New(enc Encoder, retr Retriever, rer Reranker, opts Options, logger *slog.Logger) (*Service, error) {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	gate := DefaultGateThreshold
	if opts.GateThreshold != nil {
		gate = *opts.GateThreshold
	}
	if opts.PoolMultiplier <= 0 {
		opts.PoolMultiplier = def.PoolMultiplier
	}
	if opts.CuisinePoolMultiplier <= 0 {
		opts.CuisinePoolMultiplier = def.CuisinePoolMultiplier
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = def.Weights
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{encoder: enc, retriever: retr, reranker: rer, opts: opts, gate: gate, logger: logger, now: time.Now}, nil
}

// Search runs the full pipeline for one query. An empty candidate list is a
// valid terminal state (nothing semantically close); it is only returned when
// the retrieval stage itself found nothing, never because a secondary filter
// eliminated everything.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otel.Tracer("engine/rank").Start(ctx, "rank.Search")
	defer span.End()

	if err := domain.ValidateQuery(req.Query); err != nil {
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = s.opts.TopK
	}

	vector, err := s.encoder.Encode(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("rank: encode query: %w: %w", domain.ErrEncoderUnavailable, err)
	}

	poolSize := k * s.opts.PoolMultiplier
	if req.Cuisine != "" {
		poolSize = k * s.opts.CuisinePoolMultiplier
	}

	hits, err := s.retriever.Search(ctx, vector, poolSize)
	if err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("rank: retrieve: %w: %w", domain.ErrIndexUnavailable, err)
	}
	if len(hits) == 0 {
		return &Result{}, nil
	}

	pool := Deduplicate(hits)
	var relaxed Relaxation

	if req.Cuisine != "" {
		var kept bool
		pool, kept = FilterCuisine(pool, req.Cuisine)
		if !kept {
			relaxed.Cuisine = true
			s.logger.Info("cuisine filter matched nothing, relaxed", "cuisine", req.Cuisine)
		}
	}

	if req.Price != "" {
		var kept bool
		pool, kept = FilterPrice(pool, req.Price)
		if !kept {
			relaxed.Price = true
			s.logger.Info("price filter matched nothing, relaxed", "price", req.Price)
		}
	}

	if req.OpenNow {
		open := hours.FilterOpen(pool, s.now())
		if len(open) == 0 {
			relaxed.Hours = true
			s.logger.Info("open-now filter matched nothing, relaxed")
		} else {
			pool = open
		}
	}

	if err := s.rerank(ctx, req.Query, pool); err != nil {
		return nil, err
	}

	pool = fn.Filter(pool, func(c domain.Candidate) bool {
		return c.SemanticScore > s.gate
	})
	s.logger.Debug("relevance gate applied", "threshold", s.gate, "remaining", len(pool))

	s.score(pool, req.UserLocation)

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].FinalScore > pool[j].FinalScore })
	if len(pool) > k {
		pool = pool[:k]
	}

	return &Result{Candidates: pool, Relaxed: relaxed}, nil
}

// rerank replaces each candidate's coarse vector score with the cross-encoder
// judgment, mapped through a sigmoid into (0,1).
func (s *Service) rerank(ctx context.Context, query string, pool []domain.Candidate) error {
	if len(pool) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("engine/rank").Start(ctx, "rank.rerank")
	defer span.End()

	texts := fn.Map(pool, func(c domain.Candidate) string { return c.Description })
	logits, err := s.reranker.ScoreBatch(ctx, query, texts)
	if err != nil {
		return fmt.Errorf("rank: rerank: %w: %w", domain.ErrRerankerUnavailable, err)
	}
	if len(logits) != len(pool) {
		return fmt.Errorf("rank: rerank: got %d scores for %d candidates: %w",
			len(logits), len(pool), domain.ErrRerankerUnavailable)
	}
	for i := range pool {
		pool[i].SemanticScore = sigmoid(logits[i])
	}
	return nil
}

// score normalizes rating/popularity/proximity against the current pool and
// fuses them with the semantic score into FinalScore.
func (s *Service) score(pool []domain.Candidate, userLoc *domain.Coordinates) {
	maxDist := 0.0
	maxReviewsLog := math.Ln2 // keeps the popularity denominator defined

	for i := range pool {
		if userLoc != nil {
			pool[i].DistanceKm = geo.CandidateDistanceKm(*userLoc, &pool[i])
			if !math.IsInf(pool[i].DistanceKm, 1) && pool[i].DistanceKm > maxDist {
				maxDist = pool[i].DistanceKm
			}
		}
		if pool[i].ReviewCount != nil {
			if l := math.Log1p(float64(*pool[i].ReviewCount)); l > maxReviewsLog {
				maxReviewsLog = l
			}
		}
	}

	w := s.opts.Weights
	for i := range pool {
		c := &pool[i]

		// Missing rating is neutral, never zero.
		scoreRating := 0.5
		if c.Rating != nil {
			scoreRating = (*c.Rating - 1) / 4
		}

		scorePopularity := 0.0
		if c.ReviewCount != nil {
			scorePopularity = math.Log1p(float64(*c.ReviewCount)) / maxReviewsLog
		}

		// Distance plays no role when the user location is unknown.
		scoreProximity := 0.0
		if userLoc != nil && maxDist > 0 && !math.IsInf(c.DistanceKm, 1) {
			scoreProximity = 1 - c.DistanceKm/maxDist
		}

		c.FinalScore = w.Semantic*c.SemanticScore +
			w.Rating*scoreRating +
			w.Popularity*scorePopularity +
			w.Proximity*scoreProximity
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
