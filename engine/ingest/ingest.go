// Package ingest processes venue records through validation, enrichment,
// embedding, and vector-store upsert, consumed from NATS with retry and
// dead-letter support.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/pkg/fn"
	"github.com/tastegraph/gusto-engine/pkg/resilience"
)

const (
	// Subject is the NATS subject for incoming venue records.
	Subject = "venues.ingest"
	// DLQSubject receives records that keep failing.
	DLQSubject = "venues.ingest.dlq"
	// MaxRetries before a record goes to the DLQ.
	MaxRetries = 3
)

// Encoder embeds venue descriptions.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Store persists embedded venue records.
// semantic.VectorStore satisfies it.
type Store interface {
	Upsert(ctx context.Context, records []domain.VenueRecord, embeddings [][]float32) error
}

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Encoder Encoder
	Store   Store
	// ExistsF reports whether a venue is already ingested, keyed by dedup
	// key. Optional.
	ExistsF func(ctx context.Context, key string) (bool, error)
	// Retry bounds transient encoder failures before the record is
	// re-queued by the consumer. Zero value disables in-pipeline retries.
	Retry fn.RetryOpts
	// Limiter throttles encoder calls. Optional.
	Limiter *resilience.Limiter
	Logger  *slog.Logger
}

// --- Pipeline stages ---

// Validate rejects records that would poison ranking downstream.
var Validate fn.Stage[domain.VenueRecord, domain.VenueRecord] = func(_ context.Context, rec domain.VenueRecord) fn.Result[domain.VenueRecord] {
	if err := domain.ValidateRecord(rec); err != nil {
		return fn.Err[domain.VenueRecord](err)
	}
	return fn.Ok(rec)
}

// Enrich normalizes scraped fields: trimmed name, lowercase schedule keys,
// and an embedding text assembled from name, tags, and description.
var Enrich fn.Stage[domain.VenueRecord, domain.VenueRecord] = func(_ context.Context, rec domain.VenueRecord) fn.Result[domain.VenueRecord] {
	rec.Name = strings.TrimSpace(rec.Name)
	if len(rec.OpeningHours) > 0 {
		normalized := make(domain.OpeningHours, len(rec.OpeningHours))
		for day, hours := range rec.OpeningHours {
			normalized[strings.ToLower(strings.TrimSpace(day))] = strings.TrimSpace(hours)
		}
		rec.OpeningHours = normalized
	}
	return fn.Ok(rec)
}

// EmbedText is the text a venue is indexed under.
func EmbedText(rec domain.VenueRecord) string {
	parts := []string{rec.Name}
	if len(rec.Tags) > 0 {
		parts = append(parts, strings.Join(rec.Tags, ", "))
	}
	if rec.Description != "" {
		parts = append(parts, rec.Description)
	}
	return strings.Join(parts, ". ")
}

// NewEmbed creates the embedding stage. Records arriving with a precomputed
// embedding pass through untouched.
func NewEmbed(enc Encoder) fn.Stage[domain.VenueRecord, domain.VenueRecord] {
	return func(ctx context.Context, rec domain.VenueRecord) fn.Result[domain.VenueRecord] {
		if len(rec.Embedding) > 0 {
			return fn.Ok(rec)
		}
		vec, err := enc.Encode(ctx, EmbedText(rec))
		if err != nil {
			return fn.Errf[domain.VenueRecord]("embed venue %q: %w", rec.Name, err)
		}
		rec.Embedding = vec
		return fn.Ok(rec)
	}
}

// NewStore creates the upsert stage. It returns the venue's dedup key.
func NewStore(store Store) fn.Stage[domain.VenueRecord, string] {
	return func(ctx context.Context, rec domain.VenueRecord) fn.Result[string] {
		if err := store.Upsert(ctx, []domain.VenueRecord{rec}, [][]float32{rec.Embedding}); err != nil {
			return fn.Errf[string]("vector upsert %q: %w", rec.Name, err)
		}
		return fn.Ok(domain.DedupKey(rec.Name))
	}
}

// LoggedTap returns a pass-through stage that logs entry and exit with
// duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(_ context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline wires Validate, Enrich, Embed, and Store with logging taps.
func NewPipeline(deps Deps) fn.Stage[domain.VenueRecord, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	embedStage := NewEmbed(deps.Encoder)
	if deps.Retry.MaxAttempts > 1 {
		embedStage = fn.RetryStage(deps.Retry, embedStage)
	}
	if deps.Limiter != nil {
		embedStage = resilience.LimiterStageWait(deps.Limiter, embedStage)
	}

	validated := fn.Then(LoggedTap[domain.VenueRecord]("validate", log), Validate)
	enriched := fn.Then(validated, fn.Then(LoggedTap[domain.VenueRecord]("enrich", log), Enrich))
	embedded := fn.Then(enriched, fn.Then(LoggedTap[domain.VenueRecord]("embed", log), embedStage))
	stored := fn.Then(embedded, fn.Then(LoggedTap[domain.VenueRecord]("store", log), NewStore(deps.Store)))

	return stored
}

// dlqMessage is published on repeated failure.
type dlqMessage struct {
	Record  domain.VenueRecord `json:"record"`
	Error   string             `json:"error"`
	Retries int                `json:"retries"`
}

// StartConsumer subscribes to the ingest subject and runs every record
// through the pipeline, re-publishing failures with a retry counter and
// dead-lettering them once MaxRetries is reached.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var rec domain.VenueRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		if deps.ExistsF != nil {
			key := domain.DedupKey(rec.Name)
			exists, err := deps.ExistsF(ctx, key)
			if err != nil {
				log.Warn("ingest: dedup check failed", "error", err)
			} else if exists {
				log.Info("ingest: skipping duplicate", "venue", key)
				if msg.Reply != "" {
					_ = msg.Ack()
				}
				return
			}
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, rec)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"venue", rec.Name,
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Record: rec, Error: pipeErr.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(Subject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			key, _ := result.Unwrap()
			log.Info("ingest: success", "venue", key)
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
