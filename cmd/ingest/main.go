// Command ingest loads venue records into the vector store. Records arrive
// two ways: JSON files dropped into a watched directory, and messages on the
// NATS ingest subject.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/ingest"
	"github.com/tastegraph/gusto-engine/engine/semantic"
	"github.com/tastegraph/gusto-engine/pkg/fn"
	"github.com/tastegraph/gusto-engine/pkg/metrics"
	"github.com/tastegraph/gusto-engine/pkg/ollama"
	"github.com/tastegraph/gusto-engine/pkg/resilience"
)

var met = metrics.New()

var (
	mVenuesTotal    = met.Counter("gusto_ingest_venues_total", "Venues ingested")
	mErrorsTotal    = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("gusto_ingest_errors_total", "stage", stage), "Ingestion errors") }
	mVenuesSkipped  = met.Counter("gusto_ingest_venues_skipped_total", "Venues skipped by dedup")
	mFilesProcessed = met.Counter("gusto_ingest_files_processed_total", "Files processed")
	mActiveVenues   = met.Gauge("gusto_ingest_active_venues", "Currently processing venues")
	mLastScan       = met.Gauge("gusto_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mPipelineDur    = met.Histogram("gusto_ingest_pipeline_duration_seconds", "Per-venue pipeline time", nil)
)

const vectorDims = 768 // nomic-embed-text

func main() {
	_ = godotenv.Load()

	var (
		dataDir     = flag.String("dir", "data/incoming", "directory to watch for venue JSON files")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		ollamaModel = flag.String("model", "nomic-embed-text", "Ollama embedding model")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "venues", "Qdrant collection name")
		natsURL     = flag.String("nats", "", "NATS URL; empty disables the consumer")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile   = flag.String("state", "data/incoming/.ingest-state.json", "processed files state")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
		embedRPS    = flag.Float64("embed-rps", 8, "max embedding calls per second")
	)
	flag.Parse()

	met.ServeAsync(*metricsPort)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	vs, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, vectorDims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", vectorDims)

	embedder := ollama.NewEmbedClient(*ollamaURL, *ollamaModel)
	log.Info("using Ollama embeddings", "model", *ollamaModel)

	// In-process dedup; the store upsert is idempotent by venue name, so this
	// only saves embedding work within one run.
	var mu sync.Mutex
	seen := make(map[string]bool)

	deps := ingest.Deps{
		Encoder: embedder,
		Store:   vs,
		ExistsF: func(_ context.Context, key string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if seen[key] {
				mVenuesSkipped.Inc()
				return true, nil
			}
			seen[key] = true
			return false, nil
		},
		Retry:   fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 10 * time.Second, Jitter: true},
		Limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: *embedRPS, Burst: 2}),
		Logger:  log,
	}

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		sub, err := ingest.StartConsumer(nc, deps)
		if err != nil {
			log.Error("nats subscribe failed", "error", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
		log.Info("consuming venue records", "subject", ingest.Subject)
	}

	pipeline := ingest.NewPipeline(deps)
	processed := loadState(*stateFile)
	os.MkdirAll(*dataDir, 0o755)
	log.Info("watching for venue data", "dir", *dataDir, "interval", *interval)

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(*dataDir)
		if err != nil {
			mErrorsTotal("scan").Inc()
			log.Error("readdir failed", "error", err)
			return
		}

		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || name[0] == '.' ||
				(!strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".jsonl")) {
				continue
			}
			path := filepath.Join(*dataDir, name)
			info, _ := e.Info()
			key := fmt.Sprintf("%s:%d", name, info.Size())
			if processed[key] {
				continue
			}

			log.Info("processing file", "file", name)
			count, errs := processFile(ctx, path, pipeline)
			log.Info("file done", "file", name, "ingested", count, "errors", errs)
			mFilesProcessed.Inc()

			// Retried on the next scan while any record keeps failing.
			if errs == 0 {
				processed[key] = true
				saveState(*stateFile, processed)
			} else {
				log.Warn("file had errors, will retry on next scan", "file", name, "errors", errs)
			}
		}
	}

	scan()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// processFile decodes concatenated or line-delimited JSON venue records and
// runs each through the pipeline.
func processFile(ctx context.Context, path string, pipeline fn.Stage[domain.VenueRecord, string]) (int, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		mErrorsTotal("read").Inc()
		return 0, 1
	}

	var records []domain.VenueRecord
	dec := json.NewDecoder(strings.NewReader(string(data)))
	for {
		var rec domain.VenueRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		if rec.Name != "" {
			records = append(records, rec)
		}
	}

	count, errs := 0, 0
	log := slog.Default()
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		mActiveVenues.Inc()
		start := time.Now()
		result := pipeline(ctx, rec)
		mPipelineDur.Since(start)
		mActiveVenues.Dec()
		if result.IsErr() {
			_, err := result.Unwrap()
			log.Error("pipeline error", "venue", rec.Name, "error", err)
			mErrorsTotal("pipeline").Inc()
			errs++
		} else {
			mVenuesTotal.Inc()
			count++
		}
	}
	return count, errs
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}
