// Package main implements the venue recommendation API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/tastegraph/gusto-engine/engine/assist"
	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/geo"
	"github.com/tastegraph/gusto-engine/engine/index"
	"github.com/tastegraph/gusto-engine/engine/ingest"
	"github.com/tastegraph/gusto-engine/engine/intent"
	"github.com/tastegraph/gusto-engine/engine/rank"
	"github.com/tastegraph/gusto-engine/engine/semantic"
	"github.com/tastegraph/gusto-engine/pkg/metrics"
	"github.com/tastegraph/gusto-engine/pkg/mid"
	"github.com/tastegraph/gusto-engine/pkg/natsutil"
	"github.com/tastegraph/gusto-engine/pkg/ollama"
	"github.com/tastegraph/gusto-engine/pkg/rerank"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	OllamaURL    string
	EmbedModel   string
	ChatModel    string
	RerankerURL  string
	IndexBackend string // "memory" or "qdrant"
	SnapshotPath string
	QdrantURL    string
	Collection   string
	City         string
	NominatimURL string
	CORSOrigin   string
	NATSURL      string
	TopK         int
	Gate         float64
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:    envOr("CHAT_MODEL", "llama3.1"),
		RerankerURL:  envOr("RERANKER_URL", "http://localhost:8081"),
		IndexBackend: envOr("INDEX_BACKEND", "memory"),
		SnapshotPath: envOr("SNAPSHOT_PATH", "data/venues.jsonl"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "venues"),
		City:         envOr("CITY", "Lodz, Poland"),
		NominatimURL: envOr("NOMINATIM_URL", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		NATSURL:      envOr("NATS_URL", ""),
		TopK:         envIntOr("TOP_K", 5),
		Gate:         envFloatOr("GATE_THRESHOLD", 0.15),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	encoder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	reranker := rerank.New(cfg.RerankerURL)

	// --- Retrieval backend ---
	var retriever rank.Retriever
	switch cfg.IndexBackend {
	case "qdrant":
		store, err := semantic.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer store.Close()
		retriever = store
		logger.Info("using qdrant index", "collection", cfg.Collection)
	case "memory":
		flat, err := index.LoadSnapshotFile(cfg.SnapshotPath)
		if err != nil {
			return fmt.Errorf("load snapshot %s: %w", cfg.SnapshotPath, err)
		}
		retriever = flat
		logger.Info("using in-memory index", "venues", flat.Len(), "dim", flat.Dim())
	default:
		return fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}

	rankSvc, err := rank.New(encoder, retriever, reranker, rank.Options{
		TopK:          cfg.TopK,
		GateThreshold: &cfg.Gate,
	}, logger)
	if err != nil {
		return err
	}

	chatModel := ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel)
	analyzer := intent.NewAnalyzer(chatModel, cfg.City, logger)
	geocoder := geo.NewNominatim(cfg.NominatimURL, "gusto-engine/1.0", cfg.City)
	sessions := newSessionStore(analyzer, rankSvc, geocoder, cfg.TopK, logger)

	reg := metrics.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/search", handleSearch(rankSvc, reg, logger))
	mux.HandleFunc("POST /api/chat", handleChat(sessions, reg, logger))
	mux.Handle("GET /metrics", reg.Handler())

	// Venue submission is on only when a message broker is configured;
	// the ingest worker picks records up from there.
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		mux.HandleFunc("POST /api/venues", handleSubmitVenue(nc, reg, logger))
		logger.Info("venue submission enabled", "subject", ingest.Subject)
	}

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("gusto-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

// writeJSON encodes v as the response body. An encode failure after the
// header is written cannot be reported to the client, so it is logged.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, slog.Default())
}

func handleSearch(svc *rank.Service, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	total := reg.Counter("search_requests_total", "Search requests received")
	failures := reg.Counter("search_failures_total", "Search requests that failed")
	latency := reg.Histogram("search_duration_seconds", "Search latency", metrics.DefaultBuckets)

	return func(w http.ResponseWriter, r *http.Request) {
		total.Inc()
		start := time.Now()
		defer latency.Since(start)

		var req rank.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		res, err := svc.Search(r.Context(), req)
		if err != nil {
			writeSearchError(w, err, failures, logger)
			return
		}

		writeJSON(w, http.StatusOK, res, logger)
	}
}

func writeSearchError(w http.ResponseWriter, err error, failures *metrics.Counter, logger *slog.Logger) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrQueryTooShort):
		http.Error(w, `{"error":"query must have at least 2 characters"}`, http.StatusBadRequest)
	case errors.Is(err, domain.ErrEncoderUnavailable),
		errors.Is(err, domain.ErrRerankerUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable):
		failures.Inc()
		logger.Error("search backend unavailable", "err", err)
		http.Error(w, `{"error":"search temporarily unavailable"}`, http.StatusServiceUnavailable)
	default:
		failures.Inc()
		logger.Error("search failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
	}
}

func handleSubmitVenue(nc *nats.Conn, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	submitted := reg.Counter("venues_submitted_total", "Venue records accepted for ingestion")
	rejected := reg.Counter("venues_rejected_total", "Venue submissions rejected by validation")

	return func(w http.ResponseWriter, r *http.Request) {
		var rec domain.VenueRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if err := domain.ValidateRecord(rec); err != nil {
			rejected.Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, logger)
			return
		}

		if err := natsutil.Publish(r.Context(), nc, ingest.Subject, rec); err != nil {
			logger.Error("venue publish failed", "err", err, "venue", rec.Name)
			http.Error(w, `{"error":"ingestion temporarily unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		submitted.Inc()
		logger.Info("venue queued for ingestion", "venue", rec.Name)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "venue": domain.DedupKey(rec.Name)}, logger)
	}
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func handleChat(sessions *sessionStore, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	total := reg.Counter("chat_requests_total", "Chat messages received")
	active := reg.Gauge("chat_sessions_active", "Live chat sessions")

	return func(w http.ResponseWriter, r *http.Request) {
		total.Inc()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
			return
		}

		id, a, created := sessions.get(req.SessionID)
		if created {
			active.Set(int64(sessions.len()))
		}

		reply, err := a.respond(r.Context(), req.Message)
		if err != nil {
			logger.Error("chat failed", "err", err, "session", id)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{SessionID: id, Reply: reply}, logger)
	}
}

// --- Sessions ---

// lockedAssistant serializes access to one conversation; the Assistant
// itself is not safe for concurrent use.
type lockedAssistant struct {
	mu sync.Mutex
	a  *assist.Assistant
}

func (l *lockedAssistant) respond(ctx context.Context, msg string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Respond(ctx, msg)
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*lockedAssistant
	next     int

	analyzer *intent.Analyzer
	searcher assist.Searcher
	geocoder geo.Geocoder
	topK     int
	logger   *slog.Logger
}

func newSessionStore(analyzer *intent.Analyzer, searcher assist.Searcher, geocoder geo.Geocoder, topK int, logger *slog.Logger) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*lockedAssistant),
		analyzer: analyzer,
		searcher: searcher,
		geocoder: geocoder,
		topK:     topK,
		logger:   logger,
	}
}

// get returns the session for id, creating one (with a fresh id when empty).
func (s *sessionStore) get(id string) (string, *lockedAssistant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if a, ok := s.sessions[id]; ok {
			return id, a, false
		}
	}
	if id == "" {
		s.next++
		id = fmt.Sprintf("s-%d-%d", time.Now().Unix(), s.next)
	}
	a := &lockedAssistant{a: assist.New(
		s.analyzer, s.searcher, s.geocoder,
		assist.Options{TopK: s.topK, AskForLocation: true},
		s.logger,
	)}
	s.sessions[id] = a
	return id, a, true
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
