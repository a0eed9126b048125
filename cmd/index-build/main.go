// Command index-build embeds a venue dataset offline and writes a snapshot
// the in-memory index backend can load at startup. Embeddings come from an
// in-process ONNX model by default, so no services need to be running.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tastegraph/gusto-engine/engine/domain"
	"github.com/tastegraph/gusto-engine/engine/ingest"
	"github.com/tastegraph/gusto-engine/pkg/fn"
	"github.com/tastegraph/gusto-engine/pkg/hugotembed"
	"github.com/tastegraph/gusto-engine/pkg/ollama"
)

// batchEncoder is satisfied by both embedding backends.
type batchEncoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

const embedBatchSize = 32

func main() {
	_ = godotenv.Load()

	var (
		inPath   = flag.String("in", "data/venues.jsonl", "input venue dataset (JSONL)")
		outPath  = flag.String("out", "data/snapshot.jsonl", "output snapshot path")
		backend  = flag.String("backend", "hugot", "embedding backend: hugot or ollama")
		modelDir = flag.String("model-dir", "models", "hugot model cache directory")
		model    = flag.String("model", hugotembed.DefaultModel, "hugot model name")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		ollamaModel = flag.String("ollama-model", "nomic-embed-text", "Ollama embedding model")
		workers     = flag.Int("workers", 1, "concurrent embedding batches (ollama backend only)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(context.Background(), *inPath, *outPath, *backend, *modelDir, *model, *ollamaURL, *ollamaModel, *workers, log); err != nil {
		log.Error("index build failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, inPath, outPath, backend, modelDir, model, ollamaURL, ollamaModel string, workers int, log *slog.Logger) error {
	var enc batchEncoder
	switch backend {
	case "hugot":
		modelPath, err := hugotembed.PrepareModel(model, modelDir)
		if err != nil {
			return err
		}
		hugotEnc, err := hugotembed.New(modelPath)
		if err != nil {
			return err
		}
		defer hugotEnc.Close()
		enc = hugotEnc
		log.Info("embedding with local model", "model", model)
	case "ollama":
		enc = ollama.NewEmbedClient(ollamaURL, ollamaModel)
		log.Info("embedding with Ollama", "model", ollamaModel)
	default:
		return fmt.Errorf("unknown embedding backend %q", backend)
	}

	records, err := readDataset(inPath)
	if err != nil {
		return err
	}
	log.Info("dataset loaded", "venues", len(records))

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	// The ONNX session is single-threaded; only the HTTP backend gains
	// anything from concurrent batches.
	if backend == "hugot" {
		workers = 1
	}

	batches := fn.Chunk(records, embedBatchSize)
	results := fn.ParMapResult(batches, workers, func(batch []domain.VenueRecord) fn.Result[[][]float32] {
		texts := fn.Map(batch, ingest.EmbedText)
		embeddings, err := enc.EncodeBatch(ctx, texts)
		if err != nil {
			return fn.Errf[[][]float32]("embed batch: %w", err)
		}
		return fn.Ok(embeddings)
	})

	written := 0
	for bi, res := range results {
		embeddings, err := res.Unwrap()
		if err != nil {
			return err
		}
		batch := batches[bi]
		for i := range batch {
			batch[i].Embedding = embeddings[i]
			line, err := json.Marshal(batch[i])
			if err != nil {
				return err
			}
			w.Write(line)
			w.WriteByte('\n')
			written++
		}
		log.Info("progress", "embedded", written, "total", len(records))
	}

	if err := w.Flush(); err != nil {
		return err
	}
	log.Info("snapshot written", "path", outPath, "venues", written)
	return nil
}

// readDataset loads and validates venue records, skipping the invalid ones
// with a warning rather than failing the whole build.
func readDataset(path string) ([]domain.VenueRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []domain.VenueRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec domain.VenueRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := domain.ValidateRecord(rec); err != nil {
			slog.Warn("skipping invalid venue", "line", lineNo, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
