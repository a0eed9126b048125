// Package hugotembed runs a sentence-transformer embedding model in-process
// via hugot's pure-Go ONNX backend. It is the offline alternative to the
// Ollama embedding server, used by the index builder so batch jobs need no
// sidecar services.
package hugotembed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultModel produces 384-dimensional embeddings.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// PrepareModel ensures the model is present under modelDir, downloading it
// from the hub on first use, and returns the local model path.
func PrepareModel(modelName, modelDir string) (string, error) {
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := os.MkdirAll(modelDir, 0o755); err != nil {
			return "", fmt.Errorf("create model dir: %w", err)
		}
		opts := hugot.NewDownloadOptions()
		opts.OnnxFilePath = "onnx/model.onnx"
		downloaded, err := hugot.DownloadModel(modelName, modelDir, opts)
		if err != nil {
			return "", fmt.Errorf("download model %s: %w", modelName, err)
		}
		modelPath = downloaded
	}
	return modelPath, nil
}

// Encoder wraps a hugot feature-extraction pipeline.
type Encoder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// New loads the ONNX model at modelPath and prepares the pipeline.
// Close must be called to release the session.
func New(modelPath string) (*Encoder, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("hugot session: %w", err)
	}
	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "venue-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("hugot pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("hugot pipeline: %w", err)
	}
	return &Encoder{session: session, pipeline: pipeline}, nil
}

// Close releases the underlying ONNX session.
func (e *Encoder) Close() error {
	return e.session.Destroy()
}

// Encode embeds a single text.
func (e *Encoder) Encode(_ context.Context, text string) ([]float32, error) {
	result, err := e.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("hugot embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("hugot embed: no embedding produced")
	}
	return result.Embeddings[0], nil
}

// EncodeBatch embeds texts in one pipeline run.
func (e *Encoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("hugot embed batch: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("hugot embed batch: got %d embeddings for %d texts",
			len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}
