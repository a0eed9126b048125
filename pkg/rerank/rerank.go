// Package rerank provides an HTTP client for a cross-encoder reranking
// service compatible with the text-embeddings-inference /rerank API.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/tastegraph/gusto-engine/pkg/resilience"
)

// Client scores (query, text) pairs against a remote cross-encoder. Calls go
// through a circuit breaker so a dead reranker fails fast instead of stalling
// every search.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
}

// New creates a reranker client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

type rerankReq struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	// RawScores asks for uncalibrated logits rather than softmax output.
	RawScores bool `json:"raw_scores"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ScoreBatch returns one raw logit per text, in input order. The service
// replies sorted by score, so responses are re-indexed before returning.
func (c *Client) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var hits []rerankHit
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		body, _ := json.Marshal(rerankReq{Query: query, Texts: texts, RawScores: true})
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("rerank request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			return fmt.Errorf("rerank: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
			return fmt.Errorf("rerank decode: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(hits) != len(texts) {
		return nil, fmt.Errorf("rerank: got %d scores for %d texts", len(hits), len(texts))
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Index < hits[j].Index })
	out := make([]float64, len(hits))
	for i, h := range hits {
		if h.Index != i {
			return nil, fmt.Errorf("rerank: missing score for text %d", i)
		}
		out[i] = h.Score
	}
	return out, nil
}
