// Package intent turns free-form user messages into structured search
// intents using a chat model, with a heuristic fallback so the pipeline
// still works when the model is down.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tastegraph/gusto-engine/pkg/ollama"
)

// ChatModel generates a completion for a message history.
// ollama.ChatClient satisfies it.
type ChatModel interface {
	Chat(ctx context.Context, messages []ollama.Message, temperature float64) (string, error)
}

// Kind classifies a user message.
type Kind string

const (
	// KindRecommendation asks for venues and should trigger a search.
	KindRecommendation Kind = "recommendation"
	// KindChitchat is small talk with no search goal.
	KindChitchat Kind = "chitchat"
)

// Intent is the structured reading of one user message in context.
type Intent struct {
	Kind     Kind   `json:"intent"`
	Location string `json:"location"`
	Cuisine  string `json:"cuisine"`
	Price    string `json:"price"`
	// DirectResponse is set when the model answered conversationally
	// instead of producing structured output; it is shown as-is.
	DirectResponse string `json:"-"`
}

// Analyzer extracts intents for venues in one city.
type Analyzer struct {
	llm    ChatModel
	city   string
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer biased to the given city.
func NewAnalyzer(llm ChatModel, city string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{llm: llm, city: city, logger: logger}
}

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

const analyzeSystemPrompt = `You are the intent extractor of a restaurant recommendation assistant for the city of %s.
Analyze the WHOLE conversation history to understand context (if the user asked about sushi earlier and now writes "in the centre", they want SUSHI in the centre).

Return a JSON object with the fields:
1. "intent": "recommendation" (looking for a venue, food preferences, questions about eating out) OR "chitchat" (greetings, thanks, casual talk with no search goal).
2. "location": the place mentioned, in %s, normalized to its official name. If absent or "anywhere", use null.
3. "cuisine": cuisine or dish type (e.g. "italian", "sushi"). If not in the current message, TAKE IT FROM HISTORY.
4. "price": one of "0-40", "40-80", "80-1000" or null.

RULES:
- "anywhere" for location means intent="recommendation" with location=null.
- Ignore any HTML in the history.
- Return ONLY the JSON object, no prose.`

// Analyze reads the user message against the conversation history.
// When the model replies conversationally instead of with JSON, the reply is
// passed through as a chitchat intent.
func (a *Analyzer) Analyze(ctx context.Context, history []ollama.Message, userMessage string) (Intent, error) {
	messages := make([]ollama.Message, 0, len(history)+2)
	messages = append(messages, ollama.Message{
		Role:    "system",
		Content: fmt.Sprintf(analyzeSystemPrompt, a.city, a.city),
	})
	messages = append(messages, history...)
	messages = append(messages, ollama.Message{Role: "user", Content: "CURRENT MESSAGE: " + userMessage})

	raw, err := a.llm.Chat(ctx, messages, 0.1)
	if err != nil {
		a.logger.Warn("intent model unavailable, using heuristic", "error", err)
		return Heuristic(userMessage), nil
	}
	return parseIntent(raw)
}

// parseIntent digs a JSON object out of the model output. Models wrap JSON in
// prose or markdown fences often enough that both are handled here.
func parseIntent(raw string) (Intent, error) {
	candidate := raw
	if m := jsonBlockRe.FindString(raw); m != "" {
		candidate = m
	} else {
		candidate = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(raw, "```json", ""), "```", ""))
	}

	var out Intent
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		// A short non-JSON reply is the model chatting back.
		if !strings.Contains(raw, "{") && len(raw) < 200 {
			return Intent{Kind: KindChitchat, DirectResponse: strings.TrimSpace(raw)}, nil
		}
		return Intent{}, fmt.Errorf("intent: parse model output: %w", err)
	}
	if out.Kind != KindRecommendation && out.Kind != KindChitchat {
		out.Kind = KindRecommendation
	}
	return out, nil
}

// Heuristic is the model-free fallback: every message is treated as a search
// with no extracted constraints.
func Heuristic(userMessage string) Intent {
	msg := strings.TrimSpace(userMessage)
	if msg == "" {
		return Intent{Kind: KindChitchat}
	}
	return Intent{Kind: KindRecommendation}
}
