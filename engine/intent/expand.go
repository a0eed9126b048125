package intent

import (
	"context"
	"strings"

	"github.com/tastegraph/gusto-engine/pkg/ollama"
)

const expandSystemPrompt = `Your task is to write a hypothetical description of the ideal restaurant matching the user's request.
Do NOT invent a restaurant name, address, or rating. Do NOT list places. Do NOT write introductions.
Focus only on cuisine type, atmosphere, and offering.

Required format:
"[Cuisine/venue type]. Offering: [dishes/drinks]. Character: [atmosphere/occasion]."

Avoid naming specific dishes unless the user asks for them; use general categories ("soups", "meat dishes", "polish cuisine").
List AT MOST 3 offering categories.

Examples:
User: "Looking for cheap pizza for a date downtown"
Assistant: "pizzeria, italian cuisine. Offering: Pizza. Character: Romantic atmosphere, Intimate."

User: "Where for a quick coffee and cake?"
Assistant: "cafe, patisserie. Offering: Coffee, Good desserts, Quick snack. Character: Casual atmosphere."

User: "how are you?"
Assistant: "NONE"

If the user is not looking for food or a venue (e.g. "Hi", "What's up?"), return "NONE".`

// ExpandQuery rewrites the user's request into a hypothetical venue
// description that embeds better than the raw message. It returns an empty
// string when the message has no search goal, and falls back to the raw
// message when the model is unavailable.
func (a *Analyzer) ExpandQuery(ctx context.Context, history []ollama.Message, userMessage string) string {
	messages := make([]ollama.Message, 0, len(history)+2)
	messages = append(messages, ollama.Message{Role: "system", Content: expandSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, ollama.Message{Role: "user", Content: "CURRENT MESSAGE: " + userMessage})

	raw, err := a.llm.Chat(ctx, messages, 0.4)
	if err != nil {
		a.logger.Warn("query expansion unavailable, using raw message", "error", err)
		return userMessage
	}
	query := strings.TrimSpace(strings.ReplaceAll(raw, `"`, ""))
	if strings.Contains(strings.ToUpper(query), "NONE") || len(query) < 2 {
		return ""
	}
	a.logger.Debug("expanded query", "query", query)
	return query
}
