// Package llm defines the narrow chat-completion and embedding contracts
// the rest of archreview depends on, plus concrete provider bindings.
package llm

import "context"

// ChatMessage is one turn of a chat-completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// Roles accepted in ChatMessage.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatCompleter is the narrow interface Analysis Agents and the Report
// Aggregator use to call an LLM for reasoning tasks (spec.md §4.8, §4.10).
// Implementations do not retry or rate-limit; that is the resilience
// layer's job (internal/resilience).
type ChatCompleter interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Embedder is the narrow interface the Embedding Client uses to turn text
// into vectors (spec.md §4.4).
type Embedder interface {
	// Embed returns one vector per input text, in order. Implementations
	// must return an error rather than a partial result if any input fails.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the fixed vector width this embedder produces.
	Dimension() int
}
