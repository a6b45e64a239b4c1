package lattix

import "context"

// ModelRequest is one inference call. The agent loop builds the prompt as a
// single string; System carries the role preamble when one applies.
type ModelRequest struct {
	System string
	Prompt string
	// Label names the calling role ("selector", "synthesizer") for logs
	// and observability.
	Label string
	// ConversationID correlates model calls with the conversation that
	// triggered them.
	ConversationID string
}

// Usage tracks token consumption for one or more model calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ModelResponse is the raw text a provider returned, plus usage.
type ModelResponse struct {
	Content string
	Usage   Usage
}

// ModelProvider abstracts a language-model endpoint. The agent loop uses
// two: a fast deterministic Selector for choosing tools, and a
// higher-quality Synthesizer for composing the final answer. Both may fail
// with retryable (ErrHTTP 429/503) or fatal errors.
type ModelProvider interface {
	Chat(ctx context.Context, req ModelRequest) (ModelResponse, error)
	// Name returns the provider name for logs (e.g. "openai").
	Name() string
}
