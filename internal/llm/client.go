// Package llm provides the client abstraction for the language-model
// collaborators used by the pipeline (classification, extraction, ranking)
// and for the text embeddings consumed by entity resolution.
//
// The interface is provider-agnostic; the pipeline stages depend on it so
// tests can substitute deterministic fakes without network access.
package llm

import "context"

// ChatMessage is a single turn handed to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-agnostic completion call.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	// JSONOutput asks the provider to constrain the reply to a JSON object.
	JSONOutput bool
}

// CompletionResponse is the provider-agnostic completion result.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface the pipeline stages consume.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name.
	Name() string
}
