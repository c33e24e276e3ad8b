package domain

import "context"

// Prompt is the assembled input for the generation model.
type Prompt struct {
	System string
	User   string
}

// GenerationResult carries the full answer text and token usage.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Fragment is one element of an incremental generation sequence.
// A failed stream delivers exactly one terminal fragment with Err set;
// a successful stream simply closes after the last text fragment, so channel
// close is the end marker and Err is the distinct error marker.
type Fragment struct {
	Text string
	Err  error
}

// Generator is the text generation contract between layers.
// GenerateStream must never leave a sequence half-open: the returned channel
// is always closed, after either the last fragment or a terminal error
// fragment, and cancelling ctx stops the upstream call.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (GenerationResult, error)
	GenerateStream(ctx context.Context, prompt Prompt) (<-chan Fragment, error)
}
