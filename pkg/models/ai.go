package models

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors every GenProvider implementation classifies its failures
// into. Callers match with errors.Is.
var (
	ErrProviderUnavailable = errors.New("generation provider unavailable")
	ErrGenerationTimeout   = errors.New("generation timeout")
	ErrInvalidResponse     = errors.New("generation provider returned invalid response")
)

// GenProvider is the core interface every generation backend must implement.
// Never call a specific provider directly — always inject this interface.
type GenProvider interface {
	// Generate produces free-text or schema-constrained output for a prompt.
	Generate(ctx context.Context, req GenRequest) (GenResponse, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
}

// GenRequest is the input to a generation call.
type GenRequest struct {
	Prompt string
	Model  string
	// Schema, when non-nil, asks the provider for JSON output constrained to
	// this JSON Schema. Providers without native schema support include it in
	// the prompt instead.
	Schema json.RawMessage
}

// GenResponse is the raw output of a generation call, before any parsing.
type GenResponse struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage is the provider-reported token accounting for a single call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
