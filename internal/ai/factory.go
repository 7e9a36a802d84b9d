// Package ai wires generation provider implementations behind the
// models.GenProvider interface.
package ai

import (
	"fmt"

	"github.com/sahanasridhar/medtimeline/internal/ai/anthropic"
	"github.com/sahanasridhar/medtimeline/internal/ai/openai"
	"github.com/sahanasridhar/medtimeline/internal/config"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// NewProvider constructs the appropriate generation provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.GenProvider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q: must be one of openai, anthropic", cfg.Provider)
	}
}
