// Package openai implements models.GenProvider against the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sahanasridhar/medtimeline/internal/config"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements models.GenProvider using OpenAI.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Provider{
		cfg: cfg,
		// The orchestrator owns the per-call deadline; this is a backstop.
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Generate(ctx context.Context, req models.GenRequest) (models.GenResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   "generation_result",
				Strict: true,
				Schema: req.Schema,
			},
		}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return models.GenResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return models.GenResponse{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.GenResponse{}, fmt.Errorf("%w: %v", models.ErrGenerationTimeout, err)
		}
		return models.GenResponse{}, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return models.GenResponse{}, fmt.Errorf("%w: status %d: %s",
			models.ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return models.GenResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return models.GenResponse{}, fmt.Errorf("%w: empty choices", models.ErrInvalidResponse)
	}

	return models.GenResponse{
		Text: chatResp.Choices[0].Message.Content,
		Usage: models.TokenUsage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

// --- OpenAI request/response types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

var _ models.GenProvider = (*Provider)(nil)
