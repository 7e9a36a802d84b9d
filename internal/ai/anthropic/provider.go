// Package anthropic implements models.GenProvider against the Anthropic
// messages API.
package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	maxTokens        = 4096
)

// Provider implements models.GenProvider using Anthropic.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Generate(ctx context.Context, req models.GenRequest) (models.GenResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	// No native JSON-schema constraint on the messages API: fold the schema
	// into a system instruction instead.
	body := messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Schema != nil {
		body.System = "Respond with a single JSON object conforming to this JSON Schema, with no surrounding prose:\n" + string(req.Schema)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return models.GenResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return models.GenResponse{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

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

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return models.GenResponse{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return models.GenResponse{}, fmt.Errorf("%w: no text content", models.ErrInvalidResponse)
	}

	return models.GenResponse{
		Text: text.String(),
		Usage: models.TokenUsage{
			InputTokens:  msgResp.Usage.InputTokens,
			OutputTokens: msgResp.Usage.OutputTokens,
		},
	}, nil
}

// --- Anthropic request/response types ---

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

var _ models.GenProvider = (*Provider)(nil)
