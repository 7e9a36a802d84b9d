// Package source talks to the external clinical record gateway. The gateway
// owns raw record storage; this client only fetches and normalizes.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// Sentinel errors for record gateway failures.
var (
	ErrGatewayUnreachable = errors.New("record gateway unreachable")
	ErrGatewayQueryError  = errors.New("record gateway query error")
	ErrGatewayTimeout     = errors.New("record gateway timeout")
)

// Client is the interface for fetching records from the gateway.
type Client interface {
	// FetchCategory returns every record in a category. No ordering contract.
	FetchCategory(ctx context.Context, category string) ([]models.RawRecord, error)
	// Categories returns the category identifiers the gateway serves.
	Categories(ctx context.Context) ([]string, error)
	Ready(ctx context.Context) error
}

// HTTPClient implements Client against the gateway's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new gateway HTTP client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) FetchCategory(ctx context.Context, category string) ([]models.RawRecord, error) {
	u := fmt.Sprintf("%s/api/v1/records/%s", c.baseURL, url.PathEscape(category))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: category %s status %d", ErrGatewayQueryError, category, resp.StatusCode)
	}

	var recordsResp recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&recordsResp); err != nil {
		return nil, fmt.Errorf("decoding records response: %w", err)
	}

	if recordsResp.Data.Records == nil {
		return []models.RawRecord{}, nil
	}
	return recordsResp.Data.Records, nil
}

func (c *HTTPClient) Categories(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/api/v1/categories", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayQueryError, resp.StatusCode)
	}

	var categoriesResp categoriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&categoriesResp); err != nil {
		return nil, fmt.Errorf("decoding categories response: %w", err)
	}

	return categoriesResp.Data, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/ready", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway not ready (status %d)", ErrGatewayUnreachable, resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}

// --- gateway response types ---

type recordsResponse struct {
	Data recordsData `json:"data"`
}

type recordsData struct {
	Category string             `json:"category"`
	Records  []models.RawRecord `json:"records"`
}

type categoriesResponse struct {
	Data []string `json:"data"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
