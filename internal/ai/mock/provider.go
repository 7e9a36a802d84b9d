// Package mock provides a models.GenProvider implementation for tests.
package mock

import (
	"context"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// MockProvider satisfies models.GenProvider for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenRequest) (models.GenResponse, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.GenRequest) (models.GenResponse, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenResponse{}, nil
}

// NewMockProvider returns a MockProvider that answers every request with a
// valid structured summary.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ models.GenRequest) (models.GenResponse, error) {
			return models.GenResponse{
				Text: `{"title":"Office visit","description":"Routine follow-up with stable labs.","icon_hint":"stethoscope","artifacts":[]}`,
				Usage: models.TokenUsage{
					InputTokens:  120,
					OutputTokens: 40,
				},
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenRequest) (models.GenResponse, error) {
			return models.GenResponse{}, err
		},
	}
}

// NewHangingProvider returns a MockProvider that blocks until its context is
// cancelled, then reports a timeout.
func NewHangingProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-hanging",
		GenerateFunc: func(ctx context.Context, _ models.GenRequest) (models.GenResponse, error) {
			<-ctx.Done()
			return models.GenResponse{}, models.ErrGenerationTimeout
		},
	}
}

// Compile-time check that MockProvider implements GenProvider.
var _ models.GenProvider = (*MockProvider)(nil)
