package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	UpsertGenerationResult(ctx context.Context, rec *models.GenerationRecord) error
	GetGenerationResult(ctx context.Context, dateKey string) (*models.GenerationRecord, error)
	ListGenerationResults(ctx context.Context, limit int) ([]*models.GenerationRecord, error)

	SaveUsageSession(ctx context.Context, session *models.UsageSession) error
	GetUsageSession(ctx context.Context, id uuid.UUID) (*models.UsageSession, error)
	ListUsageSessions(ctx context.Context, limit int) ([]*models.UsageSession, error)
}
