package models

import (
	"time"

	"github.com/google/uuid"
)

// Call kinds for usage accounting. Cache hits are recorded as "cached" with
// zero token cost so that hit rates stay visible in usage reports.
const (
	CallKindLive   = "live"
	CallKindCached = "cached"
)

// CallUsage is the accounting entry for one generation call.
type CallUsage struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	SessionID    uuid.UUID `db:"session_id"    json:"session_id"`
	DateKey      string    `db:"date_key"      json:"date_key"`
	Kind         string    `db:"kind"          json:"kind"`
	Model        string    `db:"model"         json:"model"`
	InputTokens  int       `db:"input_tokens"  json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}

// UsageSession aggregates the calls belonging to one logical user action.
// Sessions are append-only while open and immutable once closed.
type UsageSession struct {
	ID        uuid.UUID   `db:"id"         json:"id"`
	StartedAt time.Time   `db:"started_at" json:"started_at"`
	EndedAt   *time.Time  `db:"ended_at"   json:"ended_at,omitempty"`
	Calls     []CallUsage `db:"-"          json:"calls"`
}

// TotalTokens sums input and output tokens across all calls in the session.
func (s *UsageSession) TotalTokens() int {
	total := 0
	for _, c := range s.Calls {
		total += c.InputTokens + c.OutputTokens
	}
	return total
}
