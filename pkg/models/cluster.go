package models

import "time"

// ClusterState is the generation lifecycle state of a timeline cluster.
type ClusterState string

const (
	ClusterPending    ClusterState = "pending"
	ClusterGenerating ClusterState = "generating"
	ClusterCompleted  ClusterState = "completed"
	ClusterFailed     ClusterState = "failed"
)

// RecordCluster groups source records sharing a normalized date key.
// Clusters are unique per date key and persist for the lifetime of a
// load/refresh cycle.
type RecordCluster struct {
	DateKey string         `json:"date_key"`
	Records []SourceRecord `json:"records"`
}

// ArtifactRef points a generated summary back at a source record.
type ArtifactRef struct {
	RecordID string `json:"record_id"`
	Category string `json:"category"`
}

// GenerationResult is the structured AI summary attached to a cluster.
// Retries overwrite a previous result, they never append.
type GenerationResult struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	IconHint    string        `json:"icon_hint"`
	Artifacts   []ArtifactRef `json:"artifacts"`
}

// GenerationRecord is the persisted form of a GenerationResult, one row per
// date key in the reporting store.
type GenerationRecord struct {
	DateKey   string           `db:"date_key"   json:"date_key"`
	Provider  string           `db:"provider"   json:"provider"`
	Model     string           `db:"model"      json:"model"`
	Result    GenerationResult `db:"result"     json:"result"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// ClusterEvent is published whenever a cluster changes generation state.
// The presentation layer subscribes to these instead of reading orchestrator
// internals.
type ClusterEvent struct {
	DateKey string       `json:"date_key"`
	State   ClusterState `json:"state"`
}

// ClusterSnapshot is a read-only view of a cluster for API responses.
type ClusterSnapshot struct {
	DateKey     string            `json:"date_key"`
	RecordCount int               `json:"record_count"`
	State       ClusterState      `json:"state"`
	Result      *GenerationResult `json:"result,omitempty"`
}
