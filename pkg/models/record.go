// Package models contains shared data models used across the MedTimeline codebase.
package models

import (
	"encoding/json"
	"time"
)

// Record categories served by the clinical record gateway.
const (
	CategoryAllergies     = "allergies"
	CategoryConditions    = "conditions"
	CategoryImmunizations = "immunizations"
	CategoryLabResults    = "labResults"
	CategoryMedications   = "medications"
	CategoryProcedures    = "procedures"
	CategoryNotes         = "clinicalNotes"
	CategoryVitals        = "vitals"
)

// DefaultCategories is the full set of categories fetched during acquisition.
// Vitals are fetched but excluded from the timeline payload: they are
// high-volume and low-signal for summarization.
func DefaultCategories() []string {
	return []string{
		CategoryAllergies,
		CategoryConditions,
		CategoryImmunizations,
		CategoryLabResults,
		CategoryMedications,
		CategoryProcedures,
		CategoryNotes,
		CategoryVitals,
	}
}

// RawRecord is a single record as returned by the record gateway.
type RawRecord struct {
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// SourceRecord is a normalized clinical record produced during acquisition.
// Immutable after creation; clusters reference records, they do not own them.
type SourceRecord struct {
	ID       string          `json:"id"`
	Category string          `json:"category"`
	Recency  time.Time       `json:"recency"`
	Payload  json.RawMessage `json:"payload"`
}
