package timeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

func record(id, category, payload string, recency time.Time) models.SourceRecord {
	return models.SourceRecord{
		ID:       id,
		Category: category,
		Recency:  recency,
		Payload:  json.RawMessage(payload),
	}
}

// --- DateKey tests ---

func TestDateKey(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		recency  time.Time
		expected string
	}{
		{
			name:     "effectiveDateTime RFC3339",
			payload:  `{"effectiveDateTime":"2024-01-02T10:30:00Z"}`,
			expected: "2024-01-02",
		},
		{
			name:     "bare date field",
			payload:  `{"date":"2024-03-15"}`,
			expected: "2024-03-15",
		},
		{
			name:     "onsetDateTime without zone",
			payload:  `{"onsetDateTime":"2023-11-20T08:00:00"}`,
			expected: "2023-11-20",
		},
		{
			name:     "first matching field wins",
			payload:  `{"effectiveDateTime":"2024-01-02T10:30:00Z","date":"1999-01-01"}`,
			expected: "2024-01-02",
		},
		{
			name:     "unparseable field falls through to next",
			payload:  `{"effectiveDateTime":"not a date","issued":"2024-06-01T00:00:00Z"}`,
			expected: "2024-06-01",
		},
		{
			name:     "recency fallback when payload has no date",
			payload:  `{"name":"metformin"}`,
			recency:  time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC),
			expected: "2024-05-06",
		},
		{
			name:     "no resolvable date",
			payload:  `{"name":"metformin"}`,
			expected: "",
		},
		{
			name:     "malformed payload with recency",
			payload:  `not json`,
			recency:  time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC),
			expected: "2024-05-06",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DateKey(record("r1", "conditions", tt.payload, tt.recency))
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- Cluster tests ---

func TestCluster_GroupsByDate(t *testing.T) {
	records := []models.SourceRecord{
		record("a", "labResults", `{"date":"2024-01-01"}`, time.Time{}),
		record("b", "conditions", `{"date":"2024-01-02"}`, time.Time{}),
		record("c", "medications", `{"date":"2024-01-01"}`, time.Time{}),
	}

	clusters := Cluster(records)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	// Descending date order: 2024-01-02 before 2024-01-01.
	if clusters[0].DateKey != "2024-01-02" {
		t.Errorf("expected most recent cluster first, got %s", clusters[0].DateKey)
	}
	if clusters[1].DateKey != "2024-01-01" {
		t.Errorf("expected 2024-01-01 second, got %s", clusters[1].DateKey)
	}
	if len(clusters[1].Records) != 2 {
		t.Errorf("expected 2 records in 2024-01-01 cluster, got %d", len(clusters[1].Records))
	}
}

func TestCluster_PreservesInsertionOrderWithinCluster(t *testing.T) {
	records := []models.SourceRecord{
		record("first", "labResults", `{"date":"2024-01-01"}`, time.Time{}),
		record("second", "conditions", `{"date":"2024-01-01"}`, time.Time{}),
	}

	clusters := Cluster(records)
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	if clusters[0].Records[0].ID != "first" || clusters[0].Records[1].ID != "second" {
		t.Errorf("expected insertion order preserved, got %s then %s",
			clusters[0].Records[0].ID, clusters[0].Records[1].ID)
	}
}

func TestCluster_DropsUndatedRecords(t *testing.T) {
	records := []models.SourceRecord{
		record("dated", "labResults", `{"date":"2024-01-01"}`, time.Time{}),
		record("undated", "clinicalNotes", `{"text":"no date anywhere"}`, time.Time{}),
	}

	clusters := Cluster(records)
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	if len(clusters[0].Records) != 1 {
		t.Errorf("undated record should be dropped, got %d records", len(clusters[0].Records))
	}
}

func TestCluster_EmptyInput(t *testing.T) {
	clusters := Cluster(nil)
	if clusters == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(clusters) != 0 {
		t.Errorf("expected 0 clusters, got %d", len(clusters))
	}
}

func TestCluster_Deterministic(t *testing.T) {
	records := []models.SourceRecord{
		record("a", "labResults", `{"date":"2024-01-03"}`, time.Time{}),
		record("b", "conditions", `{"date":"2024-01-01"}`, time.Time{}),
		record("c", "medications", `{"date":"2024-01-02"}`, time.Time{}),
	}

	first := Cluster(records)
	second := Cluster(records)
	for i := range first {
		if first[i].DateKey != second[i].DateKey {
			t.Fatalf("cluster order not deterministic: %s vs %s", first[i].DateKey, second[i].DateKey)
		}
	}
}
