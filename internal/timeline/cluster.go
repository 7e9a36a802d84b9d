// Package timeline turns a record snapshot into ordered date clusters.
// Everything here is a pure transformation: no I/O, no clocks.
package timeline

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// Payload fields probed for a clinical date, in priority order. The gateway
// serves heterogeneous record shapes, so extraction is best effort.
var dateFields = []string{
	"effectiveDateTime",
	"effectiveDate",
	"onsetDateTime",
	"performedDateTime",
	"authoredOn",
	"issued",
	"recordedDate",
	"date",
}

// Accepted timestamp layouts, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Cluster groups records by normalized date key and returns clusters sorted
// by date key descending (most recent first). Records with no resolvable
// date are dropped: intentional data loss at the boundary, not a defect.
// Within a cluster, record order is input order.
func Cluster(records []models.SourceRecord) []models.RecordCluster {
	if len(records) == 0 {
		return []models.RecordCluster{}
	}

	groups := make(map[string][]models.SourceRecord)
	for _, r := range records {
		key := DateKey(r)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], r)
	}

	clusters := make([]models.RecordCluster, 0, len(groups))
	for key, recs := range groups {
		clusters = append(clusters, models.RecordCluster{
			DateKey: key,
			Records: recs,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].DateKey > clusters[j].DateKey
	})

	return clusters
}

// DateKey derives the normalized YYYY-MM-DD key for a record: payload date
// fields first, the gateway recency timestamp as a fallback. Returns ""
// when no date resolves.
func DateKey(r models.SourceRecord) string {
	var payload map[string]any
	if err := json.Unmarshal(r.Payload, &payload); err == nil {
		for _, field := range dateFields {
			raw, ok := payload[field].(string)
			if !ok || raw == "" {
				continue
			}
			if key := normalizeDate(raw); key != "" {
				return key
			}
		}
	}

	if !r.Recency.IsZero() {
		return r.Recency.UTC().Format("2006-01-02")
	}
	return ""
}

// normalizeDate parses a raw timestamp string into a YYYY-MM-DD key.
func normalizeDate(raw string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
