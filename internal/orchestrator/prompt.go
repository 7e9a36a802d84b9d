package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// resultSchema constrains provider output to the GenerationResult shape.
var resultSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"description": {"type": "string"},
		"icon_hint": {"type": "string"},
		"artifacts": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"record_id": {"type": "string"},
					"category": {"type": "string"}
				},
				"required": ["record_id", "category"],
				"additionalProperties": false
			}
		}
	},
	"required": ["title", "description", "icon_hint", "artifacts"],
	"additionalProperties": false
}`)

// buildPrompt renders a cluster into the generation prompt. The rendering is
// fully deterministic for a given cluster so that identical clusters produce
// identical cache fingerprints.
func buildPrompt(c models.RecordCluster) string {
	var b strings.Builder
	b.WriteString("You are summarizing clinical records for a patient timeline.\n")
	b.WriteString("All records below are from ")
	b.WriteString(c.DateKey)
	b.WriteString(".\n\n")
	b.WriteString("Produce a short title, a one-paragraph description, an icon hint\n")
	b.WriteString("(one of: medication, lab, procedure, condition, immunization, allergy, note),\n")
	b.WriteString("and the list of record references the summary draws on.\n\n")
	b.WriteString("Records:\n")
	for _, r := range c.Records {
		fmt.Fprintf(&b, "- id=%s category=%s payload=%s\n", r.ID, r.Category, compactJSON(r.Payload))
	}
	return b.String()
}

// compactJSON strips insignificant whitespace so payload formatting upstream
// cannot change the fingerprint.
func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// parseResult decodes and validates provider output. Artifact references to
// records outside the cluster are dropped rather than failing the call.
func parseResult(text string, c models.RecordCluster) (*models.GenerationResult, error) {
	var result models.GenerationResult
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	if result.Title == "" {
		return nil, fmt.Errorf("%w: empty title", models.ErrInvalidResponse)
	}

	known := make(map[string]bool, len(c.Records))
	for _, r := range c.Records {
		known[r.ID] = true
	}
	kept := result.Artifacts[:0]
	for _, a := range result.Artifacts {
		if known[a.RecordID] {
			kept = append(kept, a)
		}
	}
	result.Artifacts = kept

	return &result, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// emit even when asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
