package acquire

import "github.com/sahanasridhar/medtimeline/pkg/models"

// bytesPerToken is a cheap approximation, not the model's tokenizer. It is a
// policy constant to tune, not a precise bound on actual token usage.
const bytesPerToken = 4

// EstimateTokens estimates the token cost of a record from its serialized
// length.
func EstimateTokens(r models.SourceRecord) int {
	serialized := len(r.ID) + len(r.Category) + len(r.Payload)
	return serialized / bytesPerToken
}
