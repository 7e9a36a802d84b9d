package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprint components are joined with a unit separator so that no prompt
// or model string can collide with a neighboring component.
const fingerprintSep = "\x1f"

// Fingerprint computes the stable SHA-256 key identifying a logical
// generation request. Identical (prompt, model, hasSchema) triples always
// produce the same key; changing any component changes it. The pre-image
// resistance of SHA-256 is load-bearing: no collision handling exists
// anywhere downstream.
func Fingerprint(prompt, model string, hasSchema bool) string {
	schema := "noschema"
	if hasSchema {
		schema = "schema"
	}
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(model))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(schema))
	return hex.EncodeToString(h.Sum(nil))
}
