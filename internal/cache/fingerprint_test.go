package cache

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	fp1 := Fingerprint("summarize these records", "gpt-4o", true)
	fp2 := Fingerprint("summarize these records", "gpt-4o", true)
	if fp1 != fp2 {
		t.Errorf("identical requests should produce identical keys:\n  %s\n  %s", fp1, fp2)
	}
}

func TestFingerprint_ComponentSensitivity(t *testing.T) {
	base := Fingerprint("a", "m1", false)

	tests := []struct {
		name      string
		prompt    string
		model     string
		hasSchema bool
	}{
		{"different prompt", "b", "m1", false},
		{"different model", "a", "m2", false},
		{"different schema flag", "a", "m1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.prompt, tt.model, tt.hasSchema)
			if got == base {
				t.Errorf("changing %s should change the key", tt.name)
			}
		})
	}
}

func TestFingerprint_NoComponentBleed(t *testing.T) {
	// Concatenation without a separator would make these collide.
	fp1 := Fingerprint("ab", "c", false)
	fp2 := Fingerprint("a", "bc", false)
	if fp1 == fp2 {
		t.Error("prompt/model boundary must not be ambiguous")
	}
}

func TestFingerprint_IsLowercaseHex(t *testing.T) {
	fp := Fingerprint("test prompt", "model", false)
	if len(fp) != 64 {
		t.Errorf("expected 64 char hex string, got %d chars: %s", len(fp), fp)
	}
	for _, c := range fp {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Errorf("expected lowercase hex, found %q in %s", c, fp)
		}
	}
}
