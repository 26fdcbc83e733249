package logging

import "testing"

func TestSanitizeRedactsCredentialKeys(t *testing.T) {
	kv := sanitize([]any{"qdrant_api_key", "qd-secret", "url", "http://localhost:6333"})
	if kv[1] != "[REDACTED]" {
		t.Fatalf("api key not redacted: %v", kv[1])
	}
	if kv[3] != "http://localhost:6333" {
		t.Fatalf("non-secret value altered: %v", kv[3])
	}
}

func TestSanitizeOddLengthAndNonStringKeys(t *testing.T) {
	kv := sanitize([]any{42, "value", "dangling"})
	if kv[0] != 42 || kv[1] != "value" || kv[2] != "dangling" {
		t.Fatalf("unexpected mutation: %v", kv)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Info("ok", "mode", mode)
		l.Sync()
	}
}
