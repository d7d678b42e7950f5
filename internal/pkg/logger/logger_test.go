package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsAndHashes(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "true")

	out := sanitizeKVs([]interface{}{
		"patient_name", "Jane Doe",
		"owner_id", "7f0c",
		"report_id", "abc",
		"api_key", "sk-123",
	})
	if len(out) != 8 {
		t.Fatalf("len: want=8 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("patient_name: want redacted got=%v", out[1])
	}
	hashed, ok := out[3].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") {
		t.Fatalf("owner_id: want hashed got=%v", out[3])
	}
	if out[5] != "abc" {
		t.Fatalf("report_id: want passthrough got=%v", out[5])
	}
	if out[7] != "[REDACTED]" {
		t.Fatalf("api_key: want redacted got=%v", out[7])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"report_id", "x", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestNopLogger(t *testing.T) {
	l, err := New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.With("service", "x").Info("hello", "k", "v")
	l.Sync()
}
