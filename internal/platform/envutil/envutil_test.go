package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("X_INTERVAL", "90s")
	if d := Duration("X_INTERVAL", time.Second); d != 90*time.Second {
		t.Fatalf("go syntax: got=%v", d)
	}
	t.Setenv("X_INTERVAL", "15")
	if d := Duration("X_INTERVAL", time.Second); d != 15*time.Second {
		t.Fatalf("seconds: got=%v", d)
	}
	t.Setenv("X_INTERVAL", "soon")
	if d := Duration("X_INTERVAL", time.Second); d != time.Second {
		t.Fatalf("fallback: got=%v", d)
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("X_BATCH", "12")
	if n := Int("X_BATCH", 1); n != 12 {
		t.Fatalf("Int: got=%d", n)
	}
	t.Setenv("X_FLAG", "off")
	if Bool("X_FLAG", true) {
		t.Fatalf("Bool: want false")
	}
	if s := String("X_MISSING_STRING", "def"); s != "def" {
		t.Fatalf("String: got=%q", s)
	}
}
