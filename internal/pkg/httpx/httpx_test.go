package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (s statusErr) Error() string        { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{statusErr(429), true},
		{statusErr(503), true},
		{statusErr(400), false},
		{fmt.Errorf("wrapped: %w", statusErr(502)), true},
	}
	for _, c := range cases {
		if got := IsRetryableError(c.err); got != c.want {
			t.Fatalf("IsRetryableError(%v): want=%v got=%v", c.err, c.want, got)
		}
	}
}

func TestBackoffCaps(t *testing.T) {
	if d := Backoff(time.Second, 1, 0); d != time.Second {
		t.Fatalf("attempt 1: got=%v", d)
	}
	if d := Backoff(time.Second, 3, 0); d != 4*time.Second {
		t.Fatalf("attempt 3: got=%v", d)
	}
	if d := Backoff(time.Second, 10, 5*time.Second); d != 5*time.Second {
		t.Fatalf("capped: got=%v", d)
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
	if d := RetryAfterDuration(resp, time.Second, 5*time.Second); d != 5*time.Second {
		t.Fatalf("want capped 5s got=%v", d)
	}
	if d := RetryAfterDuration(nil, time.Second, 0); d != time.Second {
		t.Fatalf("want fallback got=%v", d)
	}
}
