package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.Nop(), Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		EmbedDims:  3,
		MaxRetries: 2,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cc := c.(*client)
	cc.baseDelay = time.Millisecond
	return cc
}

func TestEmbedOrdersByIndexAndSendsDimensions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("auth header: got=%q", got)
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Dimensions != 3 || req.Model != DefaultEmbedModel {
			t.Fatalf("request: %+v", req)
		}
		if req.Input[1] != " " {
			t.Fatalf("blank input should be replaced by a space, got=%q", req.Input[1])
		}
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		]}`))
	})
	vecs, err := c.Embed(context.Background(), []string{"cocaine", "  "})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("embeddings out of order: %v", vecs)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	})
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestDoRetriesTransientStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hello"}]}]}`))
	})
	out, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("output: got=%q", out)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	})
	_, err := c.Complete(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if httpx.IsRetryableError(err) {
		t.Fatalf("401 must not be retryable")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestGenerateTextDropsRejectedTemperature(t *testing.T) {
	var sawTemp []bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, has := req["temperature"]
		sawTemp = append(sawTemp, has)
		if has {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model."}}`))
			return
		}
		msgs := req["input"].([]any)
		if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
			t.Fatalf("input messages: %v", msgs)
		}
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}`))
	})
	temp := 0.0
	c.temperature = &temp
	out, err := c.GenerateText(context.Background(), "You are a lab report assistant.", "question")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != "ok" {
		t.Fatalf("output: got=%q", out)
	}
	if len(sawTemp) != 2 || !sawTemp[0] || sawTemp[1] {
		t.Fatalf("temperature attempts: %v", sawTemp)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", " sk-env ")
	t.Setenv("OPENAI_EMBED_DIMENSIONS", "512")
	t.Setenv("OPENAI_TEMPERATURE", "off")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "")
	cfg := ConfigFromEnv()
	if cfg.APIKey != "sk-env" || cfg.EmbedDims != 512 || cfg.Temperature != nil {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := NewClient(logger.Nop(), Config{}); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected missing key error, got=%v", err)
	}
}
