package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/labtrace-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

// Extraction issue kinds.
const (
	IssueNotAReport  = "not_a_report"
	IssueMalformed   = "malformed"
	IssueExhausted   = "parse_exhausted"
	IssueEmptyOCR    = "empty_ocr"
	IssueEmptyFacets = "empty_facets"
)

type dqAlertState struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var dqAlerts dqAlertState

// ReportExtractionIssue counts an extraction fault and, when alerts are
// configured, posts a throttled webhook. meta must not carry report text.
func ReportExtractionIssue(ctx context.Context, log *logger.Logger, kind string, meta map[string]any) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unknown"
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if td := ctxutil.GetTaskData(ctx); td != nil {
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
		if td.MessageID != "" {
			meta["message_id"] = td.MessageID
		}
	}
	if m := Current(); m != nil {
		m.IncExtractionIssue(kind)
	}
	if log != nil {
		log.Warn("extraction issue detected", "kind", kind, "meta", meta)
	}
	sendDataQualityAlert(kind, meta, log)
}

func dataQualityAlertsEnabled() bool {
	return parseBoolEnv("DATA_QUALITY_ALERTS_ENABLED", false)
}

func dataQualityAlertWebhook() string {
	return strings.TrimSpace(os.Getenv("DATA_QUALITY_ALERT_WEBHOOK_URL"))
}

func dataQualityAlertMinInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("DATA_QUALITY_ALERT_MIN_INTERVAL_SECONDS"))
	if raw == "" {
		return 5 * time.Minute
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

// alertDue reports whether kind may alert now and records the send time.
func alertDue(kind string, now time.Time, minInterval time.Duration) bool {
	dqAlerts.mu.Lock()
	defer dqAlerts.mu.Unlock()
	if dqAlerts.last == nil {
		dqAlerts.last = map[string]time.Time{}
	}
	last := dqAlerts.last[kind]
	if !last.IsZero() && now.Sub(last) < minInterval {
		return false
	}
	dqAlerts.last[kind] = now
	return true
}

func sendDataQualityAlert(kind string, meta map[string]any, log *logger.Logger) {
	if !dataQualityAlertsEnabled() {
		return
	}
	webhook := dataQualityAlertWebhook()
	if webhook == "" {
		return
	}
	if !alertDue(kind, time.Now(), dataQualityAlertMinInterval()) {
		return
	}

	payload := map[string]any{
		"title":     "Lab report extraction issue",
		"kind":      kind,
		"meta":      meta,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		if log != nil {
			log.Warn("data quality alert request build failed", "error", err, "kind", kind)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if log != nil {
			log.Warn("data quality alert post failed", "error", err, "kind", kind)
		}
		return
	}
	_ = resp.Body.Close()
	if log != nil {
		log.Info("data quality alert sent", "kind", kind, "status", resp.StatusCode)
	}
}
