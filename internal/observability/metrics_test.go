package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMetricsWritePrometheus(t *testing.T) {
	m := NewMetrics()
	m.IncReportOutcome("completed")
	m.IncReportOutcome("completed")
	m.IncReportOutcome("errored")
	m.AddAdmissionStranded(3)
	m.AddAdmissionReclaimed(2)
	m.ObserveStage("ocr", "ok", 1500*time.Millisecond)
	m.SetQueueDepth("report_tasks", 4)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`labtrace_reports_processed_total{outcome="completed"} 2.000000`,
		`labtrace_reports_processed_total{outcome="errored"} 1.000000`,
		`labtrace_admission_stranded_total 3.000000`,
		`labtrace_admission_reclaimed_total 2.000000`,
		`labtrace_stage_duration_seconds_bucket{stage="ocr",status="ok",le="2"} 1`,
		`labtrace_stage_duration_seconds_bucket{stage="ocr",status="ok",le="1"} 0`,
		`labtrace_queue_depth{queue="report_tasks"} 4.000000`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	completed := strings.Index(out, `outcome="completed"`)
	errored := strings.Index(out, `outcome="errored"`)
	if completed > errored {
		t.Fatalf("label sets should render sorted")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncReportOutcome("x")
	m.ObserveWorkerTask("q", "ok", time.Second)
	m.AddVectorPoints("c", 2)
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
}

func TestAlertDueThrottles(t *testing.T) {
	now := time.Now()
	if !alertDue("throttle_test", now, time.Minute) {
		t.Fatalf("first alert should be due")
	}
	if alertDue("throttle_test", now.Add(30*time.Second), time.Minute) {
		t.Fatalf("second alert inside interval should be suppressed")
	}
	if !alertDue("throttle_test", now.Add(2*time.Minute), time.Minute) {
		t.Fatalf("alert after interval should be due")
	}
}
