package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

type Metrics struct {
	reportsProcessed  *CounterVec
	stageLatency      *HistogramVec
	admissionClaimed  *Counter
	admissionStranded *Counter
	admissionReclaim  *Counter
	reportsPurged     *Counter
	vectorPoints      *CounterVec
	extractionIssues  *CounterVec
	tenantViolations  *Counter
	workerTasks       *CounterVec
	workerLatency     *HistogramVec
	llmRequests       *CounterVec
	llmLatency        *HistogramVec
	llmTokens         *CounterVec
	ocrRequests       *CounterVec
	queueDepth        *GaugeVec
	reportsByStatus   *GaugeVec
	pgStats           *GaugeVec
	redisUp           *Gauge
	redisPing         *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return parseBoolEnv("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func parseBoolEnv(key string, fallback bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return fallback
	}
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init installs the process-wide registry when METRICS_ENABLED is set.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds an unregistered set of collectors.
func NewMetrics() *Metrics {
	stageBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 180}
	return &Metrics{
		reportsProcessed: NewCounterVec("labtrace_reports_processed_total", "Reports handled by the report worker by outcome.", []string{"outcome"}),
		stageLatency: NewHistogramVec(
			"labtrace_stage_duration_seconds",
			"Pipeline stage latency in seconds by stage/status.",
			[]string{"stage", "status"},
			stageBuckets,
		),
		admissionClaimed:  NewCounter("labtrace_admission_claimed_total", "Reports moved pending to enqueued."),
		admissionStranded: NewCounter("labtrace_admission_stranded_total", "Claimed reports whose queue submit failed."),
		admissionReclaim:  NewCounter("labtrace_admission_reclaimed_total", "Stale enqueued reports returned to pending."),
		reportsPurged:     NewCounter("labtrace_reports_purged_total", "Soft-deleted reports hard-deleted by the purge scheduler."),
		vectorPoints:      NewCounterVec("labtrace_vector_points_upserted_total", "Vector points upserted by collection.", []string{"collection"}),
		extractionIssues:  NewCounterVec("labtrace_extraction_issues_total", "Extraction faults by kind.", []string{"kind"}),
		tenantViolations:  NewCounter("labtrace_tenant_isolation_violations_total", "Search results that escaped the owner filter."),
		workerTasks:       NewCounterVec("labtrace_worker_tasks_total", "Queue messages handled by queue/status.", []string{"queue", "status"}),
		workerLatency: NewHistogramVec(
			"labtrace_worker_task_duration_seconds",
			"Queue message handling latency in seconds.",
			[]string{"queue", "status"},
			stageBuckets,
		),
		llmRequests: NewCounterVec("labtrace_llm_requests_total", "LLM requests by model/endpoint/status.", []string{"model", "endpoint", "status"}),
		llmLatency: NewHistogramVec(
			"labtrace_llm_request_duration_seconds",
			"LLM request latency in seconds.",
			[]string{"model", "endpoint", "status"},
			[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		llmTokens:       NewCounterVec("labtrace_llm_tokens_total", "LLM tokens by model/kind.", []string{"model", "kind"}),
		ocrRequests:     NewCounterVec("labtrace_ocr_requests_total", "OCR calls by engine/status.", []string{"engine", "status"}),
		queueDepth:      NewGaugeVec("labtrace_queue_depth", "Pending messages by queue.", []string{"queue"}),
		reportsByStatus: NewGaugeVec("labtrace_reports_by_status", "Active reports by status.", []string{"status"}),
		pgStats:         NewGaugeVec("labtrace_postgres_pool", "database/sql pool stats.", []string{"stat"}),
		redisUp:         NewGauge("labtrace_redis_up", "1 when the last redis ping succeeded."),
		redisPing:       NewGauge("labtrace_redis_ping_seconds", "Last redis ping latency."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) collectors() []promWriter {
	return []promWriter{
		m.reportsProcessed,
		m.stageLatency,
		m.admissionClaimed,
		m.admissionStranded,
		m.admissionReclaim,
		m.reportsPurged,
		m.vectorPoints,
		m.extractionIssues,
		m.tenantViolations,
		m.workerTasks,
		m.workerLatency,
		m.llmRequests,
		m.llmLatency,
		m.llmTokens,
		m.ocrRequests,
		m.queueDepth,
		m.reportsByStatus,
		m.pgStats,
		m.redisUp,
		m.redisPing,
	}
}

func (m *Metrics) IncReportOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reportsProcessed.Inc(orUnknown(outcome))
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.Observe(dur.Seconds(), orUnknown(stage), orUnknown(status))
}

func (m *Metrics) AddAdmissionClaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.admissionClaimed.Add(float64(n))
}

func (m *Metrics) AddAdmissionStranded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.admissionStranded.Add(float64(n))
}

func (m *Metrics) AddAdmissionReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.admissionReclaim.Add(float64(n))
}

func (m *Metrics) AddReportsPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reportsPurged.Add(float64(n))
}

func (m *Metrics) AddVectorPoints(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.vectorPoints.Add(float64(n), orUnknown(collection))
}

func (m *Metrics) IncExtractionIssue(kind string) {
	if m == nil {
		return
	}
	m.extractionIssues.Inc(orUnknown(kind))
}

func (m *Metrics) IncTenantViolation() {
	if m == nil {
		return
	}
	m.tenantViolations.Inc()
}

func (m *Metrics) ObserveWorkerTask(queue, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.workerTasks.Inc(orUnknown(queue), orUnknown(status))
	if dur > 0 {
		m.workerLatency.Observe(dur.Seconds(), orUnknown(queue), orUnknown(status))
	}
}

func (m *Metrics) ObserveOCR(engine, status string) {
	if m == nil {
		return
	}
	m.ocrRequests.Inc(orUnknown(engine), orUnknown(status))
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	endpoint = orUnknown(endpoint)
	status = strings.TrimSpace(status)
	if status == "" {
		status = "0"
	}
	m.llmRequests.Inc(model, endpoint, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, endpoint, status)
	}
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
}

func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth), orUnknown(queue))
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	m.poll(ctx, func(ctx context.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: postgres stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
		m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	m.poll(ctx, func(ctx context.Context) {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

// StartQueueDepthCollector samples each queue's backlog through depth.
func (m *Metrics) StartQueueDepthCollector(ctx context.Context, log *logger.Logger, queues []string, depth func(ctx context.Context, queue string) (int64, error)) {
	if m == nil || depth == nil {
		return
	}
	m.poll(ctx, func(ctx context.Context) {
		for _, q := range queues {
			n, err := depth(ctx, q)
			if err != nil {
				if log != nil {
					log.Warn("metrics: queue depth failed", "queue", q, "error", err)
				}
				continue
			}
			m.queueDepth.Set(float64(n), q)
		}
	})
}

// StartReportStatusCollector samples active report counts per status.
func (m *Metrics) StartReportStatusCollector(ctx context.Context, log *logger.Logger, count func(ctx context.Context) (map[string]int64, error)) {
	if m == nil || count == nil {
		return
	}
	m.poll(ctx, func(ctx context.Context) {
		counts, err := count(ctx)
		if err != nil {
			if log != nil {
				log.Warn("metrics: report status query failed", "error", err)
			}
			return
		}
		for status, n := range counts {
			m.reportsByStatus.Set(float64(n), orUnknown(status))
		}
	})
}

func (m *Metrics) poll(ctx context.Context, fn func(ctx context.Context)) {
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
