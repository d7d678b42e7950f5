package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
)

type Config struct {
	Interval  time.Duration
	BatchSize int
	// StaleAfter is how long a report may sit in enqueued before it is put
	// back to pending. Zero disables the sweep.
	StaleAfter time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Interval:   envutil.Duration("ADMISSION_INTERVAL", 5*time.Second),
		BatchSize:  envutil.Int("ADMISSION_BATCH_SIZE", 10),
		StaleAfter: envutil.Duration("ADMISSION_STALE_AFTER", time.Hour),
	}
}

// Scheduler moves pending reports onto the report queue in small batches.
type Scheduler struct {
	log     *logger.Logger
	reports reportsrepo.ReportRepo
	queue   jobs.Publisher
	cfg     Config
}

func New(baseLog *logger.Logger, reports reportsrepo.ReportRepo, queue jobs.Publisher, cfg Config) (*Scheduler, error) {
	if baseLog == nil || reports == nil || queue == nil {
		return nil, fmt.Errorf("admission: logger, report repo and queue are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Scheduler{
		log:     baseLog.With("job", "admission"),
		reports: reports,
		queue:   queue,
		cfg:     cfg,
	}, nil
}

// RunOnce claims up to BatchSize pending reports and enqueues them as one
// task. If the push fails the claimed reports are put back to pending.
func (s *Scheduler) RunOnce(ctx context.Context) ([]uuid.UUID, error) {
	start := time.Now()
	s.reclaimStale(ctx)
	ids, err := s.reports.ClaimPending(dbctx.Context{Ctx: ctx}, s.cfg.BatchSize)
	if err != nil {
		observability.Current().ObserveStage("admission", "error", time.Since(start))
		return nil, fmt.Errorf("claim pending reports: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	observability.Current().AddAdmissionClaimed(len(ids))

	if _, err := s.queue.Push(ctx, jobs.QueueReportTasks, jobs.ReportTask{ReportIDs: ids}); err != nil {
		s.log.Error("report batch stranded, reverting to pending", "report_ids", ids, "error", err)
		observability.Current().AddAdmissionStranded(len(ids))
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if _, rerr := s.reports.RevertToPending(dbctx.Context{Ctx: rctx}, ids); rerr != nil {
			s.log.Error("revert stranded reports failed", "report_ids", ids, "error", rerr)
		}
		observability.Current().ObserveStage("admission", "error", time.Since(start))
		return nil, fmt.Errorf("push report batch: %w", err)
	}
	observability.Current().ObserveStage("admission", "ok", time.Since(start))
	s.log.Info("reports admitted", "count", len(ids))
	return ids, nil
}

// reclaimStale returns reports whose task was lost (acked without a settle
// write, or dropped after its last delivery) to pending.
func (s *Scheduler) reclaimStale(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}
	ids, err := s.reports.RevertStale(dbctx.Context{Ctx: ctx}, time.Now().Add(-s.cfg.StaleAfter), 10*s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("stale enqueued sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		s.log.Warn("stale enqueued reports returned to pending", "report_ids", ids)
		observability.Current().AddAdmissionReclaimed(len(ids))
	}
}

// Run ticks RunOnce every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Starting admission scheduler", "interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Admission scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("admission tick failed", "error", err)
			}
		}
	}
}
