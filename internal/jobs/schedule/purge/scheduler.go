package purge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
)

// VectorDeleter drops every point of the given reports from a collection.
type VectorDeleter interface {
	DeleteByReportIDs(ctx context.Context, collection string, ids []string) error
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	Collections []string
}

func ConfigFromEnv() Config {
	cfg := Config{
		Interval:  envutil.Duration("PURGE_INTERVAL", time.Hour),
		BatchSize: envutil.Int("PURGE_BATCH_SIZE", 35),
	}
	for _, c := range []string{
		envutil.String("QDRANT_COLLECTION", "lab_reports"),
		envutil.String("QDRANT_RAW_COLLECTION", "lab_reports_raw"),
	} {
		if c != "" {
			cfg.Collections = append(cfg.Collections, c)
		}
	}
	return cfg
}

// Scheduler hard-deletes soft-deleted reports and their vector points.
type Scheduler struct {
	log     *logger.Logger
	reports reportsrepo.ReportRepo
	index   VectorDeleter
	cfg     Config
}

func New(baseLog *logger.Logger, reports reportsrepo.ReportRepo, index VectorDeleter, cfg Config) (*Scheduler, error) {
	if baseLog == nil || reports == nil {
		return nil, fmt.Errorf("purge: logger and report repo are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 35
	}
	return &Scheduler{
		log:     baseLog.With("job", "purge"),
		reports: reports,
		index:   index,
		cfg:     cfg,
	}, nil
}

// RunOnce purges at most BatchSize deleted reports. The relational graph goes
// first in one transaction; vector cleanup failures are only logged since a
// point without its rows is never rehydrated.
func (s *Scheduler) RunOnce(ctx context.Context) ([]uuid.UUID, error) {
	start := time.Now()
	dbc := dbctx.Context{Ctx: ctx}
	ids, err := s.reports.ListDeletedIDs(dbc, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list deleted reports: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	removed, err := s.reports.HardDeleteGraph(dbc, ids)
	if err != nil {
		observability.Current().ObserveStage("purge", "error", time.Since(start))
		return nil, fmt.Errorf("hard delete reports: %w", err)
	}
	observability.Current().AddReportsPurged(int(removed))

	if s.index != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = id.String()
		}
		for _, c := range s.cfg.Collections {
			if err := s.index.DeleteByReportIDs(ctx, c, keys); err != nil {
				s.log.Warn("vector cleanup failed, points orphaned", "collection", c, "count", len(keys), "error", err)
			}
		}
	}
	observability.Current().ObserveStage("purge", "ok", time.Since(start))
	s.log.Info("deleted reports purged", "count", removed)
	return ids, nil
}

// Run calls RunOnce immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Starting purge scheduler", "interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("purge tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("Purge scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
