package report_extract

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/extraction"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
)

// OCR turns the ordered image references of a report into one text.
type OCR interface {
	ExtractAll(ctx context.Context, refs []string) (string, error)
}

// Extractor runs one LLM extraction over OCR text.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*extraction.Extraction, error)
}

type Config struct {
	// MaxAttempts bounds retries of transient faults per stage.
	MaxAttempts int
	// ExtractionMaxAttempts bounds parse faults (and panics) per report
	// across deliveries, tracked in reports.attempts.
	ExtractionMaxAttempts int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		MaxAttempts:           envutil.Int("PIPELINE_MAX_ATTEMPTS", 3),
		ExtractionMaxAttempts: envutil.Int("EXTRACTION_MAX_ATTEMPTS", 3),
		BaseDelay:             envutil.Duration("PIPELINE_RETRY_BASE_DELAY", time.Second),
		MaxDelay:              envutil.Duration("PIPELINE_RETRY_MAX_DELAY", 30*time.Second),
	}
}

type Deps struct {
	Reports   reportsrepo.ReportRepo
	Facets    reportsrepo.FacetRepo
	OCR       OCR
	Extractor Extractor
	Queue     jobs.Publisher
}

type Pipeline struct {
	db  *gorm.DB
	log *logger.Logger
	cfg Config

	reports   reportsrepo.ReportRepo
	facets    reportsrepo.FacetRepo
	ocr       OCR
	extractor Extractor
	queue     jobs.Publisher
}

func New(db *gorm.DB, baseLog *logger.Logger, deps Deps, cfg Config) (*Pipeline, error) {
	if db == nil || baseLog == nil {
		return nil, fmt.Errorf("db and logger are required")
	}
	if deps.Reports == nil || deps.Facets == nil || deps.OCR == nil || deps.Extractor == nil || deps.Queue == nil {
		return nil, fmt.Errorf("report_extract: missing dependency")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExtractionMaxAttempts < 1 {
		cfg.ExtractionMaxAttempts = 1
	}
	return &Pipeline{
		db:        db,
		log:       baseLog.With("job", "report_extract"),
		cfg:       cfg,
		reports:   deps.Reports,
		facets:    deps.Facets,
		ocr:       deps.OCR,
		extractor: deps.Extractor,
		queue:     deps.Queue,
	}, nil
}

func (p *Pipeline) Queue() string { return jobs.QueueReportTasks }
