package report_extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/extraction"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	jobrt "github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
	"github.com/yungbote/labtrace-backend/internal/pkg/retry"
)

// Per-report outcomes, also used as the labtrace_reports_processed_total label.
const (
	OutcomeCompleted = "completed"
	OutcomeErrored   = "errored"
	OutcomeReverted  = "reverted"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

const settleTimeout = 15 * time.Second

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil {
		return nil
	}
	var task jobs.ReportTask
	if err := jc.Decode(&task); err != nil {
		return apperr.Permanent(err)
	}
	out := p.Process(jc.Ctx, task)
	jc.Log.Info("report task processed", "reports", len(task.ReportIDs), "outcomes", out)
	var unsettled []uuid.UUID
	for id, outcome := range out {
		if outcome == OutcomeFailed {
			unsettled = append(unsettled, id)
		}
	}
	if len(unsettled) > 0 {
		// Redelivery is safe: settled siblings are no longer enqueued and skip.
		return apperr.Transient(fmt.Errorf("reports left enqueued: %v", unsettled))
	}
	return nil
}

// Process handles every id of task independently and returns the outcome per id.
// A failure or panic on one id never affects its siblings.
func (p *Pipeline) Process(ctx context.Context, task jobs.ReportTask) map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(task.ReportIDs))
	for _, id := range task.ReportIDs {
		if id == uuid.Nil {
			continue
		}
		start := time.Now()
		outcome := p.processOne(ctx, id)
		out[id] = outcome
		observability.Current().IncReportOutcome(outcome)
		observability.Current().ObserveStage("report", outcome, time.Since(start))
	}
	return out
}

func (p *Pipeline) processOne(ctx context.Context, id uuid.UUID) (outcome string) {
	log := p.log.With("report_id", id)
	ctx, span := observability.StartSpan(ctx, "report_extract.process", attribute.String("report_id", id.String()))
	defer func() { observability.EndSpan(span, nil) }()

	defer func() {
		if r := recover(); r != nil {
			log.Error("report processing panic", "panic", r)
			outcome = p.afterPanic(ctx, id, r)
		}
	}()

	var report *types.Report
	_, err := retry.Do(ctx, p.policy(), func(ctx context.Context, _ int) error {
		var err error
		report, err = p.reports.GetForProcessing(dbctx.Context{Ctx: ctx}, id)
		return err
	})
	if err != nil {
		return p.fail(ctx, id, "load", err)
	}
	if report == nil || report.Status != types.StatusEnqueued {
		// missing, deleted, already terminal, or reverted after this message was sent
		log.Debug("report not processable, skipping")
		return OutcomeSkipped
	}

	var rawText string
	_, err = retry.Do(ctx, p.policy(), func(ctx context.Context, _ int) error {
		var err error
		rawText, err = p.ocr.ExtractAll(ctx, report.ImageRefs())
		return err
	})
	if err != nil {
		return p.fail(ctx, id, "ocr", err)
	}
	if strings.TrimSpace(rawText) == "" {
		observability.ReportExtractionIssue(ctx, log, observability.IssueEmptyOCR, map[string]any{"report_id": id.String()})
	}

	x, outcome := p.extract(ctx, id, rawText)
	if x == nil {
		return outcome
	}

	set := x.Facets(id, rawText)
	if set.Empty() {
		observability.ReportExtractionIssue(ctx, log, observability.IssueEmptyFacets, map[string]any{"report_id": id.String()})
	}
	var records []types.Record
	_, err = retry.Do(ctx, p.policy(), func(ctx context.Context, _ int) error {
		var err error
		records, err = p.persist(ctx, report, set, rawText)
		return err
	})
	if errors.Is(err, apperr.ErrIllegalTransition) {
		log.Warn("report left enqueued state during processing, discarding extraction")
		return OutcomeSkipped
	}
	if err != nil {
		return p.fail(ctx, id, "persist", err)
	}
	log.Info("report completed", "records", len(records))
	return OutcomeCompleted
}

// extract runs the LLM until it yields a decodable completion. Parse faults
// are quarantined and counted against the report; the report goes terminal
// once the count reaches ExtractionMaxAttempts.
func (p *Pipeline) extract(ctx context.Context, id uuid.UUID, rawText string) (*extraction.Extraction, string) {
	log := p.log.With("report_id", id)
	for {
		var x *extraction.Extraction
		_, err := retry.Do(ctx, p.policy(), func(ctx context.Context, _ int) error {
			var err error
			x, err = p.extractor.Extract(ctx, rawText)
			return err
		})
		if err == nil {
			return x, ""
		}
		if errors.Is(err, extraction.ErrNotAReport) {
			observability.ReportExtractionIssue(ctx, log, observability.IssueNotAReport, map[string]any{"report_id": id.String()})
			return nil, p.markErrored(ctx, id, extraction.ErrNotAReport.Error())
		}
		var perr *extraction.ParseError
		if !errors.As(err, &perr) {
			return nil, p.fail(ctx, id, "extract", err)
		}

		attempts, aerr := p.reports.IncrementAttempts(dbctx.Context{Ctx: ctx}, id)
		if aerr != nil {
			return nil, p.fail(ctx, id, "extract", aerr)
		}
		if qerr := p.facets.Quarantine(dbctx.Context{Ctx: ctx}, id, attempts, perr.Completion, perr.Err, map[string]any{
			"raw_text_len": len(rawText),
		}); qerr != nil {
			log.Warn("quarantine write failed", "attempt", attempts, "error", qerr)
		}
		observability.ReportExtractionIssue(ctx, log, observability.IssueMalformed, map[string]any{
			"report_id": id.String(),
			"attempt":   attempts,
		})
		if attempts >= p.cfg.ExtractionMaxAttempts {
			observability.ReportExtractionIssue(ctx, log, observability.IssueExhausted, map[string]any{"report_id": id.String()})
			return nil, p.markErrored(ctx, id, fmt.Sprintf("extraction failed after %d attempts: %v", attempts, perr.Err))
		}
		if err := httpx.Sleep(ctx, httpx.Backoff(p.cfg.BaseDelay, attempts, p.cfg.MaxDelay)); err != nil {
			return nil, p.fail(ctx, id, "extract", err)
		}
	}
}

// persist writes the facets, completes the report and enqueues vectorization
// in one transaction, so a failed push leaves no facets behind.
func (p *Pipeline) persist(ctx context.Context, report *types.Report, set types.FacetSet, rawText string) ([]types.Record, error) {
	var records []types.Record
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		var err error
		records, err = p.facets.Persist(dbc, report.ID, set)
		if err != nil {
			return err
		}
		if err := p.reports.MarkCompleted(dbc, report.ID); err != nil {
			return err
		}
		if _, err := p.queue.Push(ctx, jobs.QueueVectorization, jobs.VectorizationJob{
			ReportID: report.ID,
			OwnerID:  report.OwnerID,
			Records:  records,
			RawText:  strings.TrimSpace(rawText),
		}); err != nil {
			return apperr.Transient(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p *Pipeline) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: p.cfg.MaxAttempts,
		BaseDelay:   p.cfg.BaseDelay,
		MaxDelay:    p.cfg.MaxDelay,
		Retryable:   jobs.IsTransient,
	}
}

// fail settles a report after err: transient faults (or shutdown) send it
// back to pending, anything else is terminal.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, stage string, err error) string {
	if jobs.IsTransient(err) || ctx.Err() != nil {
		p.log.Warn("transient failure, reverting report to pending", "report_id", id, "stage", stage, "error", err)
		return p.revert(ctx, id)
	}
	p.log.Error("report failed", "report_id", id, "stage", stage, "error", err)
	return p.markErrored(ctx, id, stage+": "+err.Error())
}

func (p *Pipeline) afterPanic(ctx context.Context, id uuid.UUID, r any) string {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	attempts, err := p.reports.IncrementAttempts(dbctx.Context{Ctx: sctx}, id)
	if err != nil {
		p.log.Error("count panic attempt failed", "report_id", id, "error", err)
		return p.revert(ctx, id)
	}
	if attempts >= p.cfg.ExtractionMaxAttempts {
		return p.markErrored(ctx, id, fmt.Sprintf("panic: %v", r))
	}
	return p.revert(ctx, id)
}

func (p *Pipeline) revert(ctx context.Context, id uuid.UUID) string {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if _, err := p.reports.RevertToPending(dbctx.Context{Ctx: sctx}, []uuid.UUID{id}); err != nil {
		p.log.Error("revert to pending failed", "report_id", id, "error", err)
		return OutcomeFailed
	}
	return OutcomeReverted
}

func (p *Pipeline) markErrored(ctx context.Context, id uuid.UUID, msg string) string {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := p.reports.MarkErrored(dbctx.Context{Ctx: sctx}, id, msg); err != nil {
		p.log.Error("mark errored failed", "report_id", id, "error", err)
		return OutcomeFailed
	}
	return OutcomeErrored
}
