package report_extract

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/data/repos/testutil"
	"github.com/yungbote/labtrace-backend/internal/extraction"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	jobrt "github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/platform/redisq"
)

const reportJSON = `{
  "report_metadata": {"patient_name": "Jane Doe", "lab_name": "Acme Labs", "report_date": "2024-01-05"},
  "test_results": [{"test_name": "Amphetamines", "outcome": "NEG", "result_value": "<50", "unit": "ng/mL"}],
  "reported_medications": ["Ibuprofen"]
}`

type fakeOCR struct {
	text string
	err  error
	refs [][]string
}

func (f *fakeOCR) ExtractAll(_ context.Context, refs []string) (string, error) {
	f.refs = append(f.refs, refs)
	return f.text, f.err
}

// scriptedExtractor answers from a script, repeating the last step.
type scriptedExtractor struct {
	mu    sync.Mutex
	steps []func() (*extraction.Extraction, error)
	calls int
}

func (s *scriptedExtractor) Extract(_ context.Context, _ string) (*extraction.Extraction, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[i]
	s.mu.Unlock()
	return step()
}

func ok(t *testing.T) func() (*extraction.Extraction, error) {
	return func() (*extraction.Extraction, error) {
		res, err := extraction.Parse(reportJSON)
		require.NoError(t, err)
		return &extraction.Extraction{Result: res, Completion: reportJSON}, nil
	}
}

func malformed() (*extraction.Extraction, error) {
	return nil, &extraction.ParseError{Completion: "{oops", Err: errors.New("unexpected end of JSON")}
}

func notAReport() (*extraction.Extraction, error) { return nil, extraction.ErrNotAReport }

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	jobs []jobs.VectorizationJob
}

func (f *fakePublisher) Push(_ context.Context, queue string, v any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if job, ok := v.(jobs.VectorizationJob); ok && queue == jobs.QueueVectorization {
		f.jobs = append(f.jobs, job)
	}
	return uuid.NewString(), nil
}

type fixture struct {
	db        *gorm.DB
	reports   reportsrepo.ReportRepo
	facets    reportsrepo.FacetRepo
	ocr       *fakeOCR
	extractor *scriptedExtractor
	queue     *fakePublisher
	pipeline  *Pipeline
}

func newFixture(t *testing.T, steps ...func() (*extraction.Extraction, error)) *fixture {
	t.Helper()
	if !testutil.Isolated() {
		t.Skip("pipeline tests need a private database")
	}
	db := testutil.DB(t)
	log := testutil.Logger(t)
	f := &fixture{
		db:        db,
		reports:   reportsrepo.NewReportRepo(db, log),
		facets:    reportsrepo.NewFacetRepo(db, log),
		ocr:       &fakeOCR{text: "ACME LABS\nAmphetamines NEG <50 ng/mL"},
		extractor: &scriptedExtractor{steps: steps},
		queue:     &fakePublisher{},
	}
	p, err := New(db, log, Deps{
		Reports:   f.reports,
		Facets:    f.facets,
		OCR:       f.ocr,
		Extractor: f.extractor,
		Queue:     f.queue,
	}, Config{MaxAttempts: 3, ExtractionMaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *fixture) seed(t *testing.T, status types.Status, deleted bool) *types.Report {
	return testutil.SeedReport(t, context.Background(), f.db, uuid.New(), status, deleted)
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *types.Report {
	r, err := f.reports.Get(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)
	return r
}

func (f *fixture) facetCount(t *testing.T, id uuid.UUID) int64 {
	n, err := f.facets.CountForReport(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)
	return n
}

func (f *fixture) quarantined(t *testing.T, id uuid.UUID) int64 {
	var n int64
	require.NoError(t, f.db.Model(&types.ExtractionQuarantine{}).Where("report_id = ?", id).Count(&n).Error)
	return n
}

func TestProcessCompletesValidReport(t *testing.T) {
	f := newFixture(t, ok(t))
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeCompleted, out[rep.ID])

	got := f.reload(t, rep.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.True(t, got.DataExtracted())
	assert.False(t, got.Enqueued())
	assert.False(t, got.Errored())
	assert.Equal(t, int64(3), f.facetCount(t, rep.ID))

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, rep.ID, job.ReportID)
	assert.Equal(t, rep.OwnerID, job.OwnerID)
	assert.Equal(t, "ACME LABS\nAmphetamines NEG <50 ng/mL", job.RawText)
	require.Len(t, job.Records, 3)
	for _, rec := range job.Records {
		assert.NotContains(t, rec.Data, "raw_ocr_text")
		assert.NotContains(t, rec.Data, "report_id")
		assert.NotEqual(t, uuid.Nil, rec.CollectionID)
	}
	assert.Equal(t, types.CollectionMetadata, job.Records[0].Collection)
	assert.Equal(t, [][]string{{rep.URL}}, f.ocr.refs)
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t, ok(t))
	rep := f.seed(t, types.StatusEnqueued, false)
	task := jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}}

	require.Equal(t, OutcomeCompleted, f.pipeline.Process(context.Background(), task)[rep.ID])
	before := f.facetCount(t, rep.ID)

	assert.Equal(t, OutcomeSkipped, f.pipeline.Process(context.Background(), task)[rep.ID])
	assert.Equal(t, before, f.facetCount(t, rep.ID))
	assert.Len(t, f.queue.jobs, 1)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestProcessNotAReport(t *testing.T) {
	f := newFixture(t, notAReport)
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeErrored, out[rep.ID])

	got := f.reload(t, rep.ID)
	assert.Equal(t, types.StatusErrored, got.Status)
	assert.Contains(t, got.ErrorMessage, "not a valid test report")
	assert.Zero(t, f.facetCount(t, rep.ID))
	assert.Empty(t, f.queue.jobs)
}

func TestProcessMalformedIsQuarantinedThenErrored(t *testing.T) {
	f := newFixture(t, malformed)
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeErrored, out[rep.ID])

	got := f.reload(t, rep.ID)
	assert.Equal(t, types.StatusErrored, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, int64(3), f.quarantined(t, rep.ID))
	assert.Zero(t, f.facetCount(t, rep.ID))
	assert.Empty(t, f.queue.jobs)
}

func TestProcessMalformedThenValid(t *testing.T) {
	f := newFixture(t, malformed, ok(t))
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeCompleted, out[rep.ID])
	got := f.reload(t, rep.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, int64(1), f.quarantined(t, rep.ID))
}

func TestProcessTransientOCRRevertsToPending(t *testing.T) {
	f := newFixture(t, ok(t))
	f.ocr.err = apperr.Transient(errors.New("vision unavailable"))
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeReverted, out[rep.ID])
	assert.Equal(t, types.StatusPending, f.reload(t, rep.ID).Status)
	assert.Len(t, f.ocr.refs, 3)
	assert.Zero(t, f.extractor.calls)
}

func TestProcessPermanentOCRErrors(t *testing.T) {
	f := newFixture(t, ok(t))
	f.ocr.err = apperr.Permanent(errors.New("object not found"))
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeErrored, out[rep.ID])
	got := f.reload(t, rep.ID)
	assert.Equal(t, types.StatusErrored, got.Status)
	assert.Contains(t, got.ErrorMessage, "ocr: object not found")
}

func TestProcessPushFailureRollsBackFacets(t *testing.T) {
	f := newFixture(t, ok(t))
	f.queue.err = errors.New("redis: connection refused")
	rep := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{rep.ID}})
	assert.Equal(t, OutcomeReverted, out[rep.ID])
	assert.Equal(t, types.StatusPending, f.reload(t, rep.ID).Status)
	assert.Zero(t, f.facetCount(t, rep.ID))
}

func TestProcessSkipsUnprocessableReports(t *testing.T) {
	f := newFixture(t, ok(t))
	deleted := f.seed(t, types.StatusEnqueued, true)
	pending := f.seed(t, types.StatusPending, false)
	errored := f.seed(t, types.StatusErrored, false)
	missing := uuid.New()

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{deleted.ID, pending.ID, errored.ID, missing}})
	for _, id := range []uuid.UUID{deleted.ID, pending.ID, errored.ID, missing} {
		assert.Equal(t, OutcomeSkipped, out[id])
	}
	assert.Zero(t, f.extractor.calls)
	assert.Equal(t, types.StatusPending, f.reload(t, pending.ID).Status)
}

func TestProcessPanicDoesNotAbortSiblings(t *testing.T) {
	calls := 0
	f := newFixture(t, func() (*extraction.Extraction, error) {
		calls++
		if calls == 1 {
			panic("nil map in extractor")
		}
		return ok(t)()
	})
	first := f.seed(t, types.StatusEnqueued, false)
	second := f.seed(t, types.StatusEnqueued, false)

	out := f.pipeline.Process(context.Background(), jobs.ReportTask{ReportIDs: []uuid.UUID{first.ID, second.ID}})
	assert.Equal(t, OutcomeReverted, out[first.ID])
	assert.Equal(t, OutcomeCompleted, out[second.ID])

	got := f.reload(t, first.ID)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

// stuckRepo fails every terminal write, leaving reports enqueued.
type stuckRepo struct {
	reportsrepo.ReportRepo
}

func (stuckRepo) MarkErrored(dbctx.Context, uuid.UUID, string) error {
	return errors.New("conn reset by peer")
}

func TestRunNacksWhenReportCannotBeSettled(t *testing.T) {
	f := newFixture(t, notAReport)
	p, err := New(f.db, testutil.Logger(t), Deps{
		Reports:   stuckRepo{f.reports},
		Facets:    f.facets,
		OCR:       f.ocr,
		Extractor: f.extractor,
		Queue:     f.queue,
	}, f.pipeline.cfg)
	require.NoError(t, err)

	r := f.seed(t, types.StatusEnqueued, false)
	payload, err := json.Marshal(jobs.ReportTask{ReportIDs: []uuid.UUID{r.ID}})
	require.NoError(t, err)
	jc := jobrt.NewContext(context.Background(), &redisq.Message{Queue: jobs.QueueReportTasks, Payload: payload, Deliveries: 1}, testutil.Logger(t))

	err = p.Run(jc)
	require.Error(t, err)
	assert.True(t, jobs.IsTransient(err), "unsettled reports must be redelivered: %v", err)
	assert.Equal(t, types.StatusEnqueued, f.reload(t, r.ID).Status)

	// once the database recovers the redelivery settles the report
	require.NoError(t, f.pipeline.Run(jc))
	assert.Equal(t, types.StatusErrored, f.reload(t, r.ID).Status)
}
