package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/data/repos/testutil"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
)

type recordingQueue struct {
	err   error
	tasks []jobs.ReportTask
}

func (q *recordingQueue) Push(_ context.Context, queue string, v any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	if queue != jobs.QueueReportTasks {
		return "", errors.New("unexpected queue " + queue)
	}
	q.tasks = append(q.tasks, v.(jobs.ReportTask))
	return uuid.NewString(), nil
}

func setup(t *testing.T, q jobs.Publisher) (*Scheduler, reportsrepo.ReportRepo, func(types.Status, bool) *types.Report) {
	t.Helper()
	if !testutil.Isolated() {
		t.Skip("admission tests need a private database")
	}
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := reportsrepo.NewReportRepo(db, log)
	s, err := New(log, repo, q, Config{BatchSize: 10})
	require.NoError(t, err)
	owner := uuid.New()
	seed := func(status types.Status, deleted bool) *types.Report {
		return testutil.SeedReport(t, context.Background(), db, owner, status, deleted)
	}
	return s, repo, seed
}

func statusOf(t *testing.T, repo reportsrepo.ReportRepo, id uuid.UUID) types.Status {
	r, err := repo.Get(dbctx.Context{Ctx: context.Background()}, id)
	require.NoError(t, err)
	return r.Status
}

func TestRunOnceClaimsBatches(t *testing.T) {
	q := &recordingQueue{}
	s, repo, seed := setup(t, q)
	var pending []*types.Report
	for i := 0; i < 12; i++ {
		pending = append(pending, seed(types.StatusPending, false))
	}
	deleted := seed(types.StatusPending, true)
	done := seed(types.StatusCompleted, false)

	first, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 10)

	second, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 2)

	third, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, third)

	require.Len(t, q.tasks, 2)
	assert.ElementsMatch(t, first, q.tasks[0].ReportIDs)
	assert.ElementsMatch(t, second, q.tasks[1].ReportIDs)

	for _, r := range pending {
		assert.Equal(t, types.StatusEnqueued, statusOf(t, repo, r.ID))
	}
	assert.Equal(t, types.StatusPending, statusOf(t, repo, deleted.ID))
	assert.Equal(t, types.StatusCompleted, statusOf(t, repo, done.ID))
}

func TestRunOnceRevertsWhenPushFails(t *testing.T) {
	q := &recordingQueue{err: errors.New("redis: connection refused")}
	s, repo, seed := setup(t, q)
	a := seed(types.StatusPending, false)
	b := seed(types.StatusPending, false)

	ids, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, types.StatusPending, statusOf(t, repo, a.ID))
	assert.Equal(t, types.StatusPending, statusOf(t, repo, b.ID))

	// the next tick picks them up once the queue is back
	q.err = nil
	ids, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)
}

func TestRunOnceReclaimsStaleEnqueued(t *testing.T) {
	if !testutil.Isolated() {
		t.Skip("admission tests need a private database")
	}
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := reportsrepo.NewReportRepo(db, log)
	q := &recordingQueue{}
	s, err := New(log, repo, q, Config{BatchSize: 10, StaleAfter: time.Hour})
	require.NoError(t, err)

	owner := uuid.New()
	lost := testutil.SeedReport(t, context.Background(), db, owner, types.StatusEnqueued, false)
	inFlight := testutil.SeedReport(t, context.Background(), db, owner, types.StatusEnqueued, false)
	require.NoError(t, db.Model(&types.Report{}).Where("id = ?", lost.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	ids, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{lost.ID}, ids, "the lost report is re-admitted in the same tick")
	require.Len(t, q.tasks, 1)
	assert.Equal(t, types.StatusEnqueued, statusOf(t, repo, lost.ID))
	assert.Equal(t, types.StatusEnqueued, statusOf(t, repo, inFlight.ID))
	assert.NotContains(t, q.tasks[0].ReportIDs, inFlight.ID)
}
