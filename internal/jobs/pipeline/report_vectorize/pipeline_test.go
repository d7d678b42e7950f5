package report_vectorize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
	"github.com/yungbote/labtrace-backend/internal/vectorize"
)

type memIndex struct {
	points map[string]map[string]qdrant.Point
	ops    []string
}

func newMemIndex() *memIndex { return &memIndex{points: map[string]map[string]qdrant.Point{}} }

func (m *memIndex) Upsert(_ context.Context, collection string, points []qdrant.Point) error {
	m.ops = append(m.ops, "upsert:"+collection)
	if m.points[collection] == nil {
		m.points[collection] = map[string]qdrant.Point{}
	}
	for _, p := range points {
		m.points[collection][p.ID] = p
	}
	return nil
}

func (m *memIndex) DeleteByReportIDs(_ context.Context, collection string, ids []string) error {
	m.ops = append(m.ops, "delete:"+collection)
	for id, p := range m.points[collection] {
		for _, rid := range ids {
			if p.Payload[qdrant.PayloadReportID] == rid {
				delete(m.points[collection], id)
			}
		}
	}
	return nil
}

func (m *memIndex) ids(collection string) []string {
	out := make([]string, 0, len(m.points[collection]))
	for id := range m.points[collection] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, 4)
		v[0] = float32(len(in))
		out[i] = v
	}
	return out, nil
}

func newPipeline(t *testing.T, emb Embedder, idx Index) *Pipeline {
	t.Helper()
	p, err := New(logger.Nop(), emb, idx, Config{Collection: "reports", RawCollection: "reports_raw", MaxRawRunes: 1000})
	require.NoError(t, err)
	return p
}

func longRecord() map[string]any {
	rec := map[string]any{"test_name": "Comprehensive metabolic panel"}
	for i := 0; i < 40; i++ {
		rec[fmt.Sprintf("analyte_%02d", i)] = fmt.Sprintf("value %d mg/dL within reference", i)
	}
	return rec
}

func sampleJob() jobs.VectorizationJob {
	return jobs.VectorizationJob{
		ReportID: uuid.New(),
		OwnerID:  uuid.New(),
		Records: []types.Record{
			{Collection: types.CollectionMetadata, CollectionID: uuid.New(), Data: map[string]any{"lab_name": "Acme Labs", "report_date": "2024-01-05"}},
			{Collection: types.CollectionTestResults, CollectionID: uuid.New(), Data: longRecord()},
			{Collection: types.CollectionMedications, CollectionID: uuid.New(), Data: map[string]any{}},
		},
		RawText: "ACME LABS\nComprehensive metabolic panel",
	}
}

func TestVectorizeBuildsOwnedPoints(t *testing.T) {
	idx := newMemIndex()
	p := newPipeline(t, &fakeEmbedder{}, idx)
	job := sampleJob()

	res, err := p.Vectorize(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.RawPoints)
	assert.Greater(t, res.Points, 2)
	assert.Len(t, idx.points["reports"], res.Points)

	for _, pt := range idx.points["reports"] {
		assert.Equal(t, job.OwnerID.String(), pt.Payload[qdrant.PayloadUserID])
		assert.Equal(t, job.ReportID.String(), pt.Payload[qdrant.PayloadReportID])
		assert.NotEmpty(t, pt.Payload[qdrant.PayloadCollectionName])
		assert.False(t, pt.Sparse.Empty())
		assert.LessOrEqual(t, len([]rune(pt.Payload[qdrant.PayloadText].(string))), vectorize.DefaultChunkSize)
	}

	raw := idx.points["reports_raw"]
	require.Len(t, raw, 1)
	for id, pt := range raw {
		assert.Equal(t, qdrant.PointID(job.ReportID.String(), "raw"), id)
		assert.Equal(t, job.OwnerID.String(), pt.Payload[qdrant.PayloadUserID])
	}
	assert.Equal(t, []string{"delete:reports", "upsert:reports", "delete:reports_raw", "upsert:reports_raw"}, idx.ops)
}

func TestVectorizeChunksCoverEveryLine(t *testing.T) {
	idx := newMemIndex()
	p := newPipeline(t, &fakeEmbedder{}, idx)
	job := sampleJob()
	_, err := p.Vectorize(context.Background(), job)
	require.NoError(t, err)

	rec := job.Records[1]
	var texts []string
	for _, pt := range idx.points["reports"] {
		if pt.Payload[qdrant.PayloadCollectionID] == rec.CollectionID.String() {
			texts = append(texts, pt.Payload[qdrant.PayloadText].(string))
		}
	}
	require.Greater(t, len(texts), 1)
	for _, line := range vectorize.Flatten(vectorize.CleanRecord(rec.Data)) {
		found := false
		for _, text := range texts {
			if strings.Contains(text, line) {
				found = true
				break
			}
		}
		assert.True(t, found, "line %q not contained in any chunk", line)
	}
}

func TestVectorizeRedeliveryConverges(t *testing.T) {
	idx := newMemIndex()
	p := newPipeline(t, &fakeEmbedder{}, idx)
	job := sampleJob()

	_, err := p.Vectorize(context.Background(), job)
	require.NoError(t, err)
	first := idx.ids("reports")

	_, err = p.Vectorize(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, first, idx.ids("reports"))

	// a smaller record set leaves no stale points behind
	job.Records = job.Records[:1]
	_, err = p.Vectorize(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, idx.ids("reports"), 1)
}

func TestVectorizeRejectsJobWithoutOwner(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{}, newMemIndex())
	job := sampleJob()
	job.OwnerID = uuid.Nil
	_, err := p.Vectorize(context.Background(), job)
	assert.ErrorIs(t, err, apperr.ErrPermanent)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestVectorizeEmbedFailureLeavesIndexUntouched(t *testing.T) {
	idx := newMemIndex()
	boom := apperr.Transient(errors.New("openai 503"))
	p := newPipeline(t, &fakeEmbedder{err: boom}, idx)
	_, err := p.Vectorize(context.Background(), sampleJob())
	assert.ErrorIs(t, err, apperr.ErrTransient)
	assert.Empty(t, idx.ops)
}
