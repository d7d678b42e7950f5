package report_vectorize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/labtrace-backend/internal/jobs"
	jobrt "github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	"github.com/yungbote/labtrace-backend/internal/observability"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
	"github.com/yungbote/labtrace-backend/internal/vectorize"
)

// Result summarises one vectorization.
type Result struct {
	Records   int
	Points    int
	RawPoints int
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil {
		return nil
	}
	var job jobs.VectorizationJob
	if err := jc.Decode(&job); err != nil {
		return apperr.Permanent(err)
	}
	res, err := p.Vectorize(jc.Ctx, job)
	if err != nil {
		return err
	}
	jc.Log.Info("report vectorized", "report_id", job.ReportID, "records", res.Records, "points", res.Points, "raw_points", res.RawPoints)
	return nil
}

// Vectorize replaces every point of job.ReportID with freshly embedded
// chunks. Point ids are derived from (report, collection, row, chunk), so a
// redelivered job converges to the same point set.
func (p *Pipeline) Vectorize(ctx context.Context, job jobs.VectorizationJob) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "report_vectorize.vectorize",
		attribute.String("report_id", job.ReportID.String()),
		attribute.Int("records", len(job.Records)),
	)
	defer func() { observability.EndSpan(span, err) }()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.Current().ObserveStage("vectorize", status, time.Since(start))
	}()

	if job.ReportID == uuid.Nil || job.OwnerID == uuid.Nil {
		return res, apperr.Permanent(fmt.Errorf("%w: report_id and owner_id are required", apperr.ErrInvalidArgument))
	}
	reportID := job.ReportID.String()
	ownerID := job.OwnerID.String()

	points := make([]qdrant.Point, 0, len(job.Records))
	for _, rec := range job.Records {
		text := vectorize.Text(rec.Data)
		if text == "" {
			continue
		}
		res.Records++
		chunks := vectorize.Chunk(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		dense, err := p.embed(ctx, chunks)
		if err != nil {
			return res, fmt.Errorf("embed %s/%s: %w", rec.Collection, rec.CollectionID, err)
		}
		collectionID := rec.CollectionID.String()
		for i, chunk := range chunks {
			points = append(points, qdrant.Point{
				ID:     qdrant.PointID(reportID, rec.Collection, collectionID, fmt.Sprint(i)),
				Dense:  dense[i],
				Sparse: p.sparse.Encode(chunk),
				Payload: map[string]any{
					qdrant.PayloadUserID:         ownerID,
					qdrant.PayloadReportID:       reportID,
					qdrant.PayloadChunkID:        i,
					qdrant.PayloadCollectionName: rec.Collection,
					qdrant.PayloadCollectionID:   collectionID,
					qdrant.PayloadText:           chunk,
				},
			})
		}
	}

	if err := p.replace(ctx, p.cfg.Collection, reportID, points); err != nil {
		return res, err
	}
	res.Points = len(points)

	if p.cfg.RawCollection == "" {
		return res, nil
	}
	raw := truncateRunes(strings.TrimSpace(job.RawText), p.cfg.MaxRawRunes)
	var rawPoints []qdrant.Point
	if raw != "" {
		dense, err := p.embed(ctx, []string{raw})
		if err != nil {
			return res, fmt.Errorf("embed raw text: %w", err)
		}
		rawPoints = append(rawPoints, qdrant.Point{
			ID:     qdrant.PointID(reportID, "raw"),
			Dense:  dense[0],
			Sparse: p.sparse.Encode(raw),
			Payload: map[string]any{
				qdrant.PayloadUserID:   ownerID,
				qdrant.PayloadReportID: reportID,
			},
		})
	}
	if err := p.replace(ctx, p.cfg.RawCollection, reportID, rawPoints); err != nil {
		return res, err
	}
	res.RawPoints = len(rawPoints)
	return res, nil
}

// replace deletes the report's points in collection before inserting points.
func (p *Pipeline) replace(ctx context.Context, collection, reportID string, points []qdrant.Point) error {
	if err := p.index.DeleteByReportIDs(ctx, collection, []string{reportID}); err != nil {
		return fmt.Errorf("delete prior points in %s: %w", collection, err)
	}
	if len(points) == 0 {
		return nil
	}
	if err := p.index.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	observability.Current().AddVectorPoints(collection, len(points))
	return nil
}

func (p *Pipeline) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, err := p.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(inputs))
	}
	return vecs, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
