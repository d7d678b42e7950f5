package app

import (
	"context"
	"time"

	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
)

// VectorStore is the slice of the Qdrant store the pipelines and retrieval use.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, points []qdrant.Point) error
	HybridSearch(ctx context.Context, collection string, q qdrant.HybridQuery) ([]qdrant.ScoredPoint, error)
	DeleteByReportIDs(ctx context.Context, collection string, ids []string) error
}

type instrumentedVectorStore struct {
	inner   VectorStore
	metrics *observability.Metrics
}

func instrumentVectorStore(inner VectorStore) VectorStore {
	if inner == nil {
		return nil
	}
	return &instrumentedVectorStore{
		inner:   inner,
		metrics: observability.Current(),
	}
}

func (s *instrumentedVectorStore) Upsert(ctx context.Context, collection string, points []qdrant.Point) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, collection, points)
	s.observe("upsert", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) HybridSearch(ctx context.Context, collection string, q qdrant.HybridQuery) ([]qdrant.ScoredPoint, error) {
	start := time.Now()
	out, err := s.inner.HybridSearch(ctx, collection, q)
	s.observe("hybrid_search", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) DeleteByReportIDs(ctx context.Context, collection string, ids []string) error {
	start := time.Now()
	err := s.inner.DeleteByReportIDs(ctx, collection, ids)
	s.observe("delete", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) observe(operation string, err error, dur time.Duration) {
	if s == nil || s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveStage("vector_"+operation, status, dur)
}
