package report_vectorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/labtrace-backend/internal/jobs"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
	"github.com/yungbote/labtrace-backend/internal/vectorize"
)

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Index is the write side of the vector store.
type Index interface {
	Upsert(ctx context.Context, collection string, points []qdrant.Point) error
	DeleteByReportIDs(ctx context.Context, collection string, ids []string) error
}

type Config struct {
	Collection string
	// RawCollection holds one whole-text point per report; empty disables it.
	RawCollection string
	ChunkSize     int
	ChunkOverlap  int
	// MaxRawRunes truncates raw OCR text before embedding.
	MaxRawRunes int
}

func ConfigFromEnv() Config {
	return Config{
		Collection:    envutil.String("QDRANT_COLLECTION", "lab_reports"),
		RawCollection: envutil.String("QDRANT_RAW_COLLECTION", "lab_reports_raw"),
		ChunkSize:     envutil.Int("VECTORIZE_CHUNK_SIZE", vectorize.DefaultChunkSize),
		ChunkOverlap:  envutil.Int("VECTORIZE_CHUNK_OVERLAP", vectorize.DefaultChunkOverlap),
		MaxRawRunes:   envutil.Int("VECTORIZE_MAX_RAW_RUNES", 20000),
	}
}

type Pipeline struct {
	log      *logger.Logger
	cfg      Config
	embedder Embedder
	index    Index
	sparse   *vectorize.SparseEncoder
}

func New(baseLog *logger.Logger, embedder Embedder, index Index, cfg Config) (*Pipeline, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("embedder and index are required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("collection required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = vectorize.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = vectorize.DefaultChunkOverlap
	}
	return &Pipeline{
		log:      baseLog.With("job", "report_vectorize"),
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		sparse:   vectorize.NewSparseEncoder(),
	}, nil
}

func (p *Pipeline) Queue() string { return jobs.QueueVectorization }
