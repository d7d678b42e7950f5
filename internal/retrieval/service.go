package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	reportsrepo "github.com/yungbote/labtrace-backend/internal/data/repos/reports"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
	"github.com/yungbote/labtrace-backend/internal/vectorize"
)

const defaultTopK = 5

// overfetch widens the index page so duplicate rows (several chunks of one
// record) and vanished rows still leave topK distinct hits.
const overfetch = 3

type VectorSearcher interface {
	HybridSearch(ctx context.Context, collection string, q qdrant.HybridQuery) ([]qdrant.ScoredPoint, error)
}

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Hit is one fused search result rehydrated from its facet row.
type Hit struct {
	PointID      string         `json:"point_id"`
	Score        float64        `json:"score"`
	ReportID     string         `json:"report_id"`
	Collection   string         `json:"collection_name"`
	CollectionID string         `json:"collection_id"`
	ChunkText    string         `json:"chunk_text,omitempty"`
	Record       map[string]any `json:"record"`
}

type Service struct {
	log        *logger.Logger
	index      VectorSearcher
	embedder   Embedder
	sparse     *vectorize.SparseEncoder
	facets     reportsrepo.FacetRepo
	llm        Completer
	collection string
}

type Deps struct {
	Index      VectorSearcher
	Embedder   Embedder
	Facets     reportsrepo.FacetRepo
	LLM        Completer
	Collection string
}

func NewService(log *logger.Logger, deps Deps) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Index == nil || deps.Embedder == nil || deps.Facets == nil {
		return nil, fmt.Errorf("index, embedder and facet repo are required")
	}
	if strings.TrimSpace(deps.Collection) == "" {
		return nil, fmt.Errorf("collection required")
	}
	return &Service{
		log:        log.With("service", "retrieval.Service"),
		index:      deps.Index,
		embedder:   deps.Embedder,
		sparse:     vectorize.NewSparseEncoder(),
		facets:     deps.Facets,
		llm:        deps.LLM,
		collection: deps.Collection,
	}, nil
}

// Search embeds query both ways, runs the owner-filtered hybrid query and
// rehydrates each hit. Hits whose facet row is gone (for example a report
// deleted but not yet purged) are dropped.
func (s *Service) Search(ctx context.Context, owner uuid.UUID, query string, topK int) (hits []Hit, err error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.search", attribute.Int("top_k", topK))
	defer func() { observability.EndSpan(span, err) }()

	if owner == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", apperr.ErrInvalidArgument)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrInvalidArgument)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	start := time.Now()
	var dense []float32
	var sparse qdrant.SparseVector
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := s.embedder.Embed(gctx, []string{query})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
		}
		dense = vecs[0]
		return nil
	})
	g.Go(func() error {
		sparse = s.sparse.Encode(query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	points, err := s.index.HybridSearch(ctx, s.collection, qdrant.HybridQuery{
		OwnerID: owner.String(),
		Dense:   dense,
		Sparse:  sparse,
		TopK:    topK * overfetch,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrTenantIsolation) {
			observability.Current().IncTenantViolation()
		}
		observability.Current().ObserveStage("search", "error", time.Since(start))
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	seen := map[string]struct{}{}
	hits = make([]Hit, 0, len(points))
	for _, p := range points {
		if len(hits) == topK {
			break
		}
		collection := p.PayloadString(qdrant.PayloadCollectionName)
		rawID := p.PayloadString(qdrant.PayloadCollectionID)
		if _, dup := seen[collection+"/"+rawID]; dup {
			continue
		}
		seen[collection+"/"+rawID] = struct{}{}

		id, err := uuid.Parse(rawID)
		if err != nil {
			s.log.Warn("search hit without a valid collection id", "point_id", p.ID, "collection", collection)
			continue
		}
		rec, err := s.facets.Lookup(dbctx.Context{Ctx: ctx}, owner, collection, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rehydrate %s/%s: %w", collection, rawID, err)
		}
		hits = append(hits, Hit{
			PointID:      p.ID,
			Score:        p.Score,
			ReportID:     p.PayloadString(qdrant.PayloadReportID),
			Collection:   collection,
			CollectionID: rawID,
			ChunkText:    p.PayloadString(qdrant.PayloadText),
			Record:       rec,
		})
	}
	observability.Current().ObserveStage("search", "ok", time.Since(start))
	return hits, nil
}

// Answer searches and asks the LLM to answer query from the hits.
func (s *Service) Answer(ctx context.Context, owner uuid.UUID, query string, topK int) (string, []Hit, error) {
	if s.llm == nil {
		return "", nil, fmt.Errorf("answer: llm not configured")
	}
	hits, err := s.Search(ctx, owner, query, topK)
	if err != nil {
		return "", nil, err
	}
	if len(hits) == 0 {
		return NoResultsAnswer, hits, nil
	}
	prompt, err := buildAnswerPrompt(query, hits)
	if err != nil {
		return "", nil, err
	}
	answer, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("answer completion: %w", err)
	}
	return strings.TrimSpace(answer), hits, nil
}
