package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/labtrace-backend/internal/pkg/ctxutil"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

const maxErrorBodyBytes = 1024

var pointIDNamespaceUUID = uuid.MustParse("6a3c2f0e-9d1b-4f57-8a43-1c2e7d5b9f60")

type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

func (v SparseVector) Empty() bool { return len(v.Indices) == 0 }

type Point struct {
	ID      string
	Dense   []float32
	Sparse  SparseVector
	Payload map[string]any
}

type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// PayloadString returns a string payload value or "".
func (p ScoredPoint) PayloadString(key string) string {
	if p.Payload == nil {
		return ""
	}
	s, _ := p.Payload[key].(string)
	return s
}

type HybridQuery struct {
	OwnerID string
	Dense   []float32
	Sparse  SparseVector
	TopK    int
	// PrefetchLimit bounds each branch before fusion. Zero uses the store default.
	PrefetchLimit int
	// Extra conditions are ANDed with the owner condition.
	Extra []Condition
}

// Store talks to Qdrant over its REST API. Each collection carries a named
// dense vector and a named sparse vector with the IDF modifier.
type Store struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantScoredItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewStore(log *logger.Logger, cfg Config) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.PrefetchLimit <= 0 {
		cfg.PrefetchLimit = DefaultPrefetchLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Store{
		log:     log.With("service", "QdrantStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	if err := s.Ready(context.Background()); err != nil {
		return nil, err
	}
	log.Info(
		"Qdrant store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"raw_collection", cfg.RawCollection,
		"dense_dim", cfg.DenseDim,
	)
	return s, nil
}

func (s *Store) Config() Config { return s.cfg }

// Ready pings /readyz.
func (s *Store) Ready(ctx context.Context) error {
	const op = "ready"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", resp.StatusCode),
		}
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes when missing.
// An existing collection is checked for a matching dense dimension.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	const op = "ensure_collection"
	name = strings.TrimSpace(name)
	if name == "" {
		return opErr(op, OperationErrorValidation, "collection name required", nil)
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors map[string]struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, collectionPath(name, ""), nil, &info)
	if err == nil {
		dense, ok := info.Config.Params.Vectors[DenseVectorName]
		if !ok {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection %q has no %q vector", name, DenseVectorName), nil)
		}
		if dense.Size != s.cfg.DenseDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection %q dense size mismatch: expected=%d actual=%d", name, s.cfg.DenseDim, dense.Size), nil)
		}
		return nil
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
		return err
	}

	create := map[string]any{
		"vectors": map[string]any{
			DenseVectorName: map[string]any{"size": s.cfg.DenseDim, "distance": "Cosine"},
		},
		"sparse_vectors": map[string]any{
			SparseVectorName: map[string]any{"modifier": "idf"},
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, collectionPath(name, ""), create, nil); err != nil {
		return err
	}
	for _, field := range []string{PayloadUserID, PayloadReportID} {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.doJSON(ctx, op, http.MethodPut, collectionPath(name, "/index?wait=true"), idx, nil); err != nil {
			return err
		}
	}
	s.log.Info("Qdrant collection created", "collection", name, "dense_dim", s.cfg.DenseDim)
	return nil
}

// Upsert writes points; every point must carry a user_id payload.
func (s *Store) Upsert(ctx context.Context, collection string, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Dense) != s.cfg.DenseDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q dense dimension mismatch: expected=%d got=%d", id, s.cfg.DenseDim, len(p.Dense)), nil)
		}
		if len(p.Sparse.Indices) != len(p.Sparse.Values) {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q sparse indices/values length mismatch", id), nil)
		}
		if owner, _ := p.Payload[PayloadUserID].(string); strings.TrimSpace(owner) == "" {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q missing %s payload", id, PayloadUserID), nil)
		}
		vectors := map[string]any{DenseVectorName: p.Dense}
		if !p.Sparse.Empty() {
			vectors[SparseVectorName] = p.Sparse
		}
		body = append(body, map[string]any{
			"id":      id,
			"vector":  vectors,
			"payload": clonePayload(p.Payload),
		})
	}
	return s.doJSON(ctx, op, http.MethodPut, collectionPath(collection, "/points?wait=true"), map[string]any{"points": body}, nil)
}

// HybridSearch runs a sparse and a dense prefetch under the owner filter and
// fuses them with reciprocal rank fusion.
func (s *Store) HybridSearch(ctx context.Context, collection string, q HybridQuery) ([]ScoredPoint, error) {
	const op = "hybrid_search"
	owner := strings.TrimSpace(q.OwnerID)
	if owner == "" {
		return nil, opErr(op, OperationErrorValidation, "owner id is required", apperr.ErrInvalidArgument)
	}
	if len(q.Dense) != s.cfg.DenseDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query dense dimension mismatch: expected=%d got=%d", s.cfg.DenseDim, len(q.Dense)), nil)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	prefetchLimit := q.PrefetchLimit
	if prefetchLimit <= 0 {
		prefetchLimit = s.cfg.PrefetchLimit
	}
	// fusion needs spare candidates beyond the final page
	if prefetchLimit <= topK {
		prefetchLimit = topK + DefaultPrefetchLimit
	}

	filter := OwnerFilter(owner, q.Extra...)
	prefetch := make([]map[string]any, 0, 2)
	if !q.Sparse.Empty() {
		prefetch = append(prefetch, map[string]any{
			"query":  q.Sparse,
			"using":  SparseVectorName,
			"limit":  prefetchLimit,
			"filter": filter,
		})
	}
	prefetch = append(prefetch, map[string]any{
		"query":  q.Dense,
		"using":  DenseVectorName,
		"limit":  prefetchLimit,
		"filter": filter,
	})
	req := map[string]any{
		"prefetch":     prefetch,
		"query":        map[string]any{"fusion": "rrf"},
		"filter":       filter,
		"limit":        topK,
		"with_payload": true,
	}

	var result struct {
		Points []qdrantScoredItem `json:"points"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, collectionPath(collection, "/points/query"), req, &result); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(result.Points))
	for _, item := range result.Points {
		got, _ := item.Payload[PayloadUserID].(string)
		if got != owner {
			s.log.Error("Qdrant returned a point outside the owner filter",
				"collection", collection, "owner_id", owner, "point_id", decodePointID(item.ID))
			return nil, fmt.Errorf("qdrant %s: point %s: %w", op, decodePointID(item.ID), apperr.ErrTenantIsolation)
		}
		out = append(out, ScoredPoint{
			ID:      decodePointID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out, nil
}

// DeleteByReportIDs removes every point whose report_id is in ids.
func (s *Store) DeleteByReportIDs(ctx context.Context, collection string, ids []string) error {
	const op = "delete"
	cond := MatchAny(PayloadReportID, ids)
	if len(cond.Match.Any) == 0 {
		return nil
	}
	req := map[string]any{"filter": Filter{Must: []Condition{cond}}}
	return s.doJSON(ctx, op, http.MethodPost, collectionPath(collection, "/points/delete?wait=true"), req, nil)
}

// PointID derives a stable UUID so re-vectorizing the same chunk overwrites it.
func PointID(parts ...string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(strings.Join(parts, "|"))).String()
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := OperationErrorQueryFailed
		if resp.StatusCode == http.StatusNotFound {
			code = OperationErrorNotFound
		}
		return &OperationError{
			Code:       code,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func collectionPath(name, suffix string) string {
	return "/collections/" + name + suffix
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}
