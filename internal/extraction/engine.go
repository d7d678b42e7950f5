package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

// NotAReportSentinel is what the model answers for text that is not a lab report.
const NotAReportSentinel = "NOT A VALID TEST REPORT"

var (
	// ErrNotAReport is a content fault and is never retried.
	ErrNotAReport = errors.New("not a valid test report")
	// ErrMalformed means the completion could not be decoded; a fresh
	// completion may succeed.
	ErrMalformed = errors.New("malformed extraction completion")
)

// ParseError carries the completion that failed to decode so callers can
// quarantine it.
type ParseError struct {
	Completion string
	Err        error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%v: %v", ErrMalformed, e.Err) }

func (e *ParseError) Unwrap() []error { return []error{ErrMalformed, e.Err} }

// Completer is the single LLM call the engine needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extraction is one successful decode.
type Extraction struct {
	Result     *Result
	Completion string
}

// Facets maps the extraction onto rows owned by reportID.
func (x *Extraction) Facets(reportID uuid.UUID, rawText string) types.FacetSet {
	if x == nil {
		return types.FacetSet{}
	}
	return x.Result.Facets(reportID, rawText)
}

type Engine struct {
	log *logger.Logger
	llm Completer
}

func NewEngine(log *logger.Logger, llm Completer) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm required")
	}
	return &Engine{log: log.With("service", "extraction.Engine"), llm: llm}, nil
}

// Extract runs one completion over rawText. It returns ErrNotAReport for the
// sentinel answer and a *ParseError (matching ErrMalformed) when the JSON
// cannot be decoded. LLM transport errors are returned as-is.
func (e *Engine) Extract(ctx context.Context, rawText string) (x *Extraction, err error) {
	ctx, span := observability.StartSpan(ctx, "extraction.extract", attribute.Int("raw_text_len", len(rawText)))
	defer func() { observability.EndSpan(span, err) }()

	prompt, err := BuildPrompt(rawText)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	completion, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		observability.Current().ObserveStage("llm_extract", "error", time.Since(start))
		return nil, fmt.Errorf("extraction completion: %w", err)
	}
	observability.Current().ObserveStage("llm_extract", "ok", time.Since(start))

	if IsNotAReport(completion) {
		return nil, ErrNotAReport
	}
	res, err := Parse(completion)
	if err != nil {
		return nil, &ParseError{Completion: completion, Err: err}
	}
	return &Extraction{Result: res, Completion: completion}, nil
}

// IsNotAReport matches the sentinel case-insensitively, ignoring surrounding
// whitespace, quotes, fences and trailing punctuation.
func IsNotAReport(completion string) bool {
	s := strings.TrimSpace(StripFences(completion))
	s = strings.Trim(s, "\"'`.! \n\t")
	return strings.EqualFold(strings.Join(strings.Fields(s), " "), NotAReportSentinel)
}

var fenceRE = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\s*```$")

// StripFences removes one surrounding markdown code fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Parse decodes a completion into a Result. Text around the outermost JSON
// object is ignored.
func Parse(completion string) (*Result, error) {
	body := StripFences(completion)
	if i, j := strings.Index(body, "{"), strings.LastIndex(body, "}"); i >= 0 && j > i {
		body = body[i : j+1]
	} else {
		return nil, fmt.Errorf("no json object in completion")
	}
	var res Result
	err := json.Unmarshal([]byte(body), &res)
	if err == nil {
		return &res, nil
	}
	var repaired Result
	if rerr := json.Unmarshal([]byte(repairJSON(body)), &repaired); rerr == nil {
		return &repaired, nil
	}
	return nil, fmt.Errorf("decode completion: %w", err)
}
