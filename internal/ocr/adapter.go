package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/labtrace-backend/internal/observability"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
	"github.com/yungbote/labtrace-backend/internal/platform/media"
	"github.com/yungbote/labtrace-backend/internal/platform/pdftext"
)

const (
	EngineVision   = "gcp_vision"
	EngineDocument = "gcp_documentai"
	EnginePDFText  = "pdf_text"
	pageSeparator  = "\n\n"
)

// Engine turns one report image or document into text.
type Engine interface {
	ExtractText(ctx context.Context, ref string) (string, error)
}

type Adapter struct {
	log        *logger.Logger
	fetcher    media.Fetcher
	vision     gcp.Vision
	documents  gcp.DocumentReader
	preprocess bool
}

type Options struct {
	Fetcher media.Fetcher
	Vision  gcp.Vision
	// Documents is optional; without it scanned PDFs fail permanently.
	Documents  gcp.DocumentReader
	Preprocess bool
}

func NewAdapter(log *logger.Logger, opts Options) (*Adapter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("media fetcher required")
	}
	if opts.Vision == nil {
		return nil, fmt.Errorf("vision client required")
	}
	return &Adapter{
		log:        log.With("service", "ocr.Adapter"),
		fetcher:    opts.Fetcher,
		vision:     opts.Vision,
		documents:  opts.Documents,
		preprocess: opts.Preprocess,
	}, nil
}

// ExtractText fetches ref and returns its text. PDFs use their embedded text
// layer when it is usable and fall back to Document AI. Images go through
// Preprocess and Vision. Empty text is a valid result.
func (a *Adapter) ExtractText(ctx context.Context, ref string) (text string, err error) {
	ctx, span := observability.StartSpan(ctx, "ocr.extract_text", attribute.String("ref_scheme", scheme(ref)))
	defer func() { observability.EndSpan(span, err) }()

	blob, err := a.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	if media.IsPDF(blob.ContentType) {
		return a.extractPDF(ctx, ref, blob.Data)
	}
	return a.extractImage(ctx, ref, blob.Data)
}

// ExtractAll runs ExtractText over refs in order and joins the non-empty
// texts with blank lines.
func (a *Adapter) ExtractAll(ctx context.Context, refs []string) (string, error) {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		t, err := a.ExtractText(ctx, ref)
		if err != nil {
			return "", err
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, pageSeparator), nil
}

func (a *Adapter) extractPDF(ctx context.Context, ref string, data []byte) (string, error) {
	text, err := pdftext.Extract(data)
	if err == nil && pdftext.Usable(text) {
		observability.Current().ObserveOCR(EnginePDFText, "ok")
		return text, nil
	}
	if err != nil {
		a.log.Debug("pdf text layer unavailable", "ref", ref, "error", err)
	}
	if a.documents == nil {
		observability.Current().ObserveOCR(EngineDocument, "unconfigured")
		return "", apperr.Permanent(fmt.Errorf("scanned pdf %s needs document ocr, which is not configured", ref))
	}
	start := time.Now()
	doc, err := a.documents.ProcessBytes(ctx, data, "application/pdf")
	if err != nil {
		observability.Current().ObserveOCR(EngineDocument, "error")
		return "", fmt.Errorf("document ocr %s: %w", ref, err)
	}
	observability.Current().ObserveOCR(EngineDocument, "ok")
	a.log.Debug("document ocr done", "ref", ref, "pages", doc.Pages, "tables", len(doc.Tables), "elapsed", time.Since(start))
	return doc.Combined(), nil
}

func (a *Adapter) extractImage(ctx context.Context, ref string, data []byte) (string, error) {
	img := data
	if a.preprocess {
		if processed, err := Preprocess(data); err == nil {
			img = processed
		} else {
			// Vision accepts formats the local decoders do not
			a.log.Warn("image preprocessing skipped", "ref", ref, "error", err)
		}
	}
	res, err := a.vision.OCRImageBytes(ctx, img)
	if err != nil {
		observability.Current().ObserveOCR(EngineVision, "error")
		return "", fmt.Errorf("image ocr %s: %w", ref, err)
	}
	observability.Current().ObserveOCR(EngineVision, "ok")
	if res.Text == "" {
		a.log.Info("image ocr returned no text", "ref", ref)
	}
	return res.Text, nil
}

func scheme(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return strings.ToLower(ref[:i])
	}
	return "file"
}
