package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/labtrace-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

const documentTimeout = 3 * time.Minute

// DocumentReader runs a Document AI OCR processor over PDFs and scans.
type DocumentReader interface {
	ProcessBytes(ctx context.Context, data []byte, mimeType string) (*DocumentText, error)
	Close() error
}

// DocumentText is the flattened processor output. Tables are rendered as
// markdown so row and column structure survives into the extraction prompt.
type DocumentText struct {
	Processor string
	Text      string
	Tables    []string
	Pages     int
}

// Combined returns the body text followed by any tables.
func (d *DocumentText) Combined() string {
	if d == nil {
		return ""
	}
	parts := make([]string, 0, len(d.Tables)+1)
	if t := strings.TrimSpace(d.Text); t != "" {
		parts = append(parts, t)
	}
	for _, tbl := range d.Tables {
		if t := strings.TrimSpace(tbl); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

type ProcessorConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	Version     string
}

func ProcessorConfigFromEnv() ProcessorConfig {
	cfg := ProcessorConfig{
		ProjectID:   strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID")),
		Location:    strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION")),
		ProcessorID: strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID")),
		Version:     strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_VERSION")),
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = strings.TrimSpace(os.Getenv("GCP_PROJECT_ID"))
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	return cfg
}

func (c ProcessorConfig) Enabled() bool {
	return processorName(c.ProjectID, c.Location, c.ProcessorID, c.Version) != ""
}

type documentReader struct {
	log       *logger.Logger
	client    *documentai.DocumentProcessorClient
	processor string
}

func NewDocumentReader(log *logger.Logger, cfg ProcessorConfig) (DocumentReader, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.Version)
	if name == "" {
		return nil, fmt.Errorf("documentai processor not configured (DOCUMENTAI_PROJECT_ID, DOCUMENTAI_PROCESSOR_ID)")
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	slog := log.With("service", "gcp.DocumentReader")
	slog.Info("Document AI initialized", "endpoint", endpoint, "processor", name)
	return &documentReader{log: slog, client: c, processor: name}, nil
}

func (s *documentReader) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *documentReader) ProcessBytes(ctx context.Context, data []byte, mimeType string) (*DocumentText, error) {
	if len(data) == 0 {
		return &DocumentText{Processor: s.processor}, nil
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), documentTimeout)
	defer cancel()

	resp, err := s.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, ClassifyRPCError(fmt.Errorf("documentai ProcessDocument: %w", err))
	}
	if resp == nil {
		return &DocumentText{Processor: s.processor}, nil
	}
	return documentText(resp.Document, s.processor), nil
}

func documentText(doc *documentaipb.Document, processor string) *DocumentText {
	out := &DocumentText{Processor: processor}
	if doc == nil {
		return out
	}
	out.Text = normalizeOCRText(doc.Text)
	out.Pages = len(doc.Pages)
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		for _, table := range p.Tables {
			if md := strings.TrimSpace(tableToMarkdown(doc.Text, table)); md != "" {
				out.Tables = append(out.Tables, md)
			}
		}
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start < end {
			b.WriteString(full[start:end])
		}
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}
	var header []string
	if len(t.HeaderRows) > 0 {
		header = rowCells(full, t.HeaderRows[0])
	}
	body := t.BodyRows
	if len(header) == 0 && len(body) > 0 {
		header = rowCells(full, body[0])
		body = body[1:]
	}
	if len(header) == 0 {
		return ""
	}
	rows := [][]string{header}
	for _, r := range body {
		if r != nil {
			rows = append(rows, rowCells(full, r))
		}
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	var out strings.Builder
	for i, r := range rows {
		for len(r) < cols {
			r = append(r, "")
		}
		out.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			out.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
		}
	}
	return out.String()
}

func rowCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil {
			out = append(out, "")
			continue
		}
		cell := strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor))
		out = append(out, strings.ReplaceAll(cell, "|", "\\|"))
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if v := strings.TrimSpace(version); v != "" {
		return base + "/processorVersions/" + v
	}
	return base
}
