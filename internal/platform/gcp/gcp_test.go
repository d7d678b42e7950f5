package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

func TestParseGCSURI(t *testing.T) {
	b, k, err := ParseGCSURI("gs://labs/u1/report.jpg")
	if err != nil || b != "labs" || k != "u1/report.jpg" {
		t.Fatalf("got bucket=%q key=%q err=%v", b, k, err)
	}
	if _, _, err := ParseGCSURI("s3://labs/x"); err == nil {
		t.Fatalf("expected error for non-gs uri")
	}
	if _, _, err := ParseGCSURI("gs:///x"); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}

func TestResolveStorageConfigFromEnv(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	cfg, err := ResolveStorageConfigFromEnv()
	if err != nil || cfg.Mode != StorageModeGCS {
		t.Fatalf("default: cfg=%+v err=%v", cfg, err)
	}

	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")
	cfg, err = ResolveStorageConfigFromEnv()
	if err != nil || !cfg.IsEmulatorMode() {
		t.Fatalf("emulator inferred: cfg=%+v err=%v", cfg, err)
	}

	t.Setenv("OBJECT_STORAGE_MODE", "s3")
	_, err = ResolveStorageConfigFromEnv()
	var cfgErr *StorageConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != StorageConfigErrorInvalidMode {
		t.Fatalf("want invalid_mode, got %v", err)
	}

	t.Setenv("OBJECT_STORAGE_MODE", "gcs_emulator")
	t.Setenv("STORAGE_EMULATOR_HOST", "fake-gcs")
	_, err = ResolveStorageConfigFromEnv()
	if !errors.As(err, &cfgErr) || cfgErr.Code != StorageConfigErrorInvalidEmulatorHost {
		t.Fatalf("want invalid_emulator_host, got %v", err)
	}
}

func TestObjectReaderEmulatorRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/storage/v1/b/labs/o/u1/scan.png" && r.URL.Query().Get("alt") == "media" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
			return
		}
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	r, err := NewObjectReader(logger.Nop(), StorageConfig{Mode: StorageModeGCSEmulator, EmulatorHost: srv.URL})
	if err != nil {
		t.Fatalf("NewObjectReader: %v", err)
	}
	defer r.Close()

	obj, err := r.Read(context.Background(), "gs://labs/u1/scan.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(obj.Data) != "png-bytes" || obj.ContentType != "image/png" {
		t.Fatalf("unexpected object: %q %q", obj.Data, obj.ContentType)
	}

	_, err = r.Read(context.Background(), "gs://labs/missing.png")
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) || dlErr.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 DownloadError, got %v", err)
	}
	if httpx.IsRetryableError(err) {
		t.Fatalf("404 should not be retryable")
	}
}

func anchor(full, sub string) *documentaipb.Document_TextAnchor {
	for i := 0; i+len(sub) <= len(full); i++ {
		if full[i:i+len(sub)] == sub {
			return &documentaipb.Document_TextAnchor{TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
				{StartIndex: int64(i), EndIndex: int64(i + len(sub))},
			}}
		}
	}
	panic(fmt.Sprintf("%q not in %q", sub, full))
}

func cell(full, sub string) *documentaipb.Document_Page_Table_TableCell {
	return &documentaipb.Document_Page_Table_TableCell{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(full, sub)}}
}

func TestDocumentTextRendersTables(t *testing.T) {
	full := "Glucose 92 mg/dL\nTest Result"
	doc := &documentaipb.Document{
		Text: full,
		Pages: []*documentaipb.Document_Page{{
			Tables: []*documentaipb.Document_Page_Table{{
				HeaderRows: []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{
					cell(full, "Test"), cell(full, "Result"),
				}}},
				BodyRows: []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{
					cell(full, "Glucose"), cell(full, "92 mg/dL"),
				}}},
			}},
		}},
	}
	out := documentText(doc, "projects/p/locations/us/processors/x")
	want := "| Test | Result |\n| --- | --- |\n| Glucose | 92 mg/dL |\n"
	if len(out.Tables) != 1 || out.Tables[0] != want {
		t.Fatalf("table markdown:\n%q\nwant\n%q", out.Tables, want)
	}
	if out.Pages != 1 || out.Text != full {
		t.Fatalf("unexpected text/pages: %+v", out)
	}
	if got := out.Combined(); got != full+"\n\n"+want[:len(want)-1] {
		t.Fatalf("combined: %q", got)
	}
}

func TestProcessorName(t *testing.T) {
	if got := processorName("p", "us", "abc", ""); got != "projects/p/locations/us/processors/abc" {
		t.Fatalf("got %q", got)
	}
	if got := processorName("p", "eu", "abc", "v2"); got != "projects/p/locations/eu/processors/abc/processorVersions/v2" {
		t.Fatalf("got %q", got)
	}
	if (ProcessorConfig{Location: "us"}).Enabled() {
		t.Fatalf("processor without ids should be disabled")
	}
}

func TestImageTextConfidence(t *testing.T) {
	resp := &visionpb.AnnotateImageResponse{FullTextAnnotation: &visionpb.TextAnnotation{
		Text: "HbA1c 5.4 %\r\nLDL 110 mg/dL\n",
		Pages: []*visionpb.Page{
			{Blocks: []*visionpb.Block{{Confidence: 0.9}, {Confidence: 0.7}}},
		},
	}}
	out, err := imageText(resp)
	if err != nil {
		t.Fatalf("imageText: %v", err)
	}
	if out.Text != "HbA1c 5.4 %\nLDL 110 mg/dL" {
		t.Fatalf("text: %q", out.Text)
	}
	if out.Confidence < 0.79 || out.Confidence > 0.81 {
		t.Fatalf("confidence: %v", out.Confidence)
	}

	_, err = imageText(&visionpb.AnnotateImageResponse{Error: &rpcstatus.Status{Code: 3, Message: "bad image data"}})
	if err == nil {
		t.Fatalf("expected annotate error")
	}
}

func TestClassifyRPCError(t *testing.T) {
	err := ClassifyRPCError(fmt.Errorf("vision: %w", status.Error(codes.Unavailable, "down")))
	if !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("unavailable should be transient: %v", err)
	}
	err = ClassifyRPCError(status.Error(codes.InvalidArgument, "bad image"))
	if !errors.Is(err, apperr.ErrPermanent) {
		t.Fatalf("invalid argument should be permanent: %v", err)
	}
	if ClassifyRPCError(nil) != nil {
		t.Fatalf("nil in, nil out")
	}
}
