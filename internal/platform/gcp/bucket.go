package gcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/labtrace-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

const maxObjectBytes = 64 << 20

// Object is a downloaded blob with its declared content type.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectReader downloads report images referenced as gs://bucket/key.
type ObjectReader interface {
	Read(ctx context.Context, uri string) (*Object, error)
	Close() error
}

type objectReader struct {
	log          *logger.Logger
	client       *storage.Client
	mode         StorageMode
	emulatorHost string
	httpClient   *http.Client
	timeout      time.Duration
}

func NewObjectReader(log *logger.Logger, cfg StorageConfig) (ObjectReader, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	client, err := newStorageClientForMode(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	r := &objectReader{
		log:          log.With("service", "gcp.ObjectReader"),
		client:       client,
		mode:         cfg.Mode,
		emulatorHost: strings.TrimRight(cfg.EmulatorHost, "/"),
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		timeout:      2 * time.Minute,
	}
	r.log.Info("Object storage reader initialized", "mode", cfg.Mode, "emulator_host", r.emulatorHost)
	return r, nil
}

func newStorageClientForMode(ctx context.Context, cfg StorageConfig) (*storage.Client, error) {
	if cfg.IsEmulatorMode() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(cfg.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
	return storage.NewClient(ctx, opts...)
}

func (r *objectReader) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *objectReader) Read(ctx context.Context, uri string) (*Object, error) {
	bucket, key, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("gs uri has no object key: %q", uri)
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), r.timeout)
	defer cancel()

	if r.mode == StorageModeGCSEmulator && r.emulatorHost != "" {
		return r.readEmulator(ctx, bucket, key)
	}
	rd, err := r.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gcs reader %s: %w", uri, err)
	}
	defer rd.Close()
	data, err := io.ReadAll(io.LimitReader(rd, maxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", uri, err)
	}
	if len(data) > maxObjectBytes {
		return nil, fmt.Errorf("gcs object %s exceeds %d bytes", uri, maxObjectBytes)
	}
	return &Object{Data: data, ContentType: rd.Attrs.ContentType}, nil
}

func (r *objectReader) readEmulator(ctx context.Context, bucket, key string) (*Object, error) {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", r.emulatorHost, url.PathEscape(bucket), url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build emulator download request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emulator download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &DownloadError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read emulator object: %w", err)
	}
	if len(data) > maxObjectBytes {
		return nil, fmt.Errorf("gcs object gs://%s/%s exceeds %d bytes", bucket, key, maxObjectBytes)
	}
	return &Object{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// DownloadError carries the HTTP status of a failed emulator download.
type DownloadError struct {
	StatusCode int
	Body       string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("emulator download failed: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *DownloadError) HTTPStatusCode() int { return e.StatusCode }
