package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
)

const MaxBytes = 64 << 20

// Blob is a fetched report image or document.
type Blob struct {
	URL         string
	Data        []byte
	ContentType string
}

// Fetcher resolves a report media url to bytes. Supported schemes are
// gs, s3, http(s) and file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Blob, error)
}

type Options struct {
	GCS        gcp.ObjectReader
	S3         *s3.Client
	HTTPClient *http.Client
	// AllowFiles enables file:// and bare paths, used by the CLI and tests.
	AllowFiles bool
}

type fetcher struct {
	log  *logger.Logger
	opts Options
}

func NewFetcher(log *logger.Logger, opts Options) Fetcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &fetcher{log: log.With("service", "media.Fetcher"), opts: opts}
}

// NewS3ClientFromEnv loads the default AWS chain. AWS_ENDPOINT_URL points it
// at MinIO or LocalStack, which need path-style addressing.
func NewS3ClientFromEnv(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL")) != ""
	}), nil
}

func (f *fetcher) Fetch(ctx context.Context, rawURL string) (*Blob, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Permanent(fmt.Errorf("%w: empty media url", apperr.ErrInvalidArgument))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.Permanent(fmt.Errorf("%w: parse media url: %v", apperr.ErrInvalidArgument, err))
	}

	var blob *Blob
	switch strings.ToLower(u.Scheme) {
	case "gs":
		blob, err = f.fetchGCS(ctx, rawURL)
	case "s3":
		blob, err = f.fetchS3(ctx, u)
	case "http", "https":
		blob, err = f.fetchHTTP(ctx, rawURL)
	case "file", "":
		blob, err = f.fetchFile(u, rawURL)
	default:
		err = apperr.Permanent(fmt.Errorf("%w: unsupported media scheme %q", apperr.ErrInvalidArgument, u.Scheme))
	}
	if err != nil {
		return nil, err
	}
	if blob.ContentType == "" || blob.ContentType == "application/octet-stream" {
		blob.ContentType = DetectContentType(rawURL, blob.Data)
	}
	f.log.Debug("media fetched", "url", rawURL, "bytes", len(blob.Data), "content_type", blob.ContentType)
	return blob, nil
}

func (f *fetcher) fetchGCS(ctx context.Context, rawURL string) (*Blob, error) {
	if f.opts.GCS == nil {
		return nil, apperr.Permanent(fmt.Errorf("gs media %s: object storage not configured", rawURL))
	}
	obj, err := f.opts.GCS.Read(ctx, rawURL)
	if err != nil {
		return nil, classify(fmt.Errorf("read %s: %w", rawURL, err))
	}
	return &Blob{URL: rawURL, Data: obj.Data, ContentType: obj.ContentType}, nil
}

func (f *fetcher) fetchS3(ctx context.Context, u *url.URL) (*Blob, error) {
	if f.opts.S3 == nil {
		return nil, apperr.Permanent(fmt.Errorf("s3 media %s: s3 client not configured", u.String()))
	}
	key := strings.TrimPrefix(u.Path, "/")
	resp, err := f.opts.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(fmt.Errorf("get s3 object %s: %w", u.String(), err))
	}
	defer resp.Body.Close()
	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("read s3 object %s: %w", u.String(), err))
	}
	return &Blob{URL: u.String(), Data: data, ContentType: aws.ToString(resp.ContentType)}, nil
}

func (f *fetcher) fetchHTTP(ctx context.Context, rawURL string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.Permanent(fmt.Errorf("build media request: %w", err))
	}
	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, classify(fmt.Errorf("get %s: %w", rawURL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classify(&StatusError{URL: rawURL, StatusCode: resp.StatusCode})
	}
	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("read %s: %w", rawURL, err))
	}
	return &Blob{URL: rawURL, Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (f *fetcher) fetchFile(u *url.URL, rawURL string) (*Blob, error) {
	if !f.opts.AllowFiles {
		return nil, apperr.Permanent(fmt.Errorf("%w: local media not allowed: %s", apperr.ErrInvalidArgument, rawURL))
	}
	path := rawURL
	if u.Scheme == "file" {
		path = u.Path
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, apperr.Permanent(fmt.Errorf("read file %s: %w", path, err))
	}
	if len(data) > MaxBytes {
		return nil, apperr.Permanent(fmt.Errorf("file %s exceeds %d bytes", path, MaxBytes))
	}
	return &Blob{URL: rawURL, Data: data}, nil
}

// StatusError is a non-200 response from a media host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

func classify(err error) error {
	if gcp.IsTransientRPC(err) || httpx.IsRetryableError(err) {
		return apperr.Transient(err)
	}
	return apperr.Permanent(err)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", MaxBytes)
	}
	return data, nil
}

// DetectContentType prefers the file extension and falls back to sniffing.
func DetectContentType(name string, data []byte) string {
	lower := strings.ToLower(name)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch filepath.Ext(lower) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}

func IsPDF(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}
