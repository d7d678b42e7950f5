package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
)

type fakeGCS struct {
	objects map[string]*gcp.Object
}

func (f *fakeGCS) Read(_ context.Context, uri string) (*gcp.Object, error) {
	if o, ok := f.objects[uri]; ok {
		return o, nil
	}
	return nil, &gcp.DownloadError{StatusCode: http.StatusNotFound}
}

func (f *fakeGCS) Close() error { return nil }

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scan.jpg":
			_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(logger.Nop(), Options{})
	blob, err := f.Fetch(context.Background(), srv.URL+"/scan.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", blob.ContentType)
	assert.Len(t, blob.Data, 4)

	_, err = f.Fetch(context.Background(), srv.URL+"/busy")
	assert.ErrorIs(t, err, apperr.ErrTransient)

	_, err = f.Fetch(context.Background(), srv.URL+"/gone")
	assert.ErrorIs(t, err, apperr.ErrPermanent)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestFetchGCS(t *testing.T) {
	gcs := &fakeGCS{objects: map[string]*gcp.Object{
		"gs://labs/r1.png": {Data: []byte("img"), ContentType: "image/png"},
	}}
	f := NewFetcher(logger.Nop(), Options{GCS: gcs})

	blob, err := f.Fetch(context.Background(), "gs://labs/r1.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", blob.ContentType)

	_, err = f.Fetch(context.Background(), "gs://labs/none.png")
	assert.ErrorIs(t, err, apperr.ErrPermanent)
}

func TestFetchUnconfiguredAndUnsupported(t *testing.T) {
	f := NewFetcher(logger.Nop(), Options{})

	_, err := f.Fetch(context.Background(), "s3://bucket/key.pdf")
	assert.ErrorIs(t, err, apperr.ErrPermanent)

	_, err = f.Fetch(context.Background(), "ftp://host/x")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.Fetch(context.Background(), "/etc/hostname")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o600))

	f := NewFetcher(logger.Nop(), Options{AllowFiles: true})
	blob, err := f.Fetch(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.True(t, IsPDF(blob.ContentType))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/tiff", DetectContentType("https://x/a.TIFF?sig=1", nil))
	assert.Equal(t, "application/pdf", DetectContentType("blob", []byte("%PDF-1.7\n")))
	assert.Equal(t, "application/octet-stream", DetectContentType("blob", nil))
}
