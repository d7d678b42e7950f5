package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
	"github.com/yungbote/labtrace-backend/internal/platform/media"
)

type fakeFetcher map[string]*media.Blob

func (f fakeFetcher) Fetch(_ context.Context, u string) (*media.Blob, error) {
	if b, ok := f[u]; ok {
		return b, nil
	}
	return nil, apperr.Permanent(errors.New("not found"))
}

type fakeVision struct {
	calls int
	text  string
	err   error
}

func (v *fakeVision) OCRImageBytes(_ context.Context, img []byte) (*gcp.ImageText, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return &gcp.ImageText{Text: v.text, Confidence: 0.9}, nil
}

func (v *fakeVision) Close() error { return nil }

type fakeDocs struct{ text string }

func (d *fakeDocs) ProcessBytes(_ context.Context, data []byte, mimeType string) (*gcp.DocumentText, error) {
	return &gcp.DocumentText{Text: d.text, Tables: []string{"| a | b |\n| --- | --- |\n"}}, nil
}

func (d *fakeDocs) Close() error { return nil }

func pngBlob(t *testing.T) *media.Blob {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.Gray{Y: 200})
	return &media.Blob{Data: encodePNG(t, img), ContentType: "image/png"}
}

func TestAdapterImagePath(t *testing.T) {
	vision := &fakeVision{text: "Glucose 92 mg/dL"}
	a, err := NewAdapter(logger.Nop(), Options{
		Fetcher:    fakeFetcher{"gs://b/1.png": pngBlob(t), "gs://b/2.png": pngBlob(t)},
		Vision:     vision,
		Preprocess: true,
	})
	require.NoError(t, err)

	text, err := a.ExtractAll(context.Background(), []string{"gs://b/1.png", "gs://b/2.png"})
	require.NoError(t, err)
	assert.Equal(t, "Glucose 92 mg/dL\n\nGlucose 92 mg/dL", text)
	assert.Equal(t, 2, vision.calls)
}

func TestAdapterScannedPDFUsesDocumentAI(t *testing.T) {
	fetch := fakeFetcher{"s3://b/scan.pdf": {Data: []byte("%PDF-1.4 broken"), ContentType: "application/pdf"}}

	a, err := NewAdapter(logger.Nop(), Options{Fetcher: fetch, Vision: &fakeVision{}, Documents: &fakeDocs{text: "LDL 110"}})
	require.NoError(t, err)
	text, err := a.ExtractText(context.Background(), "s3://b/scan.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "LDL 110")
	assert.Contains(t, text, "| a | b |")

	noDocs, err := NewAdapter(logger.Nop(), Options{Fetcher: fetch, Vision: &fakeVision{}})
	require.NoError(t, err)
	_, err = noDocs.ExtractText(context.Background(), "s3://b/scan.pdf")
	assert.ErrorIs(t, err, apperr.ErrPermanent)
}

func TestAdapterPropagatesClassifiedErrors(t *testing.T) {
	vision := &fakeVision{err: apperr.Transient(errors.New("unavailable"))}
	a, err := NewAdapter(logger.Nop(), Options{Fetcher: fakeFetcher{"gs://b/1.png": pngBlob(t)}, Vision: vision})
	require.NoError(t, err)

	_, err = a.ExtractText(context.Background(), "gs://b/1.png")
	assert.ErrorIs(t, err, apperr.ErrTransient)

	_, err = a.ExtractText(context.Background(), "gs://b/missing.png")
	assert.ErrorIs(t, err, apperr.ErrPermanent)
}

func TestAdapterEmptyTextIsAllowed(t *testing.T) {
	a, err := NewAdapter(logger.Nop(), Options{Fetcher: fakeFetcher{"gs://b/1.png": pngBlob(t)}, Vision: &fakeVision{}})
	require.NoError(t, err)
	text, err := a.ExtractAll(context.Background(), []string{"gs://b/1.png"})
	require.NoError(t, err)
	assert.Empty(t, text)
}
