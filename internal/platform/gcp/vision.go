package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/labtrace-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

const visionTimeout = 60 * time.Second

// ImageText is the recognized text of a single image with the mean block
// confidence reported by the OCR engine.
type ImageText struct {
	Text       string
	Confidence float64
}

type Vision interface {
	OCRImageBytes(ctx context.Context, img []byte) (*ImageText, error)
	Close() error
}

type visionService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionService{log: log.With("service", "gcp.Vision"), client: c}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// OCRImageBytes uses dense document detection, which keeps line breaks and
// reading order on tabular lab printouts.
func (s *visionService) OCRImageBytes(ctx context.Context, img []byte) (*ImageText, error) {
	if len(img) == 0 {
		return &ImageText{}, nil
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), visionTimeout)
	defer cancel()

	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return nil, ClassifyRPCError(fmt.Errorf("vision BatchAnnotateImages: %w", err))
	}
	if resp == nil || len(resp.Responses) == 0 {
		return &ImageText{}, nil
	}
	return imageText(resp.Responses[0])
}

func imageText(r *visionpb.AnnotateImageResponse) (*ImageText, error) {
	if r == nil {
		return &ImageText{}, nil
	}
	if r.Error != nil && r.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r.Error.Message)
	}
	fta := r.FullTextAnnotation
	if fta == nil || strings.TrimSpace(fta.Text) == "" {
		return &ImageText{}, nil
	}
	out := &ImageText{Text: normalizeOCRText(fta.Text)}
	var sum float64
	var n int
	for _, pg := range fta.Pages {
		if pg == nil {
			continue
		}
		if c := avgBlockConfidence(pg.Blocks); c > 0 {
			sum += c
			n++
		}
	}
	if n > 0 {
		out.Confidence = sum / float64(n)
	}
	return out, nil
}

func avgBlockConfidence(blocks []*visionpb.Block) float64 {
	var sum float64
	var n int
	for _, b := range blocks {
		if b == nil {
			continue
		}
		sum += float64(b.Confidence)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
