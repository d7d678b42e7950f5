package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	thresholdLevel = 127
	upscaleFactor  = 1.5
	// upscaling stops at this edge length; larger scans are already legible
	maxUpscaleEdge = 6000
)

// Preprocess prepares a scan for OCR: grayscale, crop to the bounding box of
// non-black pixels, threshold-to-zero at 127, then a 1.5x Catmull-Rom
// upscale. The result is PNG encoded.
func Preprocess(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	gray := toGray(src)
	cropped := cropNonZero(gray)
	thresholdToZero(cropped, thresholdLevel)
	out := upscale(cropped, upscaleFactor)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// cropNonZero returns the smallest sub-image holding every non-zero pixel,
// or the input unchanged when the image is entirely black.
func cropNonZero(g *image.Gray) *image.Gray {
	b := g.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			if row[x-b.Min.X] == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX {
		return g
	}
	rect := image.Rect(minX, minY, maxX+1, maxY+1)
	dst := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), g, rect.Min, draw.Src)
	return dst
}

// thresholdToZero zeroes pixels at or below level and keeps the rest.
func thresholdToZero(g *image.Gray, level uint8) {
	for i, v := range g.Pix {
		if v <= level {
			g.Pix[i] = 0
		}
	}
}

func upscale(g *image.Gray, factor float64) *image.Gray {
	b := g.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w <= 0 || h <= 0 || w > maxUpscaleEdge || h > maxUpscaleEdge {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), g, b, draw.Src, nil)
	return dst
}
