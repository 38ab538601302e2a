// Package media prepares chat attachments for the model.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/haasonsaas/quill/internal/agent"
)

const (
	// DefaultMaxDimension is the longest side the model accepts without
	// downscaling it server-side.
	DefaultMaxDimension = 1568
	// DefaultMaxBytes is the per-image payload ceiling.
	DefaultMaxBytes int64 = 5 * 1024 * 1024
)

// ErrUnsupported is returned for media types the model cannot read.
var ErrUnsupported = errors.New("unsupported image type")

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var jpegQualities = []int{85, 70, 55}

// NormalizeMimeType strips parameters and lowercases a content type.
func NormalizeMimeType(mimeType string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}

// IsSupported reports whether PrepareImage accepts mimeType.
func IsSupported(mimeType string) bool {
	return supportedTypes[NormalizeMimeType(mimeType)]
}

// PrepareImage returns data unchanged when it already fits maxDim and
// maxBytes. Otherwise the image is decoded, scaled to fit and re-encoded
// as PNG (for sources that may carry transparency) or JPEG.
func PrepareImage(data []byte, mimeType string, maxDim int, maxBytes int64) (agent.Image, error) {
	mimeType = NormalizeMimeType(mimeType)
	if !supportedTypes[mimeType] {
		return agent.Image{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return agent.Image{}, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim && int64(len(data)) <= maxBytes {
		return agent.Image{MediaType: mimeType, Data: data}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return agent.Image{}, fmt.Errorf("decode image: %w", err)
	}

	dim := maxDim
	if b := src.Bounds(); b.Dx() < dim && b.Dy() < dim {
		dim = max(b.Dx(), b.Dy())
	}
	for attempt := 0; attempt < 4; attempt++ {
		scaled := fit(src, dim)
		if mimeType == "image/png" || mimeType == "image/gif" {
			var buf bytes.Buffer
			if err := png.Encode(&buf, scaled); err != nil {
				return agent.Image{}, fmt.Errorf("encode png: %w", err)
			}
			if int64(buf.Len()) <= maxBytes {
				return agent.Image{MediaType: "image/png", Data: buf.Bytes()}, nil
			}
		}
		for _, q := range jpegQualities {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: q}); err != nil {
				return agent.Image{}, fmt.Errorf("encode jpeg: %w", err)
			}
			if int64(buf.Len()) <= maxBytes {
				return agent.Image{MediaType: "image/jpeg", Data: buf.Bytes()}, nil
			}
		}
		dim = dim * 3 / 4
	}
	return agent.Image{}, fmt.Errorf("image still exceeds %d bytes after downscaling", maxBytes)
}

// fit scales img so that its longest side is at most maxDim.
func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	var nw, nh int
	if w >= h {
		nw, nh = maxDim, h*maxDim/w
	} else {
		nw, nh = w*maxDim/h, maxDim
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
