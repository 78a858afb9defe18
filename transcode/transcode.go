// Package transcode normalizes uploaded pet photos before they are sent to
// generative providers.
//
// Providers reject or mishandle oversized payloads, so images larger than
// MaxDimension on either side are downscaled with high-quality resampling.
// Transparency is preserved by re-encoding as PNG; opaque sources are
// re-encoded as JPEG at fixed quality to keep payloads small.
package transcode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif" // register GIF decoding

	"golang.org/x/image/draw"
)

const (
	// MaxDimension is the largest width or height sent to a provider.
	MaxDimension = 2048

	// JPEGQuality is the encoding quality for opaque output.
	JPEGQuality = 85
)

// Transcoding errors.
var (
	ErrEmptyImage   = errors.New("transcode: empty image data")
	ErrInvalidImage = errors.New("transcode: invalid image data")
)

// opaquer is implemented by stdlib image types that can report full opacity.
type opaquer interface {
	Opaque() bool
}

// Prepare decodes, normalizes, and re-encodes an image for provider
// submission. Images with either dimension above MaxDimension are downscaled
// preserving aspect ratio. Returns the encoded bytes and their MIME type.
func Prepare(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	lossless := needsLossless(img)

	if exceedsMax(img) {
		img = downscale(img, MaxDimension, lossless)
	}

	var buf bytes.Buffer
	if lossless {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("transcode: png encode failed: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, "", fmt.Errorf("transcode: jpeg encode failed: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// DataURI wraps encoded image bytes as a base64 data URI for providers that
// accept inline image payloads.
func DataURI(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// needsLossless reports whether the image must keep lossless encoding:
// indexed palettes and any non-opaque pixel content.
func needsLossless(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	if op, ok := img.(opaquer); ok {
		return !op.Opaque()
	}
	return false
}

// exceedsMax reports whether either dimension is above MaxDimension.
func exceedsMax(img image.Image) bool {
	bounds := img.Bounds()
	return bounds.Dx() > MaxDimension || bounds.Dy() > MaxDimension
}

// downscale resizes img so its longest side equals maxSide, preserving
// aspect ratio, using CatmullRom resampling. The destination keeps an alpha
// channel when the source needs lossless handling.
func downscale(img image.Image, maxSide int, keepAlpha bool) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	scale := float64(maxSide) / float64(max(width, height))
	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	rect := image.Rect(0, 0, newWidth, newHeight)
	if keepAlpha {
		dst := image.NewNRGBA(rect)
		draw.CatmullRom.Scale(dst, rect, img, bounds, draw.Over, nil)
		return dst
	}

	dst := image.NewRGBA(rect)
	draw.CatmullRom.Scale(dst, rect, img, bounds, draw.Src, nil)
	return dst
}
