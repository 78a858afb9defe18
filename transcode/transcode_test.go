package transcode

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

// encodePNG produces PNG bytes for an NRGBA test image of the given size.
// When translucent is true, half the pixels get a partial alpha value.
func encodePNG(t *testing.T, width, height int, translucent bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			a := uint8(255)
			if translucent && x%2 == 0 {
				a = 128
			}
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 120, B: 40, A: a})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

// encodeJPEG produces JPEG bytes for an opaque test image.
func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 140, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// TestPrepare_EmptyInput tests that empty data is rejected.
func TestPrepare_EmptyInput(t *testing.T) {
	_, _, err := Prepare(nil)
	if err != ErrEmptyImage {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

// TestPrepare_InvalidData tests that undecodable data is rejected.
func TestPrepare_InvalidData(t *testing.T) {
	_, _, err := Prepare([]byte("not an image"))
	if err == nil {
		t.Fatal("expected error for invalid image data")
	}
}

// TestPrepare_OpaqueBecomesJPEG tests that opaque sources re-encode as JPEG.
func TestPrepare_OpaqueBecomesJPEG(t *testing.T) {
	out, mime, err := Prepare(encodeJPEG(t, 640, 480))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", mime)
	}

	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Errorf("dimensions changed unexpectedly: %v", img.Bounds())
	}
}

// TestPrepare_TransparencyStaysPNG tests that alpha content re-encodes as PNG.
func TestPrepare_TransparencyStaysPNG(t *testing.T) {
	out, mime, err := Prepare(encodePNG(t, 100, 100, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("expected image/png, got %s", mime)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		t.Error("transparency was lost in transcoding")
	}
}

// TestPrepare_PalettedStaysLossless tests that indexed images re-encode as PNG.
func TestPrepare_PalettedStaysLossless(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 50, 50), color.Palette{
		color.RGBA{A: 255}, color.RGBA{R: 255, A: 255},
	})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test gif: %v", err)
	}

	_, mime, err := Prepare(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("expected image/png for paletted source, got %s", mime)
	}
}

// TestPrepare_DownscalesOversized tests aspect-preserving downscale above the cap.
func TestPrepare_DownscalesOversized(t *testing.T) {
	out, _, err := Prepare(encodeJPEG(t, 4096, 1024))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if img.Bounds().Dx() != MaxDimension {
		t.Errorf("expected width %d, got %d", MaxDimension, img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 512 {
		t.Errorf("expected height 512 (aspect preserved), got %d", img.Bounds().Dy())
	}
}

// TestPrepare_KeepsSmallImages tests that images under the cap are not resized.
func TestPrepare_KeepsSmallImages(t *testing.T) {
	out, _, err := Prepare(encodePNG(t, 300, 200, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 200 {
		t.Errorf("small image was resized: %v", img.Bounds())
	}
}

// TestDataURI tests the data URI wrapper format.
func TestDataURI(t *testing.T) {
	uri := DataURI([]byte{0x1}, "image/png")
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("unexpected data URI prefix: %s", uri)
	}
}
