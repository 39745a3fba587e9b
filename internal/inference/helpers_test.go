package inference

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/mediscan/lesion-api/internal/logging"
	"github.com/mediscan/lesion-api/internal/model"
	"github.com/mediscan/lesion-api/internal/model/modeltest"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// gradient is a non-square image with a distinct value in every channel.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) % 256),
				A: 0xff,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func defaultPreprocessor(t *testing.T) *Preprocessor {
	t.Helper()
	fn, err := NewResizer("nfnt")
	if err != nil {
		t.Fatal(err)
	}
	return NewPreprocessor(fn, false, 0)
}

func newTestPipeline(t *testing.T, backend *modeltest.Backend) (*Pipeline, *model.Loader) {
	t.Helper()
	loader := modeltest.NewLoader(modeltest.FS(""), backend, "")
	return NewPipeline(loader, defaultPreprocessor(t), 1e-3, logging.Discard()), loader
}
