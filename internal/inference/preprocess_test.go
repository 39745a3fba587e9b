package inference

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/mediscan/lesion-api/internal/model"
)

var unitSpec = InputSpec{Size: 224, Normalization: model.NormalizationUnit}
var caffeSpec = InputSpec{Size: 224, Normalization: model.NormalizationCaffe}

func TestPreprocessShape(t *testing.T) {
	pre := defaultPreprocessor(t)
	sources := map[string][]byte{
		"png 640x480": encodePNG(t, gradient(640, 480)),
		"jpeg 50x90":  encodeJPEG(t, gradient(50, 90)),
		"png 224":     encodePNG(t, gradient(224, 224)),
		"png 1x1":     encodePNG(t, solid(1, 1, color.NRGBA{10, 20, 30, 255})),
	}
	for name, data := range sources {
		t.Run(name, func(t *testing.T) {
			tensor, err := pre.Preprocess(data, caffeSpec)
			if err != nil {
				t.Fatalf("Preprocess: %v", err)
			}
			want := []int{1, 224, 224, 3}
			for i := range want {
				if tensor.Shape[i] != want[i] {
					t.Fatalf("Shape = %v, want %v", tensor.Shape, want)
				}
			}
			if len(tensor.Data) != 224*224*3 {
				t.Fatalf("len(Data) = %d", len(tensor.Data))
			}
		})
	}
}

func TestPreprocessDeterministic(t *testing.T) {
	data := encodeJPEG(t, gradient(317, 211))
	for _, name := range []string{"nfnt", "imaging", "xdraw"} {
		t.Run(name, func(t *testing.T) {
			fn, err := NewResizer(name)
			if err != nil {
				t.Fatal(err)
			}
			pre := NewPreprocessor(fn, false, 0)
			a, err := pre.Preprocess(data, caffeSpec)
			if err != nil {
				t.Fatal(err)
			}
			b, err := pre.Preprocess(data, caffeSpec)
			if err != nil {
				t.Fatal(err)
			}
			for i := range a.Data {
				if math.Float32bits(a.Data[i]) != math.Float32bits(b.Data[i]) {
					t.Fatalf("value %d differs between runs: %v vs %v", i, a.Data[i], b.Data[i])
				}
			}
		})
	}
}

func TestPreprocessNormalization(t *testing.T) {
	c := color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	data := encodePNG(t, solid(300, 300, c))

	for _, name := range []string{"nfnt", "imaging", "xdraw"} {
		fn, err := NewResizer(name)
		if err != nil {
			t.Fatal(err)
		}
		pre := NewPreprocessor(fn, false, 0)

		unit, err := pre.Preprocess(data, unitSpec)
		if err != nil {
			t.Fatal(err)
		}
		assertPixel(t, name+"/unit", unit.Data, [3]float32{200.0 / 255, 100.0 / 255, 50.0 / 255}, 1.01/255)

		caffe, err := pre.Preprocess(data, caffeSpec)
		if err != nil {
			t.Fatal(err)
		}
		// BGR order, mean subtracted, no scaling.
		assertPixel(t, name+"/caffe", caffe.Data, [3]float32{50 - 103.939, 100 - 116.779, 200 - 123.68}, 1.01)
	}
}

func assertPixel(t *testing.T, name string, data []float32, want [3]float32, tol float64) {
	t.Helper()
	for i := 0; i < len(data); i += 3 {
		for c := 0; c < 3; c++ {
			if math.Abs(float64(data[i+c]-want[c])) > tol {
				t.Fatalf("%s: pixel %d channel %d = %v, want %v", name, i/3, c, data[i+c], want[c])
			}
		}
	}
}

func TestPreprocessUnitRange(t *testing.T) {
	tensor, err := defaultPreprocessor(t).Preprocess(encodeJPEG(t, gradient(400, 300)), unitSpec)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range tensor.Data {
		if v < 0 || v > 1 {
			t.Fatalf("value %d = %v outside [0,1]", i, v)
		}
	}
}

func TestPreprocessColorModels(t *testing.T) {
	pre := defaultPreprocessor(t)
	c := color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	want, err := pre.Preprocess(encodePNG(t, solid(64, 48, c)), caffeSpec)
	if err != nil {
		t.Fatal(err)
	}

	transparent := solid(64, 48, color.NRGBA{R: 200, G: 100, B: 50, A: 0})

	paletted := image.NewPaletted(image.Rect(0, 0, 64, 48), color.Palette{c, color.Black})

	gray := image.NewGray(image.Rect(0, 0, 64, 48))
	grayRGB := image.NewNRGBA(gray.Bounds())
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(x*3 + y)
			gray.SetGray(x, y, color.Gray{Y: v})
			grayRGB.SetNRGBA(x, y, color.NRGBA{v, v, v, 0xff})
		}
	}
	wantGray, err := pre.Preprocess(encodePNG(t, grayRGB), caffeSpec)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		img  image.Image
		want *Tensor
	}{
		{"alpha dropped", transparent, want},
		{"palette", paletted, want},
		{"grayscale", gray, wantGray},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pre.Preprocess(encodePNG(t, tt.img), caffeSpec)
			if err != nil {
				t.Fatal(err)
			}
			for i := range got.Data {
				if got.Data[i] != tt.want.Data[i] {
					t.Fatalf("value %d = %v, want %v", i, got.Data[i], tt.want.Data[i])
				}
			}
		})
	}
}

func TestPreprocessChannelsFirst(t *testing.T) {
	c := color.NRGBA{R: 255, G: 0, B: 0, A: 255}
	spec := InputSpec{Size: 32, Normalization: model.NormalizationUnit, ChannelsFirst: true}
	tensor, err := defaultPreprocessor(t).Preprocess(encodePNG(t, solid(64, 64, c)), spec)
	if err != nil {
		t.Fatal(err)
	}
	if tensor.Shape[1] != 3 || tensor.Shape[2] != 32 || tensor.Shape[3] != 32 {
		t.Fatalf("Shape = %v", tensor.Shape)
	}
	plane := 32 * 32
	for i := 0; i < plane; i++ {
		if tensor.Data[i] < 0.99 || tensor.Data[plane+i] > 0.01 || tensor.Data[2*plane+i] > 0.01 {
			t.Fatalf("pixel %d not laid out as R, G, B planes", i)
		}
	}
}

func TestPreprocessCorrupt(t *testing.T) {
	pre := defaultPreprocessor(t)
	truncated := encodePNG(t, gradient(64, 64))[:40]
	for name, data := range map[string][]byte{
		"text":      []byte("definitely not an image"),
		"truncated": truncated,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := pre.Preprocess(data, caffeSpec)
			if KindOf(err) != KindPreprocess {
				t.Fatalf("err = %v, want preprocess kind", err)
			}
		})
	}
}

// pngHeader returns a valid 1x1 PNG whose IHDR claims width x height, so only
// a full decode would discover the pixel data is missing.
func pngHeader(t *testing.T, width, height uint32) []byte {
	t.Helper()
	data := encodePNG(t, solid(1, 1, color.NRGBA{A: 0xff}))
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestPreprocessPixelLimit(t *testing.T) {
	fn, err := NewResizer("nfnt")
	if err != nil {
		t.Fatal(err)
	}
	pre := NewPreprocessor(fn, false, 100*100)

	if _, err := pre.Preprocess(encodePNG(t, gradient(100, 100)), caffeSpec); err != nil {
		t.Fatalf("image at the limit: %v", err)
	}
	for name, data := range map[string][]byte{
		"one row over": encodePNG(t, gradient(100, 101)),
		"huge header":  pngHeader(t, 100000, 100000),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := pre.Preprocess(data, caffeSpec)
			var e *Error
			if !errors.As(err, &e) || e.Kind != KindPreprocess {
				t.Fatalf("err = %v, want preprocess kind", err)
			}
			if !strings.Contains(e.Public(), "pixel limit") {
				t.Errorf("message = %q", e.Public())
			}
		})
	}
}

func TestPreprocessDefaultPixelLimit(t *testing.T) {
	_, err := defaultPreprocessor(t).Preprocess(pngHeader(t, 20000, 20000), caffeSpec)
	if KindOf(err) != KindPreprocess || !strings.Contains(err.Error(), "20000x20000") {
		t.Fatalf("err = %v, want a rejected 20000x20000 image", err)
	}
}

func TestPreprocessRejectsNonPositiveSize(t *testing.T) {
	data := encodePNG(t, gradient(8, 8))
	for _, size := range []int{0, -1} {
		_, err := defaultPreprocessor(t).Preprocess(data, InputSpec{Size: size})
		if KindOf(err) != KindPreprocess {
			t.Errorf("size %d: err = %v, want preprocess kind", size, err)
		}
	}
}

func TestNewResizerUnknown(t *testing.T) {
	if _, err := NewResizer("bicubic"); err == nil {
		t.Fatal("expected error for unknown resampler")
	}
}
