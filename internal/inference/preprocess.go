package inference

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/mediscan/lesion-api/internal/model"
)

// ImageNet channel means in BGR order, as subtracted by Keras ResNet50.
var caffeMeanBGR = [3]float32{103.939, 116.779, 123.68}

// Tensor is one normalized input batch.
type Tensor struct {
	Shape []int
	Data  []float32
}

// InputSpec is the part of the model contract preprocessing has to honor.
type InputSpec struct {
	Size          int
	Normalization model.Normalization
	ChannelsFirst bool
}

func SpecFor(m *model.Model) InputSpec {
	return InputSpec{
		Size:          m.Metadata.ImageSize,
		Normalization: m.Normalization,
		ChannelsFirst: m.Metadata.ChannelsFirst(),
	}
}

// ResizeFunc scales img to size x size. Implementations must be deterministic.
type ResizeFunc func(img image.Image, size int) image.Image

// NewResizer returns the named resampler: "nfnt" (Lanczos3, default),
// "imaging" (Lanczos) or "xdraw" (Catmull-Rom).
func NewResizer(name string) (ResizeFunc, error) {
	switch name {
	case "", "nfnt":
		return func(img image.Image, size int) image.Image {
			return resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
		}, nil
	case "imaging":
		return func(img image.Image, size int) image.Image {
			return imaging.Resize(img, size, size, imaging.Lanczos)
		}, nil
	case "xdraw":
		return func(img image.Image, size int) image.Image {
			dst := image.NewNRGBA(image.Rect(0, 0, size, size))
			draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
			return dst
		}, nil
	default:
		return nil, fmt.Errorf("unknown resampler %q", name)
	}
}

// DefaultMaxImagePixels is the largest decoded image accepted, about 179
// megapixels (716 MB as 8-bit RGBA).
const DefaultMaxImagePixels = 178956970

type Preprocessor struct {
	resizeFn   ResizeFunc
	autoOrient bool
	maxPixels  int64
}

// NewPreprocessor returns a preprocessor that refuses images with more than
// maxPixels pixels; maxPixels <= 0 means DefaultMaxImagePixels.
func NewPreprocessor(fn ResizeFunc, autoOrient bool, maxPixels int64) *Preprocessor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}
	return &Preprocessor{resizeFn: fn, autoOrient: autoOrient, maxPixels: maxPixels}
}

// Preprocess decodes data and returns a (1, S, S, 3) tensor, or (1, 3, S, S)
// when spec asks for channels first.
func (p *Preprocessor) Preprocess(data []byte, spec InputSpec) (*Tensor, error) {
	if spec.Size <= 0 {
		return nil, &Error{Kind: KindPreprocess, Msg: "Image could not be resized",
			Err: fmt.Errorf("model input size %d is not positive", spec.Size)}
	}

	// The header alone tells the decoded size; check it before allocating pixels.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindPreprocess, Msg: "Invalid image format. Supported: JPEG, PNG", Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, &Error{Kind: KindPreprocess,
			Msg: fmt.Sprintf("Image exceeds the %d pixel limit", p.maxPixels),
			Err: fmt.Errorf("image is %dx%d", cfg.Width, cfg.Height)}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(p.autoOrient))
	if err != nil {
		return nil, &Error{Kind: KindPreprocess, Msg: "Invalid image format. Supported: JPEG, PNG", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &Error{Kind: KindPreprocess, Msg: "Image has no pixels"}
	}

	resized := imaging.Clone(p.resizeFn(toRGB(img), spec.Size))
	if b := resized.Bounds(); b.Dx() != spec.Size || b.Dy() != spec.Size {
		return nil, &Error{Kind: KindPreprocess, Msg: "Image could not be resized",
			Err: fmt.Errorf("resized to %dx%d, want %dx%d", b.Dx(), b.Dy(), spec.Size, spec.Size)}
	}

	return &Tensor{
		Shape: shapeFor(spec),
		Data:  normalize(resized, spec),
	}, nil
}

// toRGB flattens any color model (gray, palette, RGBA, CMYK) to opaque 8-bit
// RGB. Alpha is dropped, not composited, so pixel colors keep their values.
func toRGB(img image.Image) *image.NRGBA {
	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	return rgb
}

func shapeFor(spec InputSpec) []int {
	if spec.ChannelsFirst {
		return []int{1, 3, spec.Size, spec.Size}
	}
	return []int{1, spec.Size, spec.Size, 3}
}

func normalize(img *image.NRGBA, spec InputSpec) []float32 {
	size := spec.Size
	plane := size * size
	out := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			var ch [3]float32
			switch spec.Normalization {
			case model.NormalizationUnit:
				ch = [3]float32{float32(px[0]) / 255, float32(px[1]) / 255, float32(px[2]) / 255}
			default:
				ch = [3]float32{
					float32(px[2]) - caffeMeanBGR[0],
					float32(px[1]) - caffeMeanBGR[1],
					float32(px[0]) - caffeMeanBGR[2],
				}
			}

			pixel := y*size + x
			for c := 0; c < 3; c++ {
				if spec.ChannelsFirst {
					out[c*plane+pixel] = ch[c]
				} else {
					out[pixel*3+c] = ch[c]
				}
			}
		}
	}
	return out
}
