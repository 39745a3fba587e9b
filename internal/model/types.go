package model

import (
	"fmt"
	"strings"
)

// Normalization is the pixel scheme the network was trained with. The two
// schemes are incompatible; exactly one is pinned per artifact.
type Normalization string

const (
	// NormalizationCaffe converts RGB to BGR and subtracts the ImageNet channel
	// means without scaling (Keras ResNet50 preprocess_input).
	NormalizationCaffe Normalization = "caffe"
	// NormalizationUnit keeps RGB order and scales [0,255] to [0,1].
	NormalizationUnit Normalization = "unit"
)

func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(strings.ToLower(strings.TrimSpace(s))); n {
	case "", NormalizationCaffe, NormalizationUnit:
		return n, nil
	default:
		return "", fmt.Errorf("unknown normalization %q", s)
	}
}

// resolveNormalization picks the scheme from the artifact metadata or the
// service configuration. Naming two different schemes is an error.
func resolveNormalization(fromMetadata, configured Normalization) (Normalization, error) {
	switch {
	case fromMetadata != "" && configured != "" && fromMetadata != configured:
		return "", fmt.Errorf("metadata normalization %q conflicts with configured %q", fromMetadata, configured)
	case fromMetadata != "":
		return fromMetadata, nil
	case configured != "":
		return configured, nil
	default:
		return NormalizationCaffe, nil
	}
}

const DefaultImageSize = 224

// Metadata describes the artifact's input/output contract. It is read from the
// JSON file shipped next to the model.
type Metadata struct {
	InputShape      []int64       `json:"input_shape"`
	OutputShape     []int64       `json:"output_shape"`
	Classes         []string      `json:"classes"`
	ImageSize       int           `json:"image_size"`
	InputName       string        `json:"input_name,omitempty"`
	OutputName      string        `json:"output_name,omitempty"`
	Normalization   Normalization `json:"normalization,omitempty"`
	TaxonomyVersion string        `json:"taxonomy_version,omitempty"`
}

func (m *Metadata) applyDefaults(tax Taxonomy) {
	h, w := m.spatialDims()
	if m.ImageSize == 0 {
		m.ImageSize = DefaultImageSize
		if h >= 0 && m.InputShape[h] > 0 {
			m.ImageSize = int(m.InputShape[h])
		}
	}
	if len(m.InputShape) == 0 {
		s := int64(m.ImageSize)
		m.InputShape = []int64{1, s, s, 3}
	}
	// Exports with dynamic spatial axes declare them as -1; run them at ImageSize.
	if h >= 0 && m.ImageSize > 0 {
		m.InputShape = append([]int64(nil), m.InputShape...)
		for _, i := range []int{h, w} {
			if m.InputShape[i] < 0 {
				m.InputShape[i] = int64(m.ImageSize)
			}
		}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(tax.Len())}
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
}

func (m *Metadata) validate(tax Taxonomy) error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input shape %v is not rank 4", m.InputShape)
	}
	if b := m.InputShape[0]; b != 1 && b != -1 {
		return fmt.Errorf("input batch dimension %d is not 1", b)
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("image size %d is not positive", m.ImageSize)
	}
	for i, d := range m.InputShape[1:] {
		if d < 1 {
			return fmt.Errorf("input dimension %d of %v is not positive", i+1, m.InputShape)
		}
	}
	s := int64(m.ImageSize)
	nhwc := m.InputShape[1] == s && m.InputShape[2] == s && m.InputShape[3] == 3
	nchw := m.InputShape[1] == 3 && m.InputShape[2] == s && m.InputShape[3] == s
	if !nhwc && !nchw {
		return fmt.Errorf("input shape %v does not match a %dx%d RGB image", m.InputShape, s, s)
	}
	if len(m.OutputShape) == 0 || m.OutputShape[len(m.OutputShape)-1] != int64(tax.Len()) {
		return fmt.Errorf("output shape %v does not end in %d classes", m.OutputShape, tax.Len())
	}
	n, err := ParseNormalization(string(m.Normalization))
	if err != nil {
		return err
	}
	m.Normalization = n
	return tax.Check(m.Classes, m.TaxonomyVersion)
}

// spatialDims returns the indices of the height and width axes of a rank-4
// input shape, or -1, -1 when the layout cannot be told from the channel axis.
func (m Metadata) spatialDims() (int, int) {
	if len(m.InputShape) != 4 {
		return -1, -1
	}
	switch {
	case m.InputShape[3] == 3:
		return 1, 2
	case m.InputShape[1] == 3:
		return 2, 3
	default:
		return -1, -1
	}
}

// ChannelsFirst reports whether the model expects NCHW input.
func (m Metadata) ChannelsFirst() bool {
	return len(m.InputShape) == 4 && m.InputShape[1] == 3 && m.InputShape[3] != 3
}

// BatchInputShape is the input shape with a dynamic batch pinned to 1.
func (m Metadata) BatchInputShape() []int64 { return pinBatch(m.InputShape) }

func (m Metadata) BatchOutputShape() []int64 { return pinBatch(m.OutputShape) }

// InputSize is the number of float32 values in one input batch.
func (m Metadata) InputSize() int {
	n := 1
	for _, d := range m.BatchInputShape() {
		n *= int(d)
	}
	return n
}

func pinBatch(shape []int64) []int64 {
	out := append([]int64(nil), shape...)
	if len(out) > 0 && out[0] < 1 {
		out[0] = 1
	}
	return out
}
