package model

import (
	"fmt"
	"slices"
)

// Taxonomy is the ordered label set the network was trained to emit. Output
// index i of the model means Labels[i]; reordering either side without the
// other silently corrupts results, so the version travels with the artifact.
type Taxonomy struct {
	Version   string
	Labels    []string
	Cancerous []int
}

// SkinLesions is the HAM10000 ordering used by the deployed classifier.
var SkinLesions = Taxonomy{
	Version: "ham10000-v1",
	Labels: []string{
		"Actinic keratoses",
		"Basal cell carcinoma",
		"Benign keratosis",
		"Dermatofibroma",
		"Melanoma",
		"Melanocytic nevi",
		"Vascular lesions",
	},
	Cancerous: []int{0, 1, 4},
}

func (t Taxonomy) Len() int { return len(t.Labels) }

func (t Taxonomy) Name(i int) string {
	if i < 0 || i >= len(t.Labels) {
		return ""
	}
	return t.Labels[i]
}

func (t Taxonomy) IsCancerous(i int) bool {
	return slices.Contains(t.Cancerous, i)
}

// Check verifies that a model's declared classes and taxonomy version agree
// with t. Empty values are not checked.
func (t Taxonomy) Check(classes []string, version string) error {
	if version != "" && version != t.Version {
		return fmt.Errorf("taxonomy version %q does not match %q", version, t.Version)
	}
	if len(classes) == 0 {
		return nil
	}
	if !slices.Equal(classes, t.Labels) {
		return fmt.Errorf("model classes %q do not match taxonomy %s %q", classes, t.Version, t.Labels)
	}
	return nil
}
