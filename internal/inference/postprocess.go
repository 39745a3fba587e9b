package inference

import (
	"fmt"
	"math"

	"github.com/mediscan/lesion-api/internal/model"
)

type Result struct {
	Detected       bool               `json:"detected"`
	Confidence     float64            `json:"confidence"`
	ClassIndex     int                `json:"class_index"`
	ClassName      string             `json:"class_name"`
	AllPredictions map[string]float64 `json:"all_predictions"`
}

// Postprocess maps a probability vector onto tax. Ties go to the lowest index.
func Postprocess(probs []float32, tax model.Taxonomy) (*Result, error) {
	if len(probs) != tax.Len() {
		return nil, &Error{Kind: KindInference, Msg: "unexpected model output",
			Err: fmt.Errorf("got %d probabilities for %d classes", len(probs), tax.Len())}
	}

	maxIdx := 0
	all := make(map[string]float64, len(probs))
	for i, p := range probs {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return nil, &Error{Kind: KindInference, Msg: "unexpected model output",
				Err: fmt.Errorf("probability %d is %v", i, p)}
		}
		all[tax.Name(i)] = percent(p)
		if p > probs[maxIdx] {
			maxIdx = i
		}
	}

	return &Result{
		Detected:       tax.IsCancerous(maxIdx),
		Confidence:     percent(probs[maxIdx]),
		ClassIndex:     maxIdx,
		ClassName:      tax.Name(maxIdx),
		AllPredictions: all,
	}, nil
}

// percent converts a probability to a percentage rounded to 2 decimals.
func percent(p float32) float64 {
	return math.Round(float64(p)*100*100) / 100
}

// softmaxDrift is how far the vector's sum is from 1.
func softmaxDrift(probs []float32) float64 {
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	return math.Abs(sum - 1)
}
