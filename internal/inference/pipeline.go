package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediscan/lesion-api/internal/model"
)

// ModelProvider hands out the loaded model, loading it on first use.
type ModelProvider interface {
	EnsureLoaded(ctx context.Context) (*model.Model, error)
	Loaded() bool
}

// Pipeline runs one request through validation, preprocessing, the forward
// pass and postprocessing. Every failure comes back as an *Error.
type Pipeline struct {
	models    ModelProvider
	pre       *Preprocessor
	tolerance float64
	logger    *slog.Logger
}

func NewPipeline(models ModelProvider, pre *Preprocessor, tolerance float64, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		models:    models,
		pre:       pre,
		tolerance: tolerance,
		logger:    logger.With("component", "pipeline"),
	}
}

func (p *Pipeline) ModelLoaded() bool {
	return p.models.Loaded()
}

// Predict classifies an uploaded image. data is nil when no file was sent.
func (p *Pipeline) Predict(ctx context.Context, data []byte, filename string) (*Result, error) {
	start := time.Now()
	log := p.logger.With("filename", filename, "bytes", len(data))

	if err := Validate(data, filename); err != nil {
		return nil, p.fail(log, "validate", err)
	}

	m, err := p.loadModel(ctx)
	if err != nil {
		return nil, p.fail(log, "load", err)
	}

	tensor, err := p.pre.Preprocess(data, SpecFor(m))
	if err != nil {
		return nil, p.fail(log, "preprocess", err)
	}
	log.Debug("preprocessed", "stage", "preprocess", "shape", tensor.Shape, "normalization", m.Normalization)

	res, err := p.infer(log, m, tensor.Data)
	if err != nil {
		return nil, err
	}
	log.Info("prediction",
		"stage", "format",
		"class_index", res.ClassIndex,
		"class_name", res.ClassName,
		"confidence", res.Confidence,
		"detected", res.Detected,
		"duration", time.Since(start))
	return res, nil
}

// PredictTensor classifies an already normalized input batch.
func (p *Pipeline) PredictTensor(ctx context.Context, input []float32) (*Result, error) {
	log := p.logger.With("values", len(input))

	m, err := p.loadModel(ctx)
	if err != nil {
		return nil, p.fail(log, "load", err)
	}
	if want := m.Metadata.InputSize(); len(input) != want {
		return nil, p.fail(log, "validate", &Error{
			Kind: KindValidation,
			Msg:  fmt.Sprintf("Expected %d values, got %d", want, len(input)),
		})
	}

	res, err := p.infer(log, m, input)
	if err != nil {
		return nil, err
	}
	log.Info("prediction", "stage", "format", "class_index", res.ClassIndex, "confidence", res.Confidence)
	return res, nil
}

func (p *Pipeline) infer(log *slog.Logger, m *model.Model, input []float32) (*Result, error) {
	probs, err := m.Run(input)
	if err != nil {
		return nil, p.fail(log, "predict", &Error{Kind: KindInference, Msg: "forward pass failed", Err: err})
	}
	if drift := softmaxDrift(probs); drift > p.tolerance {
		log.Warn("softmax sum drift", "stage", "predict", "drift", drift, "tolerance", p.tolerance)
	}

	res, err := Postprocess(probs, m.Taxonomy)
	if err != nil {
		return nil, p.fail(log, "format", err)
	}
	return res, nil
}

func (p *Pipeline) loadModel(ctx context.Context) (*model.Model, error) {
	m, err := p.models.EnsureLoaded(ctx)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, model.ErrModelNotFound):
		return nil, &Error{Kind: KindModelNotFound, Msg: "model artifact is missing", Err: err}
	case errors.Is(err, model.ErrModelLoad):
		return nil, &Error{Kind: KindModelLoad, Msg: "model artifact could not be loaded", Err: err}
	default:
		return nil, &Error{Kind: KindInference, Msg: "gave up waiting for the model", Err: err}
	}
}

func (p *Pipeline) fail(log *slog.Logger, stage string, err error) error {
	kind := KindOf(err)
	if kind.ClientError() {
		log.Info("request rejected", "stage", stage, "kind", kind.String(), "error", err)
	} else {
		log.Error("request failed", "stage", stage, "kind", kind.String(), "error", err)
	}
	return err
}
