// Package modeltest provides an in-memory model backend and filesystem for
// tests of the loader, the inference pipeline and the HTTP handlers.
package modeltest

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"testing/fstest"

	"github.com/mediscan/lesion-api/internal/logging"
	"github.com/mediscan/lesion-api/internal/model"
)

const (
	ArtifactName = "model.onnx"
	MetadataName = "model_metadata.json"
)

// FS returns a model directory holding a stub artifact and, when metadata is
// non-empty, a metadata file.
func FS(metadata string) fstest.MapFS {
	fsys := fstest.MapFS{
		ArtifactName: &fstest.MapFile{Data: []byte("stub onnx graph")},
	}
	if metadata != "" {
		fsys[MetadataName] = &fstest.MapFile{Data: []byte(metadata)}
	}
	return fsys
}

// Backend is a fake model.Backend. Sessions return Probs, or the result of
// Predict when set.
type Backend struct {
	Probs   []float32
	Predict func(input []float32) []float32
	OpenErr error
	RunErr  error
	// Gate, when non-nil, blocks Open until it is closed.
	Gate chan struct{}

	opens  atomic.Int32
	runs   atomic.Int32
	closed atomic.Bool
}

func (b *Backend) Open(artifact []byte, meta model.Metadata) (model.Session, error) {
	b.opens.Add(1)
	if b.Gate != nil {
		<-b.Gate
	}
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	if len(artifact) == 0 {
		return nil, errors.New("empty artifact")
	}
	return &session{b: b, meta: meta}, nil
}

func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Backend) Opens() int   { return int(b.opens.Load()) }
func (b *Backend) Runs() int    { return int(b.runs.Load()) }
func (b *Backend) Closed() bool { return b.closed.Load() }

type session struct {
	b    *Backend
	meta model.Metadata
}

func (s *session) Run(input []float32) ([]float32, error) {
	s.b.runs.Add(1)
	if want := s.meta.InputSize(); len(input) != want {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), want)
	}
	if s.b.RunErr != nil {
		return nil, s.b.RunErr
	}
	if s.b.Predict != nil {
		return s.b.Predict(input), nil
	}
	return append([]float32(nil), s.b.Probs...), nil
}

func (s *session) Close() error { return nil }

// MeanSoftmax is a deterministic stand-in network: class k scores the mean of
// every input value whose index is congruent to k, then softmax.
func MeanSoftmax(classes int) func([]float32) []float32 {
	return func(input []float32) []float32 {
		sums := make([]float64, classes)
		counts := make([]float64, classes)
		for i, v := range input {
			sums[i%classes] += float64(v)
			counts[i%classes]++
		}
		var total float64
		exps := make([]float64, classes)
		for k := range exps {
			exps[k] = math.Exp(sums[k] / math.Max(counts[k], 1) / 64)
			total += exps[k]
		}
		out := make([]float32, classes)
		for k := range out {
			out[k] = float32(exps[k] / total)
		}
		return out
	}
}

// CountingFS records how many times each file is opened.
type CountingFS struct {
	fs.FS

	mu     sync.Mutex
	counts map[string]int
}

func NewCountingFS(fsys fs.FS) *CountingFS {
	return &CountingFS{FS: fsys, counts: make(map[string]int)}
}

func (c *CountingFS) Open(name string) (fs.File, error) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
	return c.FS.Open(name)
}

func (c *CountingFS) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// NewLoader wires a loader over fsys and b with logging discarded.
func NewLoader(fsys fs.FS, b *Backend, norm model.Normalization) *model.Loader {
	return model.NewLoader(model.LoaderConfig{
		FS:            fsys,
		ArtifactName:  ArtifactName,
		MetadataName:  MetadataName,
		Normalization: norm,
		Logger:        logging.Discard(),
	}, b)
}
