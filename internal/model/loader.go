package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrModelNotFound means the artifact does not exist at the configured path.
	ErrModelNotFound = errors.New("model artifact not found")
	// ErrModelLoad means the artifact or its metadata could not be used.
	ErrModelLoad = errors.New("model load failed")
)

type LoaderConfig struct {
	// FS holds the artifact and metadata; os.DirFS(modelDir) in production.
	FS           fs.FS
	ArtifactName string
	MetadataName string

	// Normalization is the configured scheme; empty defers to the metadata.
	Normalization Normalization
	Taxonomy      Taxonomy
	Logger        *slog.Logger
}

// Loader lazily loads the model once and caches it for the process lifetime.
// Concurrent callers during the first load wait for that load and share its
// result; a failed load is retried by the next caller after it completes.
type Loader struct {
	cfg     LoaderConfig
	backend Backend
	logger  *slog.Logger

	group singleflight.Group
	model atomic.Pointer[Model]
}

func NewLoader(cfg LoaderConfig, backend Backend) *Loader {
	if cfg.Taxonomy.Len() == 0 {
		cfg.Taxonomy = SkinLesions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{
		cfg:     cfg,
		backend: backend,
		logger:  cfg.Logger.With("component", "model_loader"),
	}
}

// EnsureLoaded returns the cached model, loading it first if needed. ctx only
// bounds how long this caller waits; it never cancels a load in flight.
func (l *Loader) EnsureLoaded(ctx context.Context) (*Model, error) {
	if m := l.model.Load(); m != nil {
		return m, nil
	}

	ch := l.group.DoChan("model", func() (any, error) {
		if m := l.model.Load(); m != nil {
			return m, nil
		}
		m, err := l.load()
		if err != nil {
			l.logger.Error("model load failed", "stage", "load", "artifact", l.cfg.ArtifactName, "error", err)
			return nil, err
		}
		l.model.Store(m)
		return m, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Model), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded reports whether a model is ready without triggering a load.
func (l *Loader) Loaded() bool {
	return l.model.Load() != nil
}

func (l *Loader) Close() error {
	var errs []error
	if m := l.model.Swap(nil); m != nil {
		errs = append(errs, m.session.Close())
	}
	errs = append(errs, l.backend.Close())
	return errors.Join(errs...)
}

func (l *Loader) load() (*Model, error) {
	start := time.Now()
	l.logger.Info("loading model", "stage", "load", "artifact", l.cfg.ArtifactName)

	artifact, err := fs.ReadFile(l.cfg.FS, l.cfg.ArtifactName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, l.cfg.ArtifactName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %w", ErrModelLoad, err)
	}
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: artifact %s is empty", ErrModelLoad, l.cfg.ArtifactName)
	}

	meta, err := l.readMetadata()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	meta.applyDefaults(l.cfg.Taxonomy)
	if err := meta.validate(l.cfg.Taxonomy); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	norm, err := resolveNormalization(meta.Normalization, l.cfg.Normalization)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	session, err := l.backend.Open(artifact, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	l.logger.Info("model loaded",
		"stage", "load",
		"artifact", l.cfg.ArtifactName,
		"bytes", len(artifact),
		"input_shape", meta.InputShape,
		"output_shape", meta.OutputShape,
		"normalization", norm,
		"taxonomy", l.cfg.Taxonomy.Version,
		"duration", time.Since(start))

	return &Model{
		Metadata:      meta,
		Taxonomy:      l.cfg.Taxonomy,
		Normalization: norm,
		session:       session,
	}, nil
}

// readMetadata returns the zero Metadata when no metadata file is shipped.
func (l *Loader) readMetadata() (Metadata, error) {
	var meta Metadata
	if l.cfg.MetadataName == "" {
		return meta, nil
	}
	raw, err := fs.ReadFile(l.cfg.FS, l.cfg.MetadataName)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("no model metadata, using defaults", "stage", "load", "metadata", l.cfg.MetadataName)
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}
