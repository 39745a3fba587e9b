package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/mediscan/lesion-api/internal/config"
	"github.com/mediscan/lesion-api/internal/handlers"
	"github.com/mediscan/lesion-api/internal/inference"
	"github.com/mediscan/lesion-api/internal/logging"
	"github.com/mediscan/lesion-api/internal/model"
)

func main() {
	cfg, warnings := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	for _, w := range warnings {
		logger.Warn("invalid config value, using default",
			"key", w.Key, "value", w.Value, "default", w.Fallback, "error", w.Err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	gin.SetMode(cfg.GinMode)

	norm, err := model.ParseNormalization(cfg.Normalization)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	resize, err := inference.NewResizer(cfg.Resampler)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	backend := model.NewONNXBackend(cfg.ORTLibraryPath, cfg.IntraOpThreads, logger)
	loader := model.NewLoader(model.LoaderConfig{
		FS:            os.DirFS(cfg.ModelDir),
		ArtifactName:  cfg.ModelFile,
		MetadataName:  cfg.MetadataFile,
		Normalization: norm,
		Logger:        logger,
	}, backend)
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Error("failed to release model", "error", err)
		}
	}()

	// A missing or broken model is not fatal: the server starts degraded and
	// retries the load on the first prediction.
	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if _, err := loader.EnsureLoaded(startupCtx); err != nil {
		logger.Warn("model not loaded at startup, will retry on first request",
			"path", cfg.ModelPath(), "error", err)
	}
	cancel()

	pipeline := inference.NewPipeline(loader, inference.NewPreprocessor(resize, cfg.AutoOrient, cfg.MaxImagePixels), cfg.SoftmaxTolerance, logger)
	handler := handlers.NewHandler(pipeline, cfg.MaxUploadBytes, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler, logger, cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "model_loaded", loader.Loaded(),
			"resampler", cfg.Resampler, "routes", []string{"GET /health", "POST /predict", "POST /predict/tensor"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return
	}
	logger.Info("server exited")
}
