package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mediscan/lesion-api/internal/inference"
)

// Predictor is the inference core as seen by the transport.
type Predictor interface {
	Predict(ctx context.Context, data []byte, filename string) (*inference.Result, error)
	PredictTensor(ctx context.Context, input []float32) (*inference.Result, error)
	ModelLoaded() bool
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type Handler struct {
	predictor      Predictor
	maxUploadBytes int64
	requestTimeout time.Duration
	logger         *slog.Logger
}

func NewHandler(predictor Predictor, maxUploadBytes int64, requestTimeout time.Duration, logger *slog.Logger) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = time.Minute
	}
	return &Handler{
		predictor:      predictor,
		maxUploadBytes: maxUploadBytes,
		requestTimeout: requestTimeout,
		logger:         logger.With("component", "http"),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": h.predictor.ModelLoaded(),
	})
}

// Predict classifies the multipart file in the "image" field.
func (h *Handler) Predict(c *gin.Context) {
	// Leave room for the multipart envelope around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

	var (
		data     []byte
		filename string
	)
	header, err := c.FormFile("image")
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		h.writeError(c, h.tooLarge())
		return
	case err != nil:
		// Missing field or not multipart: the pipeline reports "no file".
	case header.Size > h.maxUploadBytes:
		h.writeError(c, h.tooLarge())
		return
	default:
		filename = header.Filename
		data, err = readUpload(header)
		if err != nil {
			h.logger.Warn("failed to read upload", "request_id", c.GetString(requestIDKey), "error", err)
			h.writeError(c, &inference.Error{Kind: inference.KindValidation, Msg: "Failed to read uploaded file", Err: err})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.predictor.Predict(ctx, data, filename)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PredictTensor classifies a pre-normalized input batch sent as JSON.
func (h *Handler) PredictTensor(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, &inference.Error{Kind: inference.KindValidation, Msg: "Invalid JSON", Err: err})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.predictor.PredictTensor(ctx, req.Image)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) tooLarge() error {
	return &inference.Error{
		Kind: inference.KindValidation,
		Msg:  fmt.Sprintf("Image exceeds the %d byte upload limit", h.maxUploadBytes),
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var e *inference.Error
	if !errors.As(err, &e) {
		h.logger.Error("unclassified error", "request_id", c.GetString(requestIDKey), "error", err)
		e = &inference.Error{Kind: inference.KindUnknown, Msg: "unexpected error", Err: err}
	}
	c.JSON(StatusFor(e.Kind), gin.H{"error": e.Public()})
}

// StatusFor maps a pipeline error kind to an HTTP status.
func StatusFor(kind inference.ErrorKind) int {
	if kind.ClientError() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
