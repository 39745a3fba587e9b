// Package client talks to a running classification server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mediscan/lesion-api/internal/inference"
)

// APIError is a non-200 answer from the server. It is never retried: the
// server's pipeline is deterministic, so the same upload fails the same way.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
	logger     *slog.Logger

	// NewBackOff builds the retry schedule for one call.
	NewBackOff func() backoff.BackOff
}

func New(baseURL string, httpClient *http.Client, maxRetries uint64, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       httpClient,
		maxRetries: maxRetries,
		logger:     logger,
		NewBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Classify uploads one image. Connection failures are retried with backoff;
// any HTTP response is final.
func (c *Client) Classify(ctx context.Context, filename string, data []byte) (*inference.Result, error) {
	var result *inference.Result
	err := c.retry(ctx, "classify", func() error {
		body, contentType, err := multipartBody(filename, data)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)

		result = new(inference.Result)
		return c.do(req, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.retry(ctx, "health", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.do(req, &h)
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(c.NewBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(fn, b, func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying", "op", op, "error", err, "wait", wait)
	})
}

// do sends req and decodes a 200 body into out. Transport errors are
// returned as-is so the caller retries them.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: e.Error})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func multipartBody(filename string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
