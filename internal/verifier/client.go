package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/civichain/votegate/internal/models"
)

// ClientConfig holds the settings shared by all factor verifiers.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Client is the HTTP client shared by the factor verifiers. Transient
// failures are retried with exponential backoff; explicit rejections
// are terminal and never retried.
type Client struct {
	baseURL        string
	apiKey         string
	http           *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	logger         *slog.Logger
}

// NewClient creates a verifier client. Defaults: 3 attempts, 300ms
// initial backoff, 10s request timeout.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 300 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		http:           &http.Client{Timeout: cfg.Timeout},
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		logger:         logger,
	}
}

// errorBody is the backend's error envelope on non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PostJSON posts the request body and decodes the response into out,
// retrying transient failures. factor names the verification factor for
// error reporting.
func (c *Client) PostJSON(ctx context.Context, factor, path string, in, out any) error {
	return c.do(ctx, factor, http.MethodPost, path, in, out)
}

// GetJSON fetches the path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, factor, path string, out any) error {
	return c.do(ctx, factor, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, factor, method, path string, in, out any) error {
	attempts := 0
	permanent := false
	op := func() error {
		attempts++
		err := c.doOnce(ctx, factor, method, path, in, out)
		if err == nil {
			return nil
		}
		// Explicit rejections and malformed input are terminal.
		if models.IsRejection(err) || models.IsValidation(err) {
			return backoff.Permanent(err)
		}
		// Local failures (encode, request build) are marked permanent by
		// doOnce; they were never sent, so there is nothing to retry.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return err
		}
		c.logger.Warn("verification request failed, will retry",
			slog.String("factor", factor),
			slog.String("path", path),
			slog.Int("attempt", attempts),
			slog.Any("error", err))
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		if models.IsRejection(err) || models.IsValidation(err) || permanent {
			return err
		}
		return &models.NetworkError{Endpoint: path, Attempts: attempts, Last: err}
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, factor, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response from %s: %w", path, err)
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Semantic rejection, terminal.
		return &models.RejectionError{Factor: factor, Message: extractMessage(data, resp.StatusCode)}
	default:
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, extractMessage(data, resp.StatusCode))
	}
}

func extractMessage(data []byte, status int) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return fmt.Sprintf("status %d", status)
}
