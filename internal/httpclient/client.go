// Package httpclient is the outbound REST client shared by the Plaid and Qloo
// integrations. It bounds response sizes, records provider metrics and maps
// transport failures and non-2xx answers to apperrors.ErrProviderUnavailable.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Client wraps net/http with size limits, logging and metrics for one provider.
type Client struct {
	client   *http.Client
	provider string
}

type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a client labelled with provider in logs and metrics.
func New(provider string, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		provider: provider,
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// StatusError is returned for non-2xx responses. It wraps ErrProviderUnavailable.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return apperrors.ErrProviderUnavailable
}

// Do executes req and reads the body. Transport errors and non-2xx statuses
// are returned as errors wrapping ErrProviderUnavailable.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	start := time.Now()
	timer := metrics.ProviderRequestDuration.WithLabelValues(c.provider)

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(c.provider, "error").Inc()
		zap.L().Error("provider request failed",
			zap.String("provider", c.provider),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return nil, fmt.Errorf("%s request failed: %v: %w", c.provider, err, apperrors.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	timer.Observe(duration.Seconds())
	metrics.ProviderRequestsTotal.WithLabelValues(c.provider, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("%s response too large: %d bytes: %w", c.provider, resp.ContentLength, apperrors.ErrProviderUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response body: %v: %w", c.provider, err, apperrors.ErrProviderUnavailable)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("%s response body too large: %w", c.provider, apperrors.ErrProviderUnavailable)
	}

	zap.L().Debug("provider request",
		zap.String("provider", c.provider),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	return &Response{StatusCode: resp.StatusCode, Body: body, Duration: duration}, nil
}

// GetJSON performs a GET and decodes the JSON body into dest.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return c.decode(resp.Body, dest)
}

// PostJSON encodes body as JSON, POSTs it and decodes the JSON answer into dest.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return c.decode(resp.Body, dest)
}

func (c *Client) decode(body []byte, dest interface{}) error {
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %v: %w", c.provider, err, apperrors.ErrProviderUnavailable)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
