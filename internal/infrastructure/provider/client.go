// Package provider implements payment provider adapters over their HTTP APIs.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// Config describes one provider endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Observer receives call latencies.
type Observer interface {
	ObserveCall(provider, operation, outcome string, took time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveCall(string, string, string, time.Duration) {}

// ClientOption configures the HTTP client of an adapter.
type ClientOption func(*client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *client) {
		c.http = hc
	}
}

// WithObserver sets the latency observer.
func WithObserver(o Observer) ClientOption {
	return func(c *client) {
		c.observer = o
	}
}

// client is the JSON transport shared by adapters. It classifies failures into
// ErrProviderTransient and ErrProviderRejected.
type client struct {
	name     string
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	observer Observer
	tracer   trace.Tracer
}

func newClient(name string, cfg Config, opts ...ClientOption) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &client{
		name:     name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		limiter:  limiter,
		observer: noopObserver{},
		tracer:   otel.Tracer("estately/provider"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the error body shape shared by the supported processors.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *client) do(ctx context.Context, operation, method, path string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "provider."+operation, trace.WithAttributes(
		attribute.String("provider", c.name),
		attribute.String("http.method", method),
	))
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, apppayment.ErrProviderRejected):
			outcome = "rejected"
		case err != nil:
			outcome = "transient"
		}
		c.observer.ObserveCall(c.name, operation, outcome, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s rate limiter: %w", apppayment.ErrProviderTransient, c.name, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if key := apppayment.IdempotencyKey(ctx); key != "" && method != http.MethodGet {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", apppayment.ErrProviderTransient, c.name, operation, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := classify(c.name, operation, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: malformed response: %w", apppayment.ErrProviderTransient, c.name, operation, err)
	}
	return nil
}

func classify(name, operation string, resp *http.Response) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &body)
	detail := body.Message
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%w: %s %s: %d %s", apppayment.ErrProviderTransient, name, operation, status, detail)
	default:
		return fmt.Errorf("%w: %s %s: %d %s", apppayment.ErrProviderRejected, name, operation, status, detail)
	}
}
