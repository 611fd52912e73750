// Package webhook POSTs transfer completion events to an HTTP endpoint.
//
// Every request carries the transfer ID as an Idempotency-Key so receivers
// can drop the duplicates that retries produce. 5xx, 429 and network errors
// are retried; other 4xx responses fail at once.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// maxRetryAfter caps how long a Retry-After header may stall a transfer.
const maxRetryAfter = time.Minute

// Headers set on every request.
const (
	HeaderEvent          = "X-Ferry-Event"
	HeaderTransferID     = "X-Ferry-Transfer-Id"
	HeaderOutcome        = "X-Ferry-Outcome"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the first retry delay (default adapter.DefaultBackoff).
	Backoff time.Duration
	// Encoding is the payload format (default json).
	Encoding adapter.Encoding
}

// Adapter publishes transfer completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	enc, err := adapter.ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, fmt.Errorf("webhook adapter: %w", err)
	}
	cfg.Encoding = enc

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish POSTs the event in the configured encoding.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TransferCompletedEvent) error {
	body, err := a.config.Encoding.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "webhook", a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		return a.post(ctx, event, body)
	})
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// post performs a single HTTP POST and classifies the failure for Retry.
func (a *Adapter) post(ctx context.Context, event *adapter.TransferCompletedEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return &adapter.PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", a.config.Encoding.ContentType())
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderTransferID, event.TransferID)
	req.Header.Set(HeaderOutcome, event.Outcome)
	req.Header.Set(HeaderIdempotencyKey, event.TransferID)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &adapter.RetryAfterError{Delay: retryAfter(resp.Header.Get("Retry-After")), Err: &StatusError{Code: code}}
	case code >= 400 && code < 500:
		return &adapter.PermanentError{Err: &StatusError{Code: code}}
	default:
		return &StatusError{Code: code}
	}
}

// retryAfter parses a delay-seconds Retry-After value. HTTP dates and junk
// yield zero, which leaves the regular backoff in charge.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
