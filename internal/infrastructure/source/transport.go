package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"FeeSync/internal/config"
	"FeeSync/internal/textutil"
)

const (
	userAgent       = "FeeSync/1.0"
	maxBodyBytes    = 16 << 20
	maxReasonLength = 200
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("source returned %s", e.Status)
	}
	return fmt.Sprintf("source returned %s: %s", e.Status, e.Reason)
}

// Transport performs authenticated GETs against the source system with
// optional rate limiting and bounded retries.
type Transport struct {
	client     *http.Client
	username   string
	password   string
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewTransport wires an HTTP client; a nil client gets the configured timeout.
func NewTransport(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) *Transport {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Transport{
		client:     client,
		username:   cfg.Username,
		password:   cfg.Password,
		limiter:    limiter,
		maxRetries: cfg.Retry.MaxRetries,
		baseDelay:  cfg.Retry.BaseDelay,
		maxDelay:   cfg.Retry.MaxDelay,
		logger:     logger,
	}
}

// Get fetches target and returns the response body of a 2xx response.
func (t *Transport) Get(ctx context.Context, target, accept string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, retryable, err := t.do(ctx, target, accept)
		if err == nil {
			return body, nil
		}
		if !retryable || attempt >= t.maxRetries {
			return nil, err
		}

		delay := t.retryDelay(attempt + 1)
		t.debug("retrying source request", "url", target, "attempt", attempt+1, "delay", delay, "error", err)
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (t *Transport) do(ctx context.Context, target, accept string) ([]byte, bool, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, false, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if t.username != "" || t.password != "" {
		req.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Reason:     describeBody(resp.Header.Get("Content-Type"), body),
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, statusErr
	}

	return body, false, nil
}

func (t *Transport) retryDelay(attempt int) time.Duration {
	maxDelay := t.maxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	delay := t.baseDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (t *Transport) debug(msg string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Debug(msg, args...)
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// describeBody condenses an error body; servlet containers answer with HTML
// pages, so their title (or visible text) is used.
func describeBody(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if strings.Contains(strings.ToLower(contentType), "html") {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return truncate(title)
			}
			return truncate(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
		}
	}
	return truncate(strings.Join(strings.Fields(string(body)), " "))
}

func truncate(s string) string {
	cut, truncated := textutil.Truncate(s, maxReasonLength)
	if truncated {
		return cut + "..."
	}
	return s
}
