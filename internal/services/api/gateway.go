package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trener-gymbot-go/internal/config"
)

const maxResponseBody = 1 << 20

// RetryPolicy bounds one backend call site
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration // per attempt
}

// PolicyFromConfig converts a configured retry section
func PolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: rc.MaxAttempts, BaseDelay: rc.BaseDelay, Timeout: rc.Timeout}
}

// Backoff returns the wait before the retry that follows the given 1-indexed attempt
func Backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<uint(attempt-1))
}

// StatusError is returned for any non-2xx backend response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether err carries a 4xx status
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// IsConnectionRefused reports whether the backend refused the TCP connection
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Recorder receives per-attempt backend metrics
type Recorder interface {
	RecordBackendRequest(path, status string, duration time.Duration)
	RecordBackendRetry(path string)
}

// rawDecoder is implemented by response types that accept bodies other than a JSON object
type rawDecoder interface {
	DecodeRaw(data []byte) error
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is sent as X-Request-ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id attached to ctx, if any
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Gateway performs JSON calls against the backend with bounded retries
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	metrics    Recorder
	logger     *logrus.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway for the backend at baseURL
func NewGateway(baseURL string, metrics Recorder, logger *logrus.Logger) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		metrics:    metrics,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Call sends body (if not nil) as JSON and decodes a 2xx response into out
// (if not nil). 4xx responses are returned at once; anything else is retried
// with exponential backoff until policy.MaxAttempts is reached.
func (g *Gateway) Call(ctx context.Context, method, path string, body, out interface{}, policy RetryPolicy) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := g.do(ctx, method, path, payload, out, policy.Timeout)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsClientError(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		if attempt == attempts {
			break
		}

		delay := Backoff(policy.BaseDelay, attempt)
		g.logger.WithFields(logrus.Fields{
			"path":       path,
			"attempt":    attempt,
			"delay":      delay,
			"request_id": RequestIDFromContext(ctx),
		}).WithError(err).Warn("Backend request failed, retrying...")
		if g.metrics != nil {
			g.metrics.RecordBackendRetry(path)
		}

		if err := g.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, attempts, lastErr)
}

// do performs a single attempt
func (g *Gateway) do(ctx context.Context, method, path string, payload []byte, out interface{}, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.record(path, "error", time.Since(start))
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	g.record(path, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if rd, ok := out.(rawDecoder); ok {
		return rd.DecodeRaw(data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (g *Gateway) record(path, status string, d time.Duration) {
	if g.metrics != nil {
		g.metrics.RecordBackendRequest(path, status, d)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
