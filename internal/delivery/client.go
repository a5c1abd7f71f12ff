// Package delivery posts event batches to the collector.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/metrics"
)

var (
	// ErrTerminalStatus marks a response whose status code is never retried.
	ErrTerminalStatus = errors.New("terminal collector status")
	// ErrMarshal marks a payload that could not be encoded. Nothing is sent.
	ErrMarshal = errors.New("payload not encodable")
)

// HeaderSiteKey carries the client key on every collector request.
const HeaderSiteKey = "site_key"

// Config tunes the client.
type Config struct {
	URL             string
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RequestTimeout  time.Duration
	TerminalCodes   []int
}

// Result describes the outcome of one Send.
type Result struct {
	Attempts   int
	StatusCode int
	Terminal   bool
	Err        error
}

// OK reports whether the batch was accepted.
func (r Result) OK() bool { return r.Err == nil }

// Client posts batches with bounded retry.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	terminal        map[int]struct{}
	timeout         atomic.Int64
	logger          *slog.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	codes := cfg.TerminalCodes
	if codes == nil {
		codes = []int{http.StatusUnauthorized, http.StatusForbidden}
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.URL, "/"),
		httpClient:      &http.Client{},
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		terminal:        make(map[int]struct{}, len(codes)),
		logger:          logger,
	}
	for _, code := range codes {
		c.terminal[code] = struct{}{}
	}
	c.SetRequestTimeout(cfg.RequestTimeout)
	return c
}

// SetRequestTimeout changes the per-attempt timeout. Non-positive values
// are ignored.
func (c *Client) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		c.timeout.Store(int64(d))
	}
}

// RequestTimeout returns the per-attempt timeout.
func (c *Client) RequestTimeout() time.Duration {
	d := time.Duration(c.timeout.Load())
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// IsTerminal reports whether code short-circuits retrying.
func (c *Client) IsTerminal(code int) bool {
	_, ok := c.terminal[code]
	return ok
}

// Send posts p to {URL}/{clientKey}, retrying transient failures with
// exponential backoff up to the configured attempt count.
func (c *Client) Send(ctx context.Context, clientKey string, p Payload) Result {
	start := time.Now()
	defer func() {
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(p)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrMarshal, err)}
	}
	endpoint := c.baseURL + "/" + url.PathEscape(clientKey)

	var result Result
	operation := func() error {
		result.Attempts++
		metrics.DeliveryAttempts.Inc()

		status, err := c.post(ctx, endpoint, clientKey, body)
		result.StatusCode = status
		if err == nil {
			return nil
		}
		if c.IsTerminal(status) {
			result.Terminal = true
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrTerminalStatus, status))
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("collector send failed, retrying",
			logging.Attempts(result.Attempts),
			logging.Error(err),
			"retry_in", wait.String(),
		)
	}

	result.Err = backoff.RetryNotify(operation, policy, notify)
	return result
}

func (c *Client) post(ctx context.Context, endpoint, clientKey string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSiteKey, clientKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("collector response status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
