// Package client queries and submits transactions to a pulsed node. The
// liveness lookups follow the filter used by agent frameworks: retry on
// transient failures, accept both response shapes, and treat large
// timestamps as milliseconds.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/agent"
)

// Defaults.
const (
	DefaultBaseURL    = "http://localhost:8080"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// Version is sent in the user agent.
var Version = "0.1.0"

// Options configures a Client. Zero values take defaults; a negative
// MaxRetries disables retries.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	UserAgent  string
	Logger     *zap.Logger
}

// Client talks to one node.
type Client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	userAgent  string
	logger     *zap.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Client for opts.BaseURL.
func New(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       opts.HTTPClient,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
		sleep:      sleepCtx,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = DefaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.backoff <= 0 {
		c.backoff = DefaultBackoff
	}
	if c.userAgent == "" {
		c.userAgent = "agentpulse-go/" + Version
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, body)
}

// Retryable reports whether the status is worth retrying.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

// getJSON fetches url, retrying on 408, 429, 5xx and transport errors with
// exponential backoff: attempt n waits backoff * 2^n.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.fetch(ctx, url, out)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) || attempt >= c.maxRetries {
			return err
		}
		delay := c.backoff * time.Duration(1<<attempt)
		c.logger.Debug("retrying request",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// permanentError is a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}

func (c *Client) fetch(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &permanentError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &permanentError{fmt.Errorf("decode %s: %w", url, err)}
	}
	return nil
}

// Submit signs body with key and posts it to /api/v2/tx/{action}.
// Submissions are not retried.
func (c *Client) Submit(ctx context.Context, key ed25519.PrivateKey, action string, body any) (*Receipt, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", action, err)
	}
	url := c.baseURL + "/api/v2/tx/" + action
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	agent.SignRequest(req, key, payload)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", action, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		rerr := &RevertError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, rerr) != nil || rerr.Message == "" {
			rerr.Message = strings.TrimSpace(string(raw))
		}
		return nil, rerr
	}
	var rcpt Receipt
	if err := json.Unmarshal(raw, &rcpt); err != nil {
		return nil, fmt.Errorf("decode %s receipt: %w", action, err)
	}
	return &rcpt, nil
}
