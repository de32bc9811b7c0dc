package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"
)

var ErrCircuitOpen = errors.New("webhook circuit open")

type bypassKey struct{}

// BypassCircuit marks ctx so PostJSON sends even when the circuit is open.
// Connection tests and operator retries use it to see the endpoint's real answer.
func BypassCircuit(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func circuitBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// maxResponseBody bounds how much of the endpoint's reply is kept.
const maxResponseBody = 4 << 10

// Client posts JSON documents to webhook endpoints with a timeout and a
// simple circuit breaker. It never retries.
type Client struct {
	cfg    Config
	client *http.Client

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32 // atomic flag for Close()
}

// Response is the outcome of a POST that reached the endpoint.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
	Latency    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// NewClient creates a new webhook client.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger.Info("webhook: NewClient created", slog.String("user_agent", cfg.UserAgent), slog.Duration("timeout", cfg.Timeout))
	return &Client{cfg: cfg, client: httpClient}
}

func NewDefaultClient(cfg Config) *Client {
	defaultClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return NewClient(cfg, defaultClient)
}

func (c *Client) isCircuitOpen() bool {
	if c.cfg.CircuitFailureThreshold <= 0 {
		return false
	}
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}

	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// attempt half-open: reset failures and allow a request
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if c.cfg.CircuitFailureThreshold > 0 && v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}

// Close releases idle connections on the underlying transport. Close is
// idempotent and safe to call multiple times.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil {
		c.client.CloseIdleConnections()
		logger.Debug("webhook: client Close() called - CloseIdleConnections invoked")
	}
	return nil
}

// package-level logger for pkg/webhook; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/webhook. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// PostJSON marshals payload and POSTs it to target. A response with any
// status is returned with a nil error; errors mean the endpoint was not
// reached (bad URL, transport failure, timeout, open circuit).
func (c *Client) PostJSON(ctx context.Context, target string, payload any) (*Response, error) {
	if !circuitBypassed(ctx) && c.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}

	u, err := url.ParseRequestURI(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", target)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxReq, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		logger.Warn("webhook: post failed", slog.String("host", u.Host), slog.Any("err", err))
		return nil, err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	out := &Response{StatusCode: resp.StatusCode, Body: string(b), Latency: time.Since(start)}
	if !out.OK() {
		c.recordFailure()
	} else {
		atomic.StoreInt32(&c.failures, 0)
	}

	logger.Info("webhook: post",
		slog.String("host", u.Host),
		slog.Int("status", resp.StatusCode),
		slog.Int64("latency_ms", out.Latency.Milliseconds()),
	)
	return out, nil
}
