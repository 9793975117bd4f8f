// Package bridge provides the HTTP/JSON transport shared by every platform
// driver: request plumbing, response parsing, sessions with their element
// handle registry, and W3C pointer action builders.
package bridge

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

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// DefaultMaxResponseSize bounds a single bridge response. Full-screen
// base64 screenshots of large displays stay well under it.
const DefaultMaxResponseSize = 64 << 20

// Client talks to one automation bridge over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logrus.FieldLogger
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// WithRateLimit throttles requests to rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithMaxResponseSize overrides DefaultMaxResponseSize.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// NewClient creates a client for the bridge at cfg.Host:cfg.Port.
func NewClient(cfg core.DriverConfig, opts ...Option) *Client {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, cfg.Port),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 4},
		},
		log:     logger.Component("bridge"),
		maxBody: DefaultMaxResponseSize,
	}
	WithRateLimit(cfg.RequestsPerSecond, 1)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientURL creates a client for a bridge base URL such as an
// httptest server's.
func NewClientURL(baseURL string, opts ...Option) *Client {
	c := NewClient(core.DriverConfig{}, opts...)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// BaseURL returns the bridge root, e.g. http://127.0.0.1:8100.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a read-only query.
func (c *Client) Get(ctx context.Context, path string) (Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues an action or session-management request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Delete issues a teardown request.
func (c *Client) Delete(ctx context.Context, path string) (Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Do sends one request and maps every failure onto the core error kinds:
// transport failures become ConnectionFailed (or Timeout once ctx is done),
// bridge-reported errors become ActionFailed, ElementNotFound or
// InvalidSelector, and oversized bodies become BufferTooSmall.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, core.ErrTimeout.WithCause(err)
		}
	}

	start := time.Now()

	var reqBody io.Reader
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, core.ErrActionFailed.WithMessage("marshal request").WithCause(err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return Response{}, core.ErrActionFailed.WithMessage("create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	fields := logrus.Fields{"method": method, "path": path}
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.log.WithFields(fields).WithField("elapsed", elapsed).WithError(err).Debug("bridge request failed")
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, core.ErrTimeout.
				WithMessage(fmt.Sprintf("%s %s timed out", method, path)).
				WithCause(err)
		}
		return Response{}, core.ErrConnectionFailed.WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Response{}, core.ErrConnectionFailed.WithMessage("read response").WithCause(err)
	}
	if int64(len(data)) > c.maxBody {
		return Response{}, core.ErrBufferTooSmall.WithDetails(map[string]interface{}{
			"path":  path,
			"limit": c.maxBody,
		})
	}

	c.log.WithFields(fields).WithFields(logrus.Fields{
		"elapsed": elapsed,
		"status":  resp.StatusCode,
		"body":    bodyStr,
	}).Debug("bridge request")

	r := Response{Status: resp.StatusCode, Body: data}
	if err := r.err(method, path); err != nil {
		return r, err
	}
	return r, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// err extracts a bridge-reported error. W3C bridges nest {error, message}
// under value; desktop bridges return a top-level error string.
func (r Response) err(method, path string) error {
	var code, message string
	if len(r.Body) > 0 && gjson.ValidBytes(r.Body) {
		if v := r.Get("value.error"); v.Exists() && v.String() != "" {
			code = v.String()
			message = r.Get("value.message").String()
		} else if v := r.Get("error"); v.Type == gjson.String && v.String() != "" {
			code = v.String()
			message = r.Get("message").String()
		}
	} else if len(r.Body) > 0 && r.Status < 400 {
		return core.ErrActionFailed.WithMessage(fmt.Sprintf("%s %s: invalid JSON response", method, path))
	}

	if code == "" && r.Status < 400 {
		return nil
	}
	if code == "" {
		code = fmt.Sprintf("HTTP %d", r.Status)
		message = strings.TrimSpace(string(r.Body))
	}
	if message == "" {
		message = code
	}

	base := core.ErrActionFailed
	switch strings.ToLower(code) {
	case "no such element", "stale element reference", "element not found":
		base = core.ErrElementNotFound
	case "invalid selector":
		base = core.ErrInvalidSelector
	case "invalid session id":
		base = core.ErrNotConnected
	}
	return base.
		WithMessage(fmt.Sprintf("%s %s: %s", method, path, message)).
		WithDetails(map[string]interface{}{"error": code, "status": r.Status})
}
