// Package backend talks to the feedback backend and its auth service. It keeps
// the bearer token fresh, classifies failures into error kinds and treats
// "not found" as a normal result.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/metrics"
)

const userAgent = "taklif/1.0"

// TokenStore persists the token pair between restarts.
type TokenStore interface {
	ReadTokens() localstore.Tokens
	SaveTokens(ctx context.Context, access, refresh string) error
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	AuthBaseURL     string
	Timeout         time.Duration
	AuthTimeout     time.Duration
	HealthTimeout   time.Duration
	ServiceUsername string
	ServicePassword string
	RateLimit       rate.Limit
	RateBurst       int
	HTTPClient      *http.Client
	Tokens          TokenStore
	Logger          *zap.Logger
}

// Client performs backend operations. Safe for concurrent use.
type Client struct {
	baseURL     string
	authBaseURL string
	timeout     time.Duration
	authTimeout time.Duration
	healthTO    time.Duration
	username    string
	password    string

	http    *http.Client
	limiter *rate.Limiter
	store   TokenStore
	logger  *zap.Logger

	mu      sync.RWMutex
	access  string
	refresh string
	// gen increments whenever the token pair changes. A request that saw a 401
	// with an older generation retries with the current token instead of renewing.
	gen uint64

	renewals singleflight.Group
	online   atomic.Bool
}

// New creates a Client. Zero durations fall back to 10s/15s/3s.
func New(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		authBaseURL: strings.TrimRight(opts.AuthBaseURL, "/"),
		timeout:     opts.Timeout,
		authTimeout: opts.AuthTimeout,
		healthTO:    opts.HealthTimeout,
		username:    opts.ServiceUsername,
		password:    opts.ServicePassword,
		http:        opts.HTTPClient,
		store:       opts.Tokens,
		logger:      opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.authTimeout <= 0 {
		c.authTimeout = 15 * time.Second
	}
	if c.healthTO <= 0 {
		c.healthTO = 3 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return c
}

// request describes one outbound call.
type request struct {
	op      string
	method  string
	base    string
	path    string
	query   url.Values
	body    any
	timeout time.Duration
	// noRenew disables the 401 renewal path (auth endpoints, health probes).
	noRenew bool
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

// do sends r with the current bearer token. With no token cached it first
// tries EnsureAuthenticated. On a 401 it renews the token once and resends,
// but only when a refresh token is cached; a request is never resent twice.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	token, gen := c.currentToken()
	if token == "" && !r.noRenew {
		if err := c.EnsureAuthenticated(ctx); err != nil {
			c.logger.Debug("no access token", zap.String("op", r.op), zap.Error(err))
		}
		token, gen = c.currentToken()
	}
	resp, err := c.send(ctx, r, token)
	if err != nil || resp.status != http.StatusUnauthorized || r.noRenew {
		return resp, err
	}
	if _, refresh := c.Tokens(); refresh == "" {
		return resp, nil
	}

	c.logger.Debug("backend rejected token", zap.String("op", r.op))
	token, err = c.renew(ctx, gen)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, r, token)
}

func (c *Client) send(ctx context.Context, r request, token string) (*response, error) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportError(r.op, err)
		}
	}

	base := r.base
	if base == "" {
		base = c.baseURL
	}
	u := base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: r.op, Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Op: r.op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	metrics.BackendLatency.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.setOnline(false)
		metrics.BackendRequests.WithLabelValues(r.op, "error").Inc()
		c.logger.Debug("backend request failed", zap.String("op", r.op), zap.String("url", u), zap.Error(err))
		return nil, transportError(r.op, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		c.setOnline(false)
		return nil, transportError(r.op, err)
	}
	c.setOnline(res.StatusCode < 500)
	metrics.BackendRequests.WithLabelValues(r.op, statusClass(res.StatusCode)).Inc()
	c.logger.Debug("backend response",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("url", u),
		zap.Int("status", res.StatusCode),
	)
	return &response{status: res.StatusCode, body: data}, nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (c *Client) setOnline(v bool) {
	c.online.Store(v)
	metrics.BackendOnline.Set(metrics.BoolGauge(v))
}

// statusError converts a non-2xx response into an Error of the given kind,
// carrying the server's message when it sent one.
func statusError(op string, kind Kind, resp *response) *Error {
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		kind = KindAuth
	}
	return &Error{Kind: kind, Op: op, Status: resp.status, Message: serverMessage(resp.body)}
}

// serverMessage extracts a human-readable message from an error body.
func serverMessage(body []byte) string {
	var v struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	if v.Message != "" {
		return v.Message
	}
	if s, ok := v.Detail.(string); ok {
		return s
	}
	if s, ok := v.Error.(string); ok {
		return s
	}
	return ""
}

// Status is a snapshot of the client's view of the backend.
type Status struct {
	Online         bool
	BaseURL        string
	HasToken       bool
	TokenExpiresAt *time.Time
}

// GetStatus reports connectivity and token presence.
func (c *Client) GetStatus() Status {
	access, _ := c.Tokens()
	s := Status{
		Online:   c.online.Load(),
		BaseURL:  c.baseURL,
		HasToken: access != "",
	}
	if exp, ok := tokenExpiry(access); ok {
		s.TokenExpiresAt = &exp
	}
	return s
}

// Online reports whether the last call reached the backend.
func (c *Client) Online() bool { return c.online.Load() }

// BaseURL returns the domain backend URL.
func (c *Client) BaseURL() string { return c.baseURL }
