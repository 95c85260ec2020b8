package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/usat-ai-lab/taklif/internal/metrics"
)

// errNoRefreshToken is wrapped in the AuthError returned when no refresh token is cached.
var errNoRefreshToken = errors.New("no refresh token")

// SetTokens replaces the cached token pair without persisting it.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	c.access, c.refresh = access, refresh
	c.gen++
	c.mu.Unlock()
}

// Tokens returns the cached token pair.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access, c.refresh
}

func (c *Client) currentToken() (string, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access, c.gen
}

// storeTokens caches and persists a new pair. Persistence failures are logged;
// the in-memory pair is still usable.
func (c *Client) storeTokens(ctx context.Context, access, refresh string) {
	c.SetTokens(access, refresh)
	if c.store == nil {
		return
	}
	if err := c.store.SaveTokens(ctx, access, refresh); err != nil {
		c.logger.Warn("persist tokens", zap.Error(err))
	}
}

// loginShapes are the response layouts the auth service has been seen to use,
// tried in order.
var loginShapes = []func([]byte) (access, refresh string){
	func(b []byte) (string, string) {
		var v struct{ Access, Refresh string }
		_ = json.Unmarshal(b, &v)
		return v.Access, v.Refresh
	},
	func(b []byte) (string, string) {
		var v struct{ Data struct{ Access, Refresh string } }
		_ = json.Unmarshal(b, &v)
		return v.Data.Access, v.Data.Refresh
	},
	func(b []byte) (string, string) {
		var v struct {
			Token        string `json:"token"`
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.Unmarshal(b, &v)
		return v.Token, v.RefreshToken
	},
	func(b []byte) (string, string) {
		var v struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.Unmarshal(b, &v)
		return v.AccessToken, v.RefreshToken
	},
}

func parseLogin(body []byte) (access, refresh string, ok bool) {
	for _, shape := range loginShapes {
		// A shape matches only when it carries both tokens.
		if access, refresh = shape(body); access != "" && refresh != "" {
			return access, refresh, true
		}
	}
	return "", "", false
}

// Login exchanges credentials for a token pair, then caches and persists it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	const op = "login"
	resp, err := c.do(ctx, request{
		op:      op,
		method:  http.MethodPost,
		base:    c.authBaseURL,
		path:    "/auth/login",
		body:    map[string]string{"username": username, "password": password},
		timeout: c.authTimeout,
		noRenew: true,
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("login", "error").Inc()
		return &Error{Kind: KindAuth, Op: op, Err: err}
	}
	if !resp.ok() {
		metrics.TokenRefreshes.WithLabelValues("login", "rejected").Inc()
		return &Error{Kind: KindAuth, Op: op, Status: resp.status, Message: serverMessage(resp.body)}
	}
	access, refresh, ok := parseLogin(resp.body)
	if !ok {
		metrics.TokenRefreshes.WithLabelValues("login", "rejected").Inc()
		return &Error{Kind: KindAuth, Op: op, Status: resp.status, Message: "unrecognized login response"}
	}
	c.storeTokens(ctx, access, refresh)
	metrics.TokenRefreshes.WithLabelValues("login", "ok").Inc()
	c.logger.Info("logged in to auth service", zap.String("username", username))
	return nil
}

// RefreshAccessToken exchanges the cached refresh token for a new access token.
// Concurrent callers share one refresh call.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	v, err, _ := c.renewals.Do("refresh", func() (any, error) {
		return c.refreshAccess(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshAccess(ctx context.Context) (string, error) {
	const op = "refresh"
	_, refresh := c.Tokens()
	if refresh == "" {
		return "", &Error{Kind: KindAuth, Op: op, Err: errNoRefreshToken}
	}
	resp, err := c.do(ctx, request{
		op:      op,
		method:  http.MethodPost,
		base:    c.authBaseURL,
		path:    "/auth/refresh",
		body:    map[string]string{"refresh": refresh},
		timeout: c.authTimeout,
		noRenew: true,
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("refresh", "error").Inc()
		return "", &Error{Kind: KindAuth, Op: op, Err: err}
	}
	if !resp.ok() {
		metrics.TokenRefreshes.WithLabelValues("refresh", "rejected").Inc()
		return "", &Error{Kind: KindAuth, Op: op, Status: resp.status, Message: serverMessage(resp.body)}
	}
	var body struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil || body.Access == "" {
		metrics.TokenRefreshes.WithLabelValues("refresh", "rejected").Inc()
		return "", &Error{Kind: KindAuth, Op: op, Status: resp.status, Message: "no access token in refresh response"}
	}
	if body.Refresh == "" {
		body.Refresh = refresh
	}
	c.storeTokens(ctx, body.Access, body.Refresh)
	metrics.TokenRefreshes.WithLabelValues("refresh", "ok").Inc()
	c.logger.Info("access token refreshed")
	return body.Access, nil
}

// renew is called after a request carrying token generation gen got a 401.
// If the pair changed since, the current token is returned without a network
// call. Otherwise one renewal runs for all concurrent callers: refresh first,
// then a login with the service credentials. Every waiter sees the same result.
func (c *Client) renew(ctx context.Context, gen uint64) (string, error) {
	if token, cur := c.currentToken(); cur != gen && token != "" {
		return token, nil
	}
	// The renewal outlives any single waiter's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := c.renewals.Do("refresh", func() (any, error) {
		if token, cur := c.currentToken(); cur != gen && token != "" {
			return token, nil
		}
		c.logger.Info("access token rejected, renewing")
		token, refreshErr := c.refreshAccess(flightCtx)
		if refreshErr == nil {
			return token, nil
		}
		c.logger.Warn("token refresh failed", zap.Error(refreshErr))
		if c.username == "" {
			return "", refreshErr
		}
		if err := c.Login(flightCtx, c.username, c.password); err != nil {
			c.logger.Error("re-login failed", zap.Error(err))
			return "", refreshErr
		}
		token, _ = c.currentToken()
		return token, nil
	})
	if shared {
		c.logger.Debug("joined in-flight token renewal")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EnsureAuthenticated makes sure an access token is cached: from memory, then
// from the token store, then by logging in with the service credentials.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if access, _ := c.Tokens(); access != "" {
		return nil
	}
	if c.loadStoredTokens() {
		return nil
	}
	return c.loginService(ctx)
}

func (c *Client) loadStoredTokens() bool {
	if c.store == nil {
		return false
	}
	t := c.store.ReadTokens()
	if t.Access == "" || t.Refresh == "" {
		return false
	}
	c.SetTokens(t.Access, t.Refresh)
	c.logger.Info("loaded tokens from store")
	return true
}

func (c *Client) loginService(ctx context.Context) error {
	if c.username == "" {
		return &Error{Kind: KindAuth, Op: "login", Message: "no service credentials configured"}
	}
	return c.Login(ctx, c.username, c.password)
}

// Start logs in with the service credentials, falling back to stored tokens,
// and probes the backend. It only fails when no token can be obtained at all.
func (c *Client) Start(ctx context.Context) error {
	if err := c.loginService(ctx); err != nil {
		c.logger.Warn("startup login failed, trying stored tokens", zap.Error(err))
		if !c.loadStoredTokens() {
			return err
		}
	}
	if c.HealthCheck(ctx) {
		c.logger.Info("backend reachable", zap.String("base_url", c.baseURL))
	} else {
		c.logger.Warn("backend unreachable, running in offline mode", zap.String("base_url", c.baseURL))
	}
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature; the client
// only uses it for reporting.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
