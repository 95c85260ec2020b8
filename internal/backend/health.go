package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// HealthCheck probes /health, then /, then a one-item user listing. It reports
// true when any probe gets a 2xx response and never returns an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	probes := []request{
		{op: "health", method: http.MethodGet, path: "/health", timeout: c.healthTO},
		{op: "health", method: http.MethodGet, path: "/", timeout: c.healthTO},
		{op: "health", method: http.MethodGet, path: "/users", query: url.Values{"limit": {"1"}}, timeout: c.healthTO + 2*time.Second},
	}
	for _, p := range probes {
		p.noRenew = true
		resp, err := c.do(ctx, p)
		if err == nil && resp.ok() {
			c.setOnline(true)
			return true
		}
		if ctx.Err() != nil {
			break
		}
	}
	c.setOnline(false)
	return false
}
