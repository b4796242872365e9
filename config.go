// Package gatehouse adapts the authorization server to HTTP: the
// protocol endpoints, the admin API, and the user-facing helpers for
// login-method selection and global logout.
package gatehouse

import "log/slog"

// Config holds the HTTP-layer configuration.
type Config struct {
	// RateLimitPerSecond and RateLimitBurst configure per-IP rate
	// limiting on protocol endpoints. Zero disables rate limiting.
	RateLimitPerSecond int
	RateLimitBurst     int

	// TrustProxy enables X-Forwarded-For handling; only set behind a
	// trusted reverse proxy.
	TrustProxy        bool
	TrustedProxyCount int
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults(logger *slog.Logger) {
	if c.RateLimitPerSecond > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = c.RateLimitPerSecond * 2
	}
	if c.TrustProxy && c.TrustedProxyCount <= 0 {
		c.TrustedProxyCount = 1
	}
	if c.RateLimitPerSecond <= 0 {
		logger.Warn("Rate limiting is disabled")
	}
}
