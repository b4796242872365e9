package server

import (
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/directory"
)

// Config holds the authorization server configuration.
type Config struct {
	// Issuer is the public base URL of this server, e.g.
	// "https://auth.example.com".
	Issuer string

	// CodeTTL is the authorization code lifetime. Defaults to 5 minutes.
	CodeTTL time.Duration

	// RequireS256 rejects the "plain" PKCE method at the authorization
	// endpoint. Off by default for compatibility with clients that
	// cannot compute SHA-256; turn it on for new deployments.
	RequireS256 bool

	// DefaultLoginMethod is returned by the login selector for unknown
	// email addresses, so the response does not reveal whether an
	// account exists. Defaults to local login.
	DefaultLoginMethod directory.LoginMethod

	// MintRetries bounds how many times code and token minting retries
	// on a random-value collision. Defaults to 3.
	MintRetries int

	// AllowInsecureHTTP permits a non-HTTPS issuer outside localhost.
	// Development only.
	AllowInsecureHTTP bool
}

// applyDefaults fills in zero values and warns about insecure settings.
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	cfg := *config

	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.DefaultLoginMethod == "" {
		cfg.DefaultLoginMethod = directory.MethodLocal
	}
	if cfg.MintRetries <= 0 {
		cfg.MintRetries = 3
	}

	if !cfg.RequireS256 {
		logger.Warn("PKCE plain method is allowed; consider RequireS256 for new deployments")
	}

	return &cfg
}
