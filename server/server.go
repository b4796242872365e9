// Package server implements the authorization server logic: the
// authorization-code flow with PKCE, the client and scope registries,
// the login-method selector, and user administration. It is
// transport-agnostic; the root package adapts it to HTTP.
package server

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/gatehouse/gatehouse/directory"
	"github.com/gatehouse/gatehouse/instrumentation"
	"github.com/gatehouse/gatehouse/providers"
	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// safeTruncate truncates s to at most maxLen characters for logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server coordinates the stores and providers behind the protocol
// operations.
type Server struct {
	clients     storage.ClientStore
	scopes      storage.ScopeStore
	credentials storage.CredentialStore
	users       directory.Directory
	providers   map[directory.LoginMethod]providers.Provider

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// New creates an authorization server.
func New(
	clients storage.ClientStore,
	scopes storage.ScopeStore,
	credentials storage.CredentialStore,
	users directory.Directory,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if scopes == nil {
		return nil, fmt.Errorf("scope store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	srv := &Server{
		clients:     clients,
		scopes:      scopes,
		credentials: credentials,
		users:       users,
		providers:   make(map[directory.LoginMethod]providers.Provider),
		Logger:      logger,
		Config:      config,
		tracer:      tracenoop.NewTracerProvider().Tracer(""),
	}

	if err := srv.validateIssuer(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation wires tracing and metrics into the server.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("server")
}

// RegisterProvider adds an upstream identity provider to the login
// selector.
func (s *Server) RegisterProvider(p providers.Provider) {
	s.providers[p.Method()] = p
}

// Provider returns the provider for a login method, if registered.
func (s *Server) Provider(method directory.LoginMethod) (providers.Provider, bool) {
	p, ok := s.providers[method]
	return p, ok
}

// audit returns the auditor, or a disabled one when none is set, so
// call sites need no nil checks.
func (s *Server) audit() *security.Auditor {
	if s.Auditor != nil {
		return s.Auditor
	}
	return security.NewAuditor(s.Logger, false)
}

// generateRandomToken produces a cryptographically secure URL-safe
// random string used for codes, tokens, and client secrets.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
