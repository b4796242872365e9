package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the authorization server.
type Metrics struct {
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
	CodesIssued        metric.Int64Counter
	CodeExchanges      metric.Int64Counter
	CodeReuseDetected  metric.Int64Counter
	TokensRevoked      metric.Int64Counter
	PKCEFailures       metric.Int64Counter
	ClientsRegistered  metric.Int64Counter
	ScopesDefined      metric.Int64Counter
	ConsentValidations metric.Int64Counter
	RateLimitExceeded  metric.Int64Counter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")

	m := &Metrics{}
	var err error

	if m.HTTPRequests, err = httpMeter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests processed"),
	); err != nil {
		return nil, err
	}
	if m.HTTPDuration, err = httpMeter.Float64Histogram(
		"http_request_duration_ms",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.CodesIssued, err = serverMeter.Int64Counter(
		"authorization_codes_issued_total",
		metric.WithDescription("Authorization codes issued"),
	); err != nil {
		return nil, err
	}
	if m.CodeExchanges, err = serverMeter.Int64Counter(
		"code_exchanges_total",
		metric.WithDescription("Authorization code exchanges by result"),
	); err != nil {
		return nil, err
	}
	if m.CodeReuseDetected, err = serverMeter.Int64Counter(
		"code_reuse_detected_total",
		metric.WithDescription("Spent authorization code reuse attempts"),
	); err != nil {
		return nil, err
	}
	if m.TokensRevoked, err = serverMeter.Int64Counter(
		"tokens_revoked_total",
		metric.WithDescription("Access tokens revoked"),
	); err != nil {
		return nil, err
	}
	if m.PKCEFailures, err = serverMeter.Int64Counter(
		"pkce_validation_failures_total",
		metric.WithDescription("PKCE verifier validation failures"),
	); err != nil {
		return nil, err
	}
	if m.ClientsRegistered, err = serverMeter.Int64Counter(
		"clients_registered_total",
		metric.WithDescription("OAuth clients registered"),
	); err != nil {
		return nil, err
	}
	if m.ScopesDefined, err = serverMeter.Int64Counter(
		"scopes_defined_total",
		metric.WithDescription("Admin-defined scopes created"),
	); err != nil {
		return nil, err
	}
	if m.ConsentValidations, err = serverMeter.Int64Counter(
		"consent_validations_total",
		metric.WithDescription("Consent answer validations by result"),
	); err != nil {
		return nil, err
	}
	if m.RateLimitExceeded, err = serverMeter.Int64Counter(
		"rate_limit_exceeded_total",
		metric.WithDescription("Requests rejected by rate limiting"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status_code", statusCode),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.HTTPDuration.Record(ctx, durationMs, attrs)
}

// RecordCodeIssued records an issued authorization code.
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange records a code exchange attempt.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string, success bool) {
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordCodeReuse records a spent-code reuse attempt.
func (m *Metrics) RecordCodeReuse(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokensRevoked records revoked tokens with the revocation cause.
func (m *Metrics) RecordTokensRevoked(ctx context.Context, cause string, count int) {
	m.TokensRevoked.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("cause", cause),
	))
}

// RecordPKCEFailure records a failed PKCE validation.
func (m *Metrics) RecordPKCEFailure(ctx context.Context, method string) {
	m.PKCEFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordClientRegistered records a client registration.
func (m *Metrics) RecordClientRegistered(ctx context.Context, clientType string) {
	m.ClientsRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordScopeDefined records a scope definition.
func (m *Metrics) RecordScopeDefined(ctx context.Context) {
	m.ScopesDefined.Add(ctx, 1)
}

// RecordConsentValidation records a consent answer validation.
func (m *Metrics) RecordConsentValidation(ctx context.Context, scope string, valid bool) {
	m.ConsentValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.Bool("valid", valid),
	))
}

// RecordRateLimitExceeded records a rate limited request.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter", limiterType),
	))
}
