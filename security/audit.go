package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor records security-relevant events through structured logging.
// User identifiers are hashed before they reach the log stream so audit
// trails can be correlated without storing raw account identifiers.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor. A nil logger falls back to
// slog.Default.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event is a single security audit record.
type Event struct {
	Type      string
	UserUUID  string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent emits an audit event with hashed user identity.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_hash", hashForLogging(event.UserUUID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued records the issuance of an authorization code.
func (a *Auditor) LogCodeIssued(userUUID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      "code_issued",
		UserUUID:  userUUID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenIssued records a successful code exchange.
func (a *Auditor) LogTokenIssued(userUUID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserUUID:  userUUID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogCodeReuse records an attempt to redeem an already-spent
// authorization code, including how many tokens were revoked in
// response.
func (a *Auditor) LogCodeReuse(userUUID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      "code_reuse_detected",
		UserUUID:  userUUID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": revoked,
		},
	})
}

// LogAuthFailure records a failed client or user authentication.
func (a *Auditor) LogAuthFailure(userUUID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		UserUUID:  userUUID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded records a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress, userUUID string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		UserUUID:  userUUID,
		IPAddress: ipAddress,
	})
}

// LogClientRegistered records the registration of a new application.
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      "client_registered",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// LogClientDeleted records the removal of an application and the
// number of credentials invalidated by the cascade.
func (a *Auditor) LogClientDeleted(clientID, ipAddress string, invalidated int) {
	a.LogEvent(Event{
		Type:      "client_deleted",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"credentials_invalidated": invalidated,
		},
	})
}

// LogScopeDefined records the creation of an admin-defined scope.
func (a *Auditor) LogScopeDefined(name, ipAddress string) {
	a.LogEvent(Event{
		Type:      "scope_defined",
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": name,
		},
	})
}

// LogForcedLogout records a user-initiated global session revocation.
func (a *Auditor) LogForcedLogout(userUUID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      "forced_logout",
		UserUUID:  userUUID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": revoked,
		},
	})
}

// hashForLogging creates a truncated SHA-256 hash of sensitive data.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
