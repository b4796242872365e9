package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/storage"
)

// Scope names are protocol identifiers: lowercase, no whitespace, so
// they survive space-separated scope parameters.
var scopeNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ScopeInput is an admin's request to define a scope.
type ScopeInput struct {
	Name      string
	Question  string
	Type      string
	Validator *storage.Validator
	Icon      string
}

// scopeTypes are the accepted values for ScopeInput.Type.
var scopeTypes = map[string]bool{
	"text":    true,
	"boolean": true,
	"enum":    true,
}

// DefineScope creates an admin-defined scope. The validator
// configuration is checked at definition time, so a broken validator
// fails here rather than during a user's consent.
func (s *Server) DefineScope(ctx context.Context, input *ScopeInput, clientIP string) error {
	ctx, span := s.tracer.Start(ctx, "server.DefineScope")
	defer span.End()

	name := strings.ToLower(strings.TrimSpace(input.Name))
	if !scopeNamePattern.MatchString(name) {
		return reject(ErrorCodeInvalidScope, "scope name %q must be lowercase with no spaces", input.Name)
	}
	if strings.TrimSpace(input.Question) == "" {
		return reject(ErrorCodeInvalidRequest, "scope question is required")
	}

	scopeType := input.Type
	if scopeType == "" {
		scopeType = "text"
	}
	if !scopeTypes[scopeType] {
		return reject(ErrorCodeInvalidRequest, "unknown scope type %q", input.Type)
	}

	if input.Validator != nil {
		if err := input.Validator.Check(); err != nil {
			return reject(ErrorCodeInvalidRequest, "invalid validator: %v", err)
		}
	}

	scope := &storage.Scope{
		Name:      name,
		Question:  strings.TrimSpace(input.Question),
		Type:      scopeType,
		Validator: input.Validator,
		Icon:      input.Icon,
		CreatedAt: time.Now(),
	}
	if err := s.scopes.CreateScope(ctx, scope); err != nil {
		if errors.Is(err, storage.ErrScopeExists) {
			return reject(ErrorCodeInvalidScope, "scope %q is already defined", name)
		}
		return fmt.Errorf("creating scope: %w", err)
	}

	s.audit().LogScopeDefined(name, clientIP)
	if s.metrics != nil {
		s.metrics.RecordScopeDefined(ctx)
	}
	s.Logger.Info("Defined scope", "scope", name, "type", scopeType)
	return nil
}

// DeleteScope removes a scope definition. Answers users have already
// recorded for the name remain on their accounts; only new grants are
// blocked.
func (s *Server) DeleteScope(ctx context.Context, name string) error {
	if err := s.scopes.DeleteScope(ctx, strings.ToLower(strings.TrimSpace(name))); err != nil {
		if errors.Is(err, storage.ErrScopeNotFound) {
			return reject(ErrorCodeInvalidScope, "scope %q is not defined", name)
		}
		return fmt.Errorf("deleting scope: %w", err)
	}
	s.Logger.Info("Deleted scope", "scope", name)
	return nil
}

// GetScope retrieves a scope definition.
func (s *Server) GetScope(ctx context.Context, name string) (*storage.Scope, error) {
	return s.scopes.GetScope(ctx, strings.ToLower(strings.TrimSpace(name)))
}

// ListScopes lists all defined scopes.
func (s *Server) ListScopes(ctx context.Context) ([]*storage.Scope, error) {
	return s.scopes.ListScopes(ctx)
}

// ValidateAnswer runs a scope's validator against a candidate answer
// without recording anything.
func (s *Server) ValidateAnswer(ctx context.Context, scopeName, answer string) error {
	scope, err := s.scopes.GetScope(ctx, strings.ToLower(strings.TrimSpace(scopeName)))
	if err != nil {
		if errors.Is(err, storage.ErrScopeNotFound) {
			return reject(ErrorCodeInvalidScope, "scope %q is not defined", scopeName)
		}
		return fmt.Errorf("loading scope: %w", err)
	}
	return scope.Validator.Validate(answer)
}
