package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatehouse/gatehouse/storage"
)

// CreateScope persists a new scope definition. SET NX makes the existence
// check atomic, so two admins defining the same name race cleanly.
func (s *Store) CreateScope(ctx context.Context, scope *storage.Scope) error {
	if scope == nil || scope.Name == "" {
		return fmt.Errorf("scope must have a name")
	}

	data, err := json.Marshal(toScopeJSON(scope))
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.scopeKey(scope.Name)).Value(string(data)).Nx().Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return fmt.Errorf("%w: %q", storage.ErrScopeExists, scope.Name)
		}
		return fmt.Errorf("failed to save scope: %w", err)
	}

	s.logger.Debug("Saved scope", "scope", scope.Name)
	return nil
}

// GetScope retrieves a scope by name.
func (s *Store) GetScope(ctx context.Context, name string) (*storage.Scope, error) {
	return getAndUnmarshal(ctx, s, s.scopeKey(name), storage.ErrScopeNotFound, fromScopeJSON)
}

// ListScopes lists all defined scopes.
func (s *Store) ListScopes(ctx context.Context) ([]*storage.Scope, error) {
	return scanValues(ctx, s, s.scopeKey("*"), fromScopeJSON)
}

// DeleteScope removes a scope definition.
func (s *Store) DeleteScope(ctx context.Context, name string) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.scopeKey(name)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete scope: %w", err)
	}
	if removed == 0 {
		return storage.ErrScopeNotFound
	}
	return nil
}
