package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by store implementations. Callers match them with
// errors.Is so that backends can wrap them with contextual detail.
var (
	// ErrClientNotFound indicates the referenced client does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrScopeNotFound indicates the referenced scope does not exist.
	ErrScopeNotFound = errors.New("scope not found")

	// ErrScopeExists indicates a scope with the same name is already defined.
	ErrScopeExists = errors.New("scope already exists")

	// ErrCodeNotFound indicates the authorization code does not exist.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code's TTL has passed.
	// The record is deleted as a side effect of the failed consume.
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrCodeSpent indicates an attempt to consume an already-spent code.
	// It wraps ErrCodeNotFound: to the protocol the code no longer exists,
	// but callers can detect the reuse and revoke descendant tokens.
	ErrCodeSpent = fmt.Errorf("%w: already spent", ErrCodeNotFound)

	// ErrClientMismatch indicates the code belongs to a different client.
	ErrClientMismatch = errors.New("authorization code client mismatch")

	// ErrRedirectMismatch indicates the redirect URI presented at exchange
	// differs from the one bound at authorization time.
	ErrRedirectMismatch = errors.New("redirect URI mismatch")

	// ErrPKCEFailure indicates a missing or non-matching code verifier.
	ErrPKCEFailure = errors.New("PKCE verification failed")

	// ErrTokenNotFound indicates the access token does not exist or has
	// been revoked.
	ErrTokenNotFound = errors.New("access token not found")

	// ErrDuplicate indicates a unique-key clash on create (random code or
	// token collision, or a taken client ID). Callers retry with a fresh
	// random value a bounded number of times.
	ErrDuplicate = errors.New("duplicate key")

	// ErrValidation indicates a scope answer failed its validator.
	ErrValidation = errors.New("validation failed")
)
