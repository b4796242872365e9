package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// luaSpendCode atomically spends an authorization code by renaming its key
// to the spent tombstone. Only ONE concurrent exchange can win the rename;
// every later attempt finds the tombstone and reports reuse.
//
// Field validation (client, redirect URI, PKCE) happens in Go before this
// script runs. That is safe because code records are immutable after mint:
// the only state transition is unspent -> spent, and this script is the
// sole place that performs it.
//
// KEYS[1] = code key
// KEYS[2] = spent tombstone key
// ARGV[1] = current Unix time, already adjusted for clock-skew grace
// ARGV[2] = code expiry as Unix time
//
// Returns:
//   - "OK:<json>" when the code was unspent and is now marked spent
//   - "SPENT:<json>" when the tombstone exists (reuse), with original data
//   - "EXPIRED" when the code's TTL has passed (key deleted)
//   - "NOT_FOUND" when neither the code nor its tombstone exists
const luaSpendCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    local tomb = redis.call('GET', KEYS[2])
    if tomb then
        return 'SPENT:' .. tomb
    end
    return 'NOT_FOUND'
end

if tonumber(ARGV[1]) > tonumber(ARGV[2]) then
    redis.call('DEL', KEYS[1])
    return 'EXPIRED'
end

redis.call('RENAME', KEYS[1], KEYS[2])
return 'OK:' .. data
`

// SaveAuthorizationCode persists a freshly minted code. The key TTL covers
// the code's remaining lifetime plus the clock-skew grace, so the spent
// tombstone produced later by RENAME inherits a reuse-detection window
// aligned with the code's expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code must have a value")
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt) + security.DefaultClockSkewGracePeriod + time.Second
	if ttl < minCodeTTL {
		ttl = minCodeTTL
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(code.Code)).Value(string(data)).Nx().Ex(ttl).Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return fmt.Errorf("%w: authorization code", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	member := codeMember(code.Code)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(s.clientCredsKey(code.ClientID)).Member(member).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index authorization code by client: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(s.userCredsKey(code.UUID)).Member(member).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index authorization code by user: %w", err)
	}

	return nil
}

// ConsumeAuthorizationCode validates and spends a code. Failed validation
// (client mismatch, redirect mismatch, PKCE failure) leaves the code
// unspent; only a fully valid exchange transitions it, and the Lua script
// guarantees at most one exchange wins.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*storage.Grant, error) {
	record, err := getAndUnmarshal(ctx, s, s.codeKey(code), storage.ErrCodeNotFound, fromAuthorizationCodeJSON)
	if err != nil {
		if err != storage.ErrCodeNotFound {
			return nil, err
		}
		// Key gone: distinguish a spent tombstone from an unknown code.
		tomb, tombErr := getAndUnmarshal(ctx, s, s.spentKey(code), storage.ErrCodeNotFound, fromAuthorizationCodeJSON)
		if tombErr != nil {
			return nil, tombErr
		}
		return grantFromCode(tomb), storage.ErrCodeSpent
	}

	if security.IsExpired(record.ExpiresAt) {
		if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
			return nil, fmt.Errorf("failed to delete expired authorization code: %w", err)
		}
		return nil, storage.ErrCodeExpired
	}

	if record.ClientID != clientID {
		return nil, storage.ErrClientMismatch
	}
	if record.RedirectURI != redirectURI {
		return nil, storage.ErrRedirectMismatch
	}
	if err := security.VerifyChallenge(record.CodeChallenge, record.CodeChallengeMethod, codeVerifier); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrPKCEFailure, err)
	}

	now := time.Now().Add(-security.DefaultClockSkewGracePeriod).Unix()
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSpendCode).
			Numkeys(2).
			Key(s.codeKey(code), s.spentKey(code)).
			Arg(strconv.FormatInt(now, 10), strconv.FormatInt(record.ExpiresAt.Unix(), 10)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to spend authorization code: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrCodeNotFound

	case result == "EXPIRED":
		return nil, storage.ErrCodeExpired

	case strings.HasPrefix(result, "SPENT:"):
		// Lost the race to a concurrent exchange. Surface the original
		// grant so the caller can revoke what the winner produced.
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "SPENT:")), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrCodeSpent)
		}
		return grantFromCode(fromAuthorizationCodeJSON(&j)), storage.ErrCodeSpent

	case strings.HasPrefix(result, "OK:"):
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "OK:")), &j); err != nil {
			return nil, fmt.Errorf("failed to parse authorization code: %w", err)
		}
		spent := fromAuthorizationCodeJSON(&j)
		s.dropCredentialMember(ctx, codeMember(code), spent.ClientID, spent.UUID)
		return grantFromCode(spent), nil

	default:
		return nil, fmt.Errorf("unexpected spend result %q", safeTruncate(result, 32))
	}
}

func grantFromCode(c *storage.AuthorizationCode) *storage.Grant {
	return &storage.Grant{
		UUID:   c.UUID,
		Scopes: append([]string(nil), c.Scopes...),
	}
}

// dropCredentialMember removes a credential from both owner index sets.
// Index cleanup is best-effort: a stale member is skipped at revocation
// time because its backing key no longer exists.
func (s *Store) dropCredentialMember(ctx context.Context, member, clientID, userUUID string) {
	if err := s.client.Do(ctx, s.client.B().Srem().Key(s.clientCredsKey(clientID)).Member(member).Build()).Error(); err != nil {
		s.logger.Warn("Failed to unindex credential by client",
			"client_id", clientID,
			"error", err)
	}
	if err := s.client.Do(ctx, s.client.B().Srem().Key(s.userCredsKey(userUUID)).Member(member).Build()).Error(); err != nil {
		s.logger.Warn("Failed to unindex credential by user",
			"user_hash", safeTruncate(userUUID, 8),
			"error", err)
	}
}

func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
