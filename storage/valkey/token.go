package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gatehouse/gatehouse/storage"
)

// SaveAccessToken persists a freshly minted token. Tokens carry no TTL;
// they live until explicitly revoked.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("access token must have a value")
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.tokenKey(token.Token)).Value(string(data)).Nx().Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return fmt.Errorf("%w: access token", storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to save access token: %w", err)
	}

	member := tokenMember(token.Token)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(s.clientCredsKey(token.ClientID)).Member(member).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index access token by client: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(s.userCredsKey(token.UUID)).Member(member).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index access token by user: %w", err)
	}

	return nil
}

// GetAccessToken retrieves a token record.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	return getAndUnmarshal(ctx, s, s.tokenKey(token), storage.ErrTokenNotFound, fromAccessTokenJSON)
}

// DeleteAccessToken revokes a single token.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	t, err := s.GetAccessToken(ctx, token)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	s.dropCredentialMember(ctx, tokenMember(token), t.ClientID, t.UUID)
	return nil
}

// RevokeAllForClient deletes every code and token owned by a client.
// Returns the number of credentials invalidated.
func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	revoked, err := s.revokeAll(ctx, s.clientCredsKey(clientID), func(_, userUUID string) string {
		return s.userCredsKey(userUUID)
	})
	if err != nil {
		return revoked, err
	}

	if revoked > 0 {
		s.logger.Info("Revoked all credentials for client",
			"client_id", clientID,
			"revoked", revoked)
	}
	return revoked, nil
}

// RevokeAllForUser deletes every code and token belonging to a user.
// Returns the number of credentials invalidated.
func (s *Store) RevokeAllForUser(ctx context.Context, uuid string) (int, error) {
	revoked, err := s.revokeAll(ctx, s.userCredsKey(uuid), func(clientID, _ string) string {
		return s.clientCredsKey(clientID)
	})
	if err != nil {
		return revoked, err
	}

	if revoked > 0 {
		s.logger.Info("Revoked all credentials for user",
			"user_hash", safeTruncate(uuid, 8),
			"revoked", revoked)
	}
	return revoked, nil
}

// revokeAll walks one owner index set, deletes every live credential in it,
// and unindexes each from the opposite owner's set. Members whose backing
// key is gone (expired codes, already-deleted tokens) are skipped without
// counting. The index set itself is dropped at the end.
func (s *Store) revokeAll(ctx context.Context, setKey string, otherSet func(clientID, userUUID string) string) (int, error) {
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(setKey).Build()).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to list credentials: %w", err)
	}

	revoked := 0
	for _, member := range members {
		var key string
		var clientID, userUUID string

		switch {
		case strings.HasPrefix(member, "t:"):
			token, err := s.GetAccessToken(ctx, strings.TrimPrefix(member, "t:"))
			if err != nil {
				if err == storage.ErrTokenNotFound {
					continue
				}
				return revoked, err
			}
			key = s.tokenKey(token.Token)
			clientID, userUUID = token.ClientID, token.UUID

		case strings.HasPrefix(member, "c:"):
			code, err := getAndUnmarshal(ctx, s, s.codeKey(strings.TrimPrefix(member, "c:")), storage.ErrCodeNotFound, fromAuthorizationCodeJSON)
			if err != nil {
				if err == storage.ErrCodeNotFound {
					continue
				}
				return revoked, err
			}
			key = s.codeKey(code.Code)
			clientID, userUUID = code.ClientID, code.UUID

		default:
			s.logger.Warn("Skipping unrecognized credential member",
				"member", safeTruncate(member, 16))
			continue
		}

		removed, err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).AsInt64()
		if err != nil {
			return revoked, fmt.Errorf("failed to delete credential: %w", err)
		}
		if removed == 0 {
			continue
		}

		if err := s.client.Do(ctx, s.client.B().Srem().Key(otherSet(clientID, userUUID)).Member(member).Build()).Error(); err != nil {
			return revoked, fmt.Errorf("failed to unindex credential: %w", err)
		}
		revoked++
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(setKey).Build()).Error(); err != nil {
		return revoked, fmt.Errorf("failed to drop credential index: %w", err)
	}
	return revoked, nil
}
