package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/storage"
)

// dummyHash is compared against when a client is unknown, so that
// authentication takes the same time whether or not the client exists.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gatehouse-dummy-secret"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// RegisterClient creates a client application. Confidential clients
// receive a generated secret, returned in plaintext exactly once;
// only its bcrypt hash is stored.
func (s *Server) RegisterClient(ctx context.Context, name string, redirectURIs []string, public bool, clientIP string) (*storage.Client, string, error) {
	ctx, span := s.tracer.Start(ctx, "server.RegisterClient")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", reject(ErrorCodeInvalidRequest, "client name is required")
	}
	if err := validateRedirectURIs(redirectURIs, public); err != nil {
		return nil, "", reject(ErrorCodeInvalidRedirectURI, "%v", err)
	}

	client := &storage.Client{
		UUID:         uuid.NewString(),
		ClientID:     generateRandomToken(),
		Name:         name,
		RedirectURIs: append([]string(nil), redirectURIs...),
		Public:       public,
		CreatedAt:    time.Now(),
	}

	var secret string
	if !public {
		secret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hashing client secret: %w", err)
		}
		client.ClientSecretHash = string(hash)
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("saving client: %w", err)
	}

	clientType := "confidential"
	if public {
		clientType = "public"
	}
	s.audit().LogClientRegistered(client.ClientID, clientType, clientIP)
	if s.metrics != nil {
		s.metrics.RecordClientRegistered(ctx, clientType)
	}
	s.Logger.Info("Registered client",
		"client_id", client.ClientID,
		"name", name,
		"type", clientType)

	return client, secret, nil
}

// RenameClient changes a client's display name.
func (s *Server) RenameClient(ctx context.Context, clientUUID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return reject(ErrorCodeInvalidRequest, "client name is required")
	}

	client, err := s.clients.GetClientByUUID(ctx, clientUUID)
	if err != nil {
		return err
	}
	client.Name = name
	return s.clients.SaveClient(ctx, client)
}

// UpdateRedirectURIs replaces a client's registered redirect URIs.
// Outstanding codes bound to a removed URI will fail their exchange,
// since the stored URI no longer matches.
func (s *Server) UpdateRedirectURIs(ctx context.Context, clientUUID string, redirectURIs []string) error {
	client, err := s.clients.GetClientByUUID(ctx, clientUUID)
	if err != nil {
		return err
	}
	if err := validateRedirectURIs(redirectURIs, client.Public); err != nil {
		return reject(ErrorCodeInvalidRedirectURI, "%v", err)
	}
	client.RedirectURIs = append([]string(nil), redirectURIs...)
	return s.clients.SaveClient(ctx, client)
}

// RegenerateSecret issues a new secret for a confidential client,
// invalidating the old one. Public clients have no secret to rotate.
func (s *Server) RegenerateSecret(ctx context.Context, clientUUID string) (string, error) {
	client, err := s.clients.GetClientByUUID(ctx, clientUUID)
	if err != nil {
		return "", err
	}
	if client.Public {
		return "", reject(ErrorCodeInvalidRequest, "public clients have no secret")
	}

	secret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing client secret: %w", err)
	}
	client.ClientSecretHash = string(hash)

	if err := s.clients.SaveClient(ctx, client); err != nil {
		return "", fmt.Errorf("saving client: %w", err)
	}

	s.Logger.Info("Regenerated client secret", "client_id", client.ClientID)
	return secret, nil
}

// DeleteClient removes a client and revokes every credential issued
// through it. Returns the number of credentials invalidated by the
// cascade.
func (s *Server) DeleteClient(ctx context.Context, clientUUID, clientIP string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "server.DeleteClient")
	defer span.End()

	client, err := s.clients.GetClientByUUID(ctx, clientUUID)
	if err != nil {
		return 0, err
	}

	if err := s.clients.DeleteClient(ctx, clientUUID); err != nil {
		return 0, err
	}

	revoked, err := s.credentials.RevokeAllForClient(ctx, client.ClientID)
	if err != nil {
		// The client is gone; surface the partial failure rather than
		// leaving the caller to assume the cascade completed.
		return revoked, fmt.Errorf("client deleted but credential revocation failed: %w", err)
	}

	s.audit().LogClientDeleted(client.ClientID, clientIP, revoked)
	if s.metrics != nil {
		s.metrics.RecordTokensRevoked(ctx, "client_deleted", revoked)
	}
	s.Logger.Info("Deleted client",
		"client_id", client.ClientID,
		"credentials_invalidated", revoked)

	return revoked, nil
}

// GetClient retrieves a client by protocol client ID.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clients.GetClient(ctx, clientID)
}

// GetClientByUUID retrieves a client by its admin-facing UUID.
func (s *Server) GetClientByUUID(ctx context.Context, clientUUID string) (*storage.Client, error) {
	return s.clients.GetClientByUUID(ctx, clientUUID)
}

// ListClients lists all registered clients.
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	return s.clients.ListClients(ctx)
}

// authenticateClient verifies client credentials at the token
// endpoint. Confidential clients must present their secret; public
// clients must not, and rely on PKCE instead. Unknown clients burn a
// bcrypt comparison against a dummy hash so timing does not reveal
// whether the client ID exists.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(clientSecret))
			s.audit().LogAuthFailure("", safeTruncate(clientID, 32), clientIP, "unknown client")
			return nil, reject(ErrorCodeInvalidClient, "client authentication failed")
		}
		return nil, fmt.Errorf("loading client: %w", err)
	}

	if client.Public {
		if clientSecret != "" {
			s.audit().LogAuthFailure("", clientID, clientIP, "secret presented by public client")
			return nil, reject(ErrorCodeInvalidClient, "public clients must not send a secret")
		}
		return client, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		s.audit().LogAuthFailure("", clientID, clientIP, "bad client secret")
		return nil, reject(ErrorCodeInvalidClient, "client authentication failed")
	}
	return client, nil
}
