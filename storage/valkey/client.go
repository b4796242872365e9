package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatehouse/gatehouse/storage"
)

// SaveClient inserts or updates a client keyed by UUID. The protocol
// client ID is kept in a separate index key; a stale index entry from a
// rotated client ID is dropped.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.UUID == "" || client.ClientID == "" {
		return fmt.Errorf("client must have a UUID and a client ID")
	}

	owner, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientIDKey(client.ClientID)).Build()).ToString()
	if err != nil && !isNilError(err) {
		return fmt.Errorf("failed to check client ID index: %w", err)
	}
	if err == nil && owner != client.UUID {
		return fmt.Errorf("%w: client_id %q", storage.ErrDuplicate, client.ClientID)
	}

	prev, err := s.GetClientByUUID(ctx, client.UUID)
	if err != nil && err != storage.ErrClientNotFound {
		return err
	}
	if prev != nil && prev.ClientID != client.ClientID {
		if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientIDKey(prev.ClientID)).Build()).Error(); err != nil {
			return fmt.Errorf("failed to drop stale client ID index: %w", err)
		}
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(client.UUID)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(s.clientIDKey(client.ClientID)).Value(client.UUID).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client ID index: %w", err)
	}

	s.logger.Debug("Saved client", "uuid", client.UUID, "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by its protocol client ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	uuid, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientIDKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to resolve client ID: %w", err)
	}
	return s.GetClientByUUID(ctx, uuid)
}

// GetClientByUUID retrieves a client by its internal UUID.
func (s *Store) GetClientByUUID(ctx context.Context, uuid string) (*storage.Client, error) {
	return getAndUnmarshal(ctx, s, s.clientKey(uuid), storage.ErrClientNotFound, fromClientJSON)
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	return scanValues(ctx, s, s.clientKey("*"), fromClientJSON)
}

// DeleteClient removes a client and its client ID index entry.
func (s *Store) DeleteClient(ctx context.Context, uuid string) error {
	c, err := s.GetClientByUUID(ctx, uuid)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(uuid)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientIDKey(c.ClientID)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete client ID index: %w", err)
	}
	return nil
}
