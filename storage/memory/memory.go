// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and
// single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// sweepInterval is how often the background sweeper removes expired
// authorization codes and spent-code tombstones.
const sweepInterval = time.Minute

// Store is an in-memory implementation of storage.ClientStore,
// storage.ScopeStore, and storage.CredentialStore.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client // keyed by UUID
	clientsByID   map[string]string          // ClientID -> UUID
	scopes        map[string]*storage.Scope  // keyed by name
	codes         map[string]*storage.AuthorizationCode
	tokens        map[string]*storage.AccessToken
	tokensByUser  map[string]map[string]struct{} // user UUID -> token set
	tokensByOwner map[string]map[string]struct{} // ClientID -> token set

	logger    *slog.Logger
	stopSweep chan struct{}
	stopOnce  sync.Once
}

// Compile-time interface checks.
var (
	_ storage.ClientStore     = (*Store)(nil)
	_ storage.ScopeStore      = (*Store)(nil)
	_ storage.CredentialStore = (*Store)(nil)
)

// New creates an in-memory store and starts its background sweeper.
// Call Stop when done.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		clients:       make(map[string]*storage.Client),
		clientsByID:   make(map[string]string),
		scopes:        make(map[string]*storage.Scope),
		codes:         make(map[string]*storage.AuthorizationCode),
		tokens:        make(map[string]*storage.AccessToken),
		tokensByUser:  make(map[string]map[string]struct{}),
		tokensByOwner: make(map[string]map[string]struct{}),
		logger:        logger,
		stopSweep:     make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Stop ends the background sweeper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopSweep) })
}

// --- ClientStore ---

func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.UUID == "" || client.ClientID == "" {
		return fmt.Errorf("client must have a UUID and a client ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.clientsByID[client.ClientID]; ok && owner != client.UUID {
		return fmt.Errorf("%w: client_id %q", storage.ErrDuplicate, client.ClientID)
	}

	// An update may rotate the ClientID; drop the stale index entry.
	if prev, ok := s.clients[client.UUID]; ok && prev.ClientID != client.ClientID {
		delete(s.clientsByID, prev.ClientID)
	}

	c := cloneClient(client)
	s.clients[client.UUID] = c
	s.clientsByID[client.ClientID] = client.UUID
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uuid, ok := s.clientsByID[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(s.clients[uuid]), nil
}

func (s *Store) GetClientByUUID(ctx context.Context, uuid string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[uuid]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(c), nil
}

func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, cloneClient(c))
	}
	return out, nil
}

func (s *Store) DeleteClient(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uuid]
	if !ok {
		return storage.ErrClientNotFound
	}
	delete(s.clients, uuid)
	delete(s.clientsByID, c.ClientID)
	return nil
}

// --- ScopeStore ---

func (s *Store) CreateScope(ctx context.Context, scope *storage.Scope) error {
	if scope == nil || scope.Name == "" {
		return fmt.Errorf("scope must have a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scopes[scope.Name]; ok {
		return fmt.Errorf("%w: %q", storage.ErrScopeExists, scope.Name)
	}
	s.scopes[scope.Name] = cloneScope(scope)
	return nil
}

func (s *Store) GetScope(ctx context.Context, name string) (*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scopes[name]
	if !ok {
		return nil, storage.ErrScopeNotFound
	}
	return cloneScope(sc), nil
}

func (s *Store) ListScopes(ctx context.Context) ([]*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Scope, 0, len(s.scopes))
	for _, sc := range s.scopes {
		out = append(out, cloneScope(sc))
	}
	return out, nil
}

func (s *Store) DeleteScope(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scopes[name]; !ok {
		return storage.ErrScopeNotFound
	}
	delete(s.scopes, name)
	return nil
}

// --- CredentialStore ---

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code must have a value")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code.Code]; ok {
		return fmt.Errorf("%w: authorization code", storage.ErrDuplicate)
	}
	s.codes[code.Code] = cloneCode(code)
	return nil
}

// ConsumeAuthorizationCode validates and spends a code in one critical
// section, so racing exchanges of the same code see exactly one success.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	if record.Spent {
		// Reuse of a spent code. Surface the original grant so the
		// caller can revoke whatever the first exchange produced.
		return &storage.Grant{UUID: record.UUID, Scopes: append([]string(nil), record.Scopes...)}, storage.ErrCodeSpent
	}

	if security.IsExpired(record.ExpiresAt) {
		delete(s.codes, code)
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

	record.Spent = true
	return &storage.Grant{UUID: record.UUID, Scopes: append([]string(nil), record.Scopes...)}, nil
}

func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("access token must have a value")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.Token]; ok {
		return fmt.Errorf("%w: access token", storage.ErrDuplicate)
	}

	t := cloneToken(token)
	s.tokens[token.Token] = t
	indexAdd(s.tokensByUser, t.UUID, t.Token)
	indexAdd(s.tokensByOwner, t.ClientID, t.Token)
	return nil
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneToken(t), nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return storage.ErrTokenNotFound
	}
	s.removeToken(t)
	return nil
}

func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for token := range s.tokensByOwner[clientID] {
		s.removeToken(s.tokens[token])
		revoked++
	}
	for code, record := range s.codes {
		if record.ClientID == clientID {
			delete(s.codes, code)
			if !record.Spent {
				revoked++
			}
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all credentials for client",
			"client_id", clientID,
			"revoked", revoked)
	}
	return revoked, nil
}

func (s *Store) RevokeAllForUser(ctx context.Context, uuid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for token := range s.tokensByUser[uuid] {
		s.removeToken(s.tokens[token])
		revoked++
	}
	for code, record := range s.codes {
		if record.UUID == uuid {
			delete(s.codes, code)
			if !record.Spent {
				revoked++
			}
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all credentials for user",
			"user_hash", uuid[:min(8, len(uuid))],
			"revoked", revoked)
	}
	return revoked, nil
}

// removeToken drops a token and its index entries. Caller holds the lock.
func (s *Store) removeToken(t *storage.AccessToken) {
	delete(s.tokens, t.Token)
	indexRemove(s.tokensByUser, t.UUID, t.Token)
	indexRemove(s.tokensByOwner, t.ClientID, t.Token)
}

// --- maintenance ---

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpiredCodes()
		case <-s.stopSweep:
			return
		}
	}
}

// sweepExpiredCodes removes authorization codes past their TTL,
// including spent tombstones whose reuse-detection window has passed.
func (s *Store) sweepExpiredCodes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for code, record := range s.codes {
		if security.IsExpired(record.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Swept expired authorization codes", "removed", removed)
	}
}

func indexAdd(index map[string]map[string]struct{}, key, token string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[token] = struct{}{}
}

func indexRemove(index map[string]map[string]struct{}, key, token string) {
	if set, ok := index[key]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	return &out
}

func cloneScope(sc *storage.Scope) *storage.Scope {
	out := *sc
	if sc.Validator != nil {
		v := *sc.Validator
		v.Values = append([]string(nil), sc.Validator.Values...)
		out.Validator = &v
	}
	return &out
}

func cloneCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

func cloneToken(t *storage.AccessToken) *storage.AccessToken {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	return &out
}
