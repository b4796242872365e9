package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/gatehouse/gatehouse/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "gatehouse:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration.
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection
	// verification.
	connectionVerifyTimeout = 5 * time.Second

	// minCodeTTL is the floor applied to authorization-code key TTLs so a
	// code minted right at its expiry boundary still gets a key.
	minCodeTTL = time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for Valkey authentication.
	Password string

	// DB is the optional database number (default 0).
	DB int

	// KeyPrefix is the prefix for all keys (default "gatehouse:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.ClientStore,
// storage.ScopeStore, and storage.CredentialStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ClientStore     = (*Store)(nil)
	_ storage.ScopeStore      = (*Store)(nil)
	_ storage.CredentialStore = (*Store)(nil)
)

// New creates a Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// --- key helpers ---

func (s *Store) clientKey(uuid string) string {
	return s.prefix + "client:" + uuid
}

func (s *Store) clientIDKey(clientID string) string {
	return s.prefix + "clientid:" + clientID
}

func (s *Store) scopeKey(name string) string {
	return s.prefix + "scope:" + name
}

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

func (s *Store) spentKey(code string) string {
	return s.prefix + "spent:" + code
}

func (s *Store) tokenKey(token string) string {
	return s.prefix + "token:" + token
}

func (s *Store) clientCredsKey(clientID string) string {
	return s.prefix + "creds:client:" + clientID
}

func (s *Store) userCredsKey(uuid string) string {
	return s.prefix + "creds:user:" + uuid
}

// Credential-set members carry a one-byte tag so revocation can tell codes
// and tokens apart.
func codeMember(code string) string   { return "c:" + code }
func tokenMember(token string) string { return "t:" + token }

// --- JSON representations ---

type clientJSON struct {
	UUID             string   `json:"uuid"`
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	Name             string   `json:"name"`
	RedirectURIs     []string `json:"redirect_uris"`
	Public           bool     `json:"public"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		UUID:             c.UUID,
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		Name:             c.Name,
		RedirectURIs:     c.RedirectURIs,
		Public:           c.Public,
		CreatedAt:        c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		UUID:             j.UUID,
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		Name:             j.Name,
		RedirectURIs:     j.RedirectURIs,
		Public:           j.Public,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

type validatorJSON struct {
	Kind         string   `json:"kind"`
	Pattern      string   `json:"pattern,omitempty"`
	MinLength    int      `json:"min_length,omitempty"`
	MaxLength    int      `json:"max_length,omitempty"`
	Values       []string `json:"values,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

type scopeJSON struct {
	Name      string         `json:"name"`
	Question  string         `json:"question"`
	Type      string         `json:"type"`
	Validator *validatorJSON `json:"validator,omitempty"`
	Icon      string         `json:"icon,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

func toScopeJSON(sc *storage.Scope) *scopeJSON {
	j := &scopeJSON{
		Name:      sc.Name,
		Question:  sc.Question,
		Type:      sc.Type,
		Icon:      sc.Icon,
		CreatedAt: sc.CreatedAt.Unix(),
	}
	if sc.Validator != nil {
		j.Validator = &validatorJSON{
			Kind:         string(sc.Validator.Kind),
			Pattern:      sc.Validator.Pattern,
			MinLength:    sc.Validator.MinLength,
			MaxLength:    sc.Validator.MaxLength,
			Values:       sc.Validator.Values,
			ErrorMessage: sc.Validator.ErrorMessage,
		}
	}
	return j
}

func fromScopeJSON(j *scopeJSON) *storage.Scope {
	if j == nil {
		return nil
	}
	sc := &storage.Scope{
		Name:      j.Name,
		Question:  j.Question,
		Type:      j.Type,
		Icon:      j.Icon,
		CreatedAt: time.Unix(j.CreatedAt, 0),
	}
	if j.Validator != nil {
		sc.Validator = &storage.Validator{
			Kind:         storage.ValidatorKind(j.Validator.Kind),
			Pattern:      j.Validator.Pattern,
			MinLength:    j.Validator.MinLength,
			MaxLength:    j.Validator.MaxLength,
			Values:       j.Validator.Values,
			ErrorMessage: j.Validator.ErrorMessage,
		}
	}
	return sc
}

type authorizationCodeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	UserUUID            string   `json:"user_uuid"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                c.Code,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		Scopes:              c.Scopes,
		UserUUID:            c.UUID,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		CreatedAt:           c.CreatedAt.Unix(),
		ExpiresAt:           c.ExpiresAt.Unix(),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		UUID:                j.UserUUID,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
	}
}

type accessTokenJSON struct {
	Token    string   `json:"token"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes,omitempty"`
	UserUUID string   `json:"user_uuid"`
	IssuedAt int64    `json:"issued_at"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:    t.Token,
		ClientID: t.ClientID,
		Scopes:   t.Scopes,
		UserUUID: t.UUID,
		IssuedAt: t.IssuedAt.Unix(),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	return &storage.AccessToken{
		Token:    j.Token,
		ClientID: j.ClientID,
		Scopes:   j.Scopes,
		UUID:     j.UserUUID,
		IssuedAt: time.Unix(j.IssuedAt, 0),
	}
}

// --- helpers ---

// getAndUnmarshal fetches a key, unmarshals the JSON value, and converts it
// to the target type. Reduces duplication across the Get* methods.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// scanValues iterates all keys matching pattern and unmarshals each value.
// SCAN can return duplicates across iterations, so results are deduplicated
// by key. Keys deleted between SCAN and GET are skipped.
func scanValues[J any, T any](
	ctx context.Context,
	s *Store,
	pattern string,
	fromJSON func(*J) *T,
) ([]*T, error) {
	seen := make(map[string]*T)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range result.Elements {
			if _, ok := seen[key]; ok {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue
				}
				return nil, fmt.Errorf("failed to get %s: %w", key, err)
			}

			var j J
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal record, skipping",
					"key", key,
					"error", err)
				continue
			}

			seen[key] = fromJSON(&j)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	out := make([]*T, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out, nil
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
