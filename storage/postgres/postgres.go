// Package postgres provides a PostgreSQL implementation of all storage
// interfaces, suitable for multi-instance deployments where issued
// credentials must survive restarts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// Schema creates the tables this store depends on. It is idempotent.
const Schema = `
create table if not exists oauth_clients (
	uuid          text primary key,
	client_id     text not null unique,
	secret_hash   text not null default '',
	name          text not null,
	redirect_uris jsonb not null default '[]',
	public        boolean not null default false,
	created_at    timestamptz not null default now()
);

create table if not exists oauth_scopes (
	name       text primary key,
	question   text not null,
	type       text not null,
	validator  jsonb,
	icon       text not null default '',
	created_at timestamptz not null default now()
);

create table if not exists authorization_codes (
	code             text primary key,
	client_id        text not null,
	redirect_uri     text not null,
	scopes           jsonb not null default '[]',
	user_uuid        text not null,
	challenge        text not null default '',
	challenge_method text not null default '',
	created_at       timestamptz not null,
	expires_at       timestamptz not null,
	spent            boolean not null default false
);

create table if not exists access_tokens (
	token     text primary key,
	client_id text not null,
	scopes    jsonb not null default '[]',
	user_uuid text not null,
	issued_at timestamptz not null
);

create index if not exists authorization_codes_client_idx on authorization_codes (client_id);
create index if not exists authorization_codes_user_idx on authorization_codes (user_uuid);
create index if not exists access_tokens_client_idx on access_tokens (client_id);
create index if not exists access_tokens_user_idx on access_tokens (user_uuid);
`

// Store is a PostgreSQL-backed implementation of storage.ClientStore,
// storage.ScopeStore, and storage.CredentialStore.
type Store struct {
	db *sql.DB
}

var (
	_ storage.ClientStore     = (*Store)(nil)
	_ storage.ScopeStore      = (*Store)(nil)
	_ storage.CredentialStore = (*Store)(nil)
)

// Open connects to PostgreSQL using the pgx database/sql driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// EnsureSchema creates the required tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- ClientStore ---

func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	uris, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encoding redirect URIs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into oauth_clients (uuid, client_id, secret_hash, name, redirect_uris, public, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (uuid) do update set
			client_id     = excluded.client_id,
			secret_hash   = excluded.secret_hash,
			name          = excluded.name,
			redirect_uris = excluded.redirect_uris,
			public        = excluded.public
	`, client.UUID, client.ClientID, client.ClientSecretHash, client.Name, uris, client.Public, client.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: client_id %q", storage.ErrDuplicate, client.ClientID)
	}
	return err
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, `
		select uuid, client_id, secret_hash, name, redirect_uris, public, created_at
		from oauth_clients where client_id = $1
	`, clientID))
}

func (s *Store) GetClientByUUID(ctx context.Context, uuid string) (*storage.Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, `
		select uuid, client_id, secret_hash, name, redirect_uris, public, created_at
		from oauth_clients where uuid = $1
	`, uuid))
}

func (s *Store) scanClient(row *sql.Row) (*storage.Client, error) {
	var c storage.Client
	var uris []byte
	err := row.Scan(&c.UUID, &c.ClientID, &c.ClientSecretHash, &c.Name, &uris, &c.Public, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(uris, &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("decoding redirect URIs: %w", err)
	}
	return &c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		select uuid, client_id, secret_hash, name, redirect_uris, public, created_at
		from oauth_clients order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		var c storage.Client
		var uris []byte
		if err := rows.Scan(&c.UUID, &c.ClientID, &c.ClientSecretHash, &c.Name, &uris, &c.Public, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(uris, &c.RedirectURIs); err != nil {
			return nil, fmt.Errorf("decoding redirect URIs: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteClient(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx, `delete from oauth_clients where uuid = $1`, uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrClientNotFound
	}
	return nil
}

// --- ScopeStore ---

func (s *Store) CreateScope(ctx context.Context, scope *storage.Scope) error {
	var validator []byte
	if scope.Validator != nil {
		var err error
		validator, err = json.Marshal(scope.Validator)
		if err != nil {
			return fmt.Errorf("encoding validator: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		insert into oauth_scopes (name, question, type, validator, icon, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, scope.Name, scope.Question, scope.Type, validator, scope.Icon, scope.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", storage.ErrScopeExists, scope.Name)
	}
	return err
}

func (s *Store) GetScope(ctx context.Context, name string) (*storage.Scope, error) {
	var sc storage.Scope
	var validator []byte
	err := s.db.QueryRowContext(ctx, `
		select name, question, type, validator, icon, created_at
		from oauth_scopes where name = $1
	`, name).Scan(&sc.Name, &sc.Question, &sc.Type, &validator, &sc.Icon, &sc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrScopeNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(validator) > 0 {
		sc.Validator = &storage.Validator{}
		if err := json.Unmarshal(validator, sc.Validator); err != nil {
			return nil, fmt.Errorf("decoding validator: %w", err)
		}
	}
	return &sc, nil
}

func (s *Store) ListScopes(ctx context.Context) ([]*storage.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		select name, question, type, validator, icon, created_at
		from oauth_scopes order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Scope
	for rows.Next() {
		var sc storage.Scope
		var validator []byte
		if err := rows.Scan(&sc.Name, &sc.Question, &sc.Type, &validator, &sc.Icon, &sc.CreatedAt); err != nil {
			return nil, err
		}
		if len(validator) > 0 {
			sc.Validator = &storage.Validator{}
			if err := json.Unmarshal(validator, sc.Validator); err != nil {
				return nil, fmt.Errorf("decoding validator: %w", err)
			}
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func (s *Store) DeleteScope(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from oauth_scopes where name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrScopeNotFound
	}
	return nil
}

// --- CredentialStore ---

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	scopes, err := json.Marshal(code.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into authorization_codes
			(code, client_id, redirect_uri, scopes, user_uuid, challenge, challenge_method, created_at, expires_at, spent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
	`, code.Code, code.ClientID, code.RedirectURI, scopes, code.UUID,
		code.CodeChallenge, code.CodeChallengeMethod, code.CreatedAt, code.ExpiresAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: authorization code", storage.ErrDuplicate)
	}
	return err
}

// ConsumeAuthorizationCode validates and spends a code inside one
// transaction. The row is locked for update, so racing exchanges of
// the same code serialize and exactly one sees the unspent record.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*storage.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var record storage.AuthorizationCode
	var scopes []byte
	err = tx.QueryRowContext(ctx, `
		select code, client_id, redirect_uri, scopes, user_uuid, challenge, challenge_method, expires_at, spent
		from authorization_codes where code = $1
		for update
	`, code).Scan(&record.Code, &record.ClientID, &record.RedirectURI, &scopes, &record.UUID,
		&record.CodeChallenge, &record.CodeChallengeMethod, &record.ExpiresAt, &record.Spent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopes, &record.Scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}

	if record.Spent {
		return &storage.Grant{UUID: record.UUID, Scopes: record.Scopes}, storage.ErrCodeSpent
	}

	if security.IsExpired(record.ExpiresAt) {
		if _, err := tx.ExecContext(ctx, `delete from authorization_codes where code = $1`, code); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
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

	if _, err := tx.ExecContext(ctx, `update authorization_codes set spent = true where code = $1`, code); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &storage.Grant{UUID: record.UUID, Scopes: record.Scopes}, nil
}

func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into access_tokens (token, client_id, scopes, user_uuid, issued_at)
		values ($1, $2, $3, $4, $5)
	`, token.Token, token.ClientID, scopes, token.UUID, token.IssuedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: access token", storage.ErrDuplicate)
	}
	return err
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	var t storage.AccessToken
	var scopes []byte
	err := s.db.QueryRowContext(ctx, `
		select token, client_id, scopes, user_uuid, issued_at
		from access_tokens where token = $1
	`, token).Scan(&t.Token, &t.ClientID, &scopes, &t.UUID, &t.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopes, &t.Scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	return &t, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `delete from access_tokens where token = $1`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	return s.revokeAll(ctx, `client_id`, clientID)
}

func (s *Store) RevokeAllForUser(ctx context.Context, uuid string) (int, error) {
	return s.revokeAll(ctx, `user_uuid`, uuid)
}

// revokeAll deletes every token and pending code matching column = value.
// column is always one of the two constants above, never user input.
func (s *Store) revokeAll(ctx context.Context, column, value string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from access_tokens where `+column+` = $1`, value)
	if err != nil {
		return 0, err
	}
	tokens, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `delete from authorization_codes where `+column+` = $1 and not spent`, value)
	if err != nil {
		return 0, err
	}
	codes, _ := res.RowsAffected()

	// Spent tombstones go too; they are not counted as live credentials.
	if _, err := tx.ExecContext(ctx, `delete from authorization_codes where `+column+` = $1`, value); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(tokens + codes), nil
}

// SweepExpiredCodes removes authorization codes past their TTL,
// including spent tombstones. Intended to be run periodically.
func (s *Store) SweepExpiredCodes(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from authorization_codes where expires_at < now() - interval '5 seconds'`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
