package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// testStore connects to a local Valkey instance. Tests are skipped when no
// server is reachable. Each test gets a unique key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("gatehousetest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			t.Fatalf("cleanup scan failed: %v", err)
		}
		for _, key := range result.Elements {
			if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
				t.Fatalf("cleanup delete failed: %v", err)
			}
		}
		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func testClient(uuid, clientID string) *storage.Client {
	return &storage.Client{
		UUID:         uuid,
		ClientID:     clientID,
		Name:         "Test App",
		RedirectURIs: []string{"https://app.example.com/callback"},
		CreatedAt:    time.Now(),
	}
}

func testCode(code, clientID, userUUID string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		RedirectURI: "https://app.example.com/callback",
		Scopes:      []string{"email"},
		UUID:        userUUID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}
}

func TestClientLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, testClient("uuid-1", "client-1")); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.UUID != "uuid-1" || got.Name != "Test App" {
		t.Errorf("unexpected client: %+v", got)
	}

	if err := s.SaveClient(ctx, testClient("uuid-2", "client-1")); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for taken client ID, got %v", err)
	}

	// Rotating the client ID frees the old index entry.
	if err := s.SaveClient(ctx, testClient("uuid-1", "client-1b")); err != nil {
		t.Fatalf("SaveClient rotation failed: %v", err)
	}
	if _, err := s.GetClient(ctx, "client-1"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("expected stale index entry gone, got %v", err)
	}
	if err := s.SaveClient(ctx, testClient("uuid-2", "client-1")); err != nil {
		t.Errorf("expected rotated-away client ID to be reusable, got %v", err)
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 2 {
		t.Errorf("expected 2 clients, got %d", len(clients))
	}

	if err := s.DeleteClient(ctx, "uuid-1"); err != nil {
		t.Fatalf("DeleteClient failed: %v", err)
	}
	if err := s.DeleteClient(ctx, "uuid-1"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound on second delete, got %v", err)
	}
}

func TestScopeLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	scope := &storage.Scope{
		Name:     "shirt-size",
		Question: "What is your shirt size?",
		Type:     "enum",
		Validator: &storage.Validator{
			Kind:   storage.ValidatorEnum,
			Values: []string{"S", "M", "L"},
		},
		CreatedAt: time.Now(),
	}

	if err := s.CreateScope(ctx, scope); err != nil {
		t.Fatalf("CreateScope failed: %v", err)
	}
	if err := s.CreateScope(ctx, scope); !errors.Is(err, storage.ErrScopeExists) {
		t.Errorf("expected ErrScopeExists, got %v", err)
	}

	got, err := s.GetScope(ctx, "shirt-size")
	if err != nil {
		t.Fatalf("GetScope failed: %v", err)
	}
	if got.Validator == nil || len(got.Validator.Values) != 3 {
		t.Errorf("validator did not survive round trip: %+v", got.Validator)
	}

	if err := s.DeleteScope(ctx, "shirt-size"); err != nil {
		t.Fatalf("DeleteScope failed: %v", err)
	}
	if err := s.DeleteScope(ctx, "shirt-size"); !errors.Is(err, storage.ErrScopeNotFound) {
		t.Errorf("expected ErrScopeNotFound on second delete, got %v", err)
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testCode("code-1", "client-1", "user-1")
	code.CodeChallenge = "abc"
	code.CodeChallengeMethod = security.MethodPlain

	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, code); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// Failed validation must not spend the code.
	if _, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI, "xyz"); !errors.Is(err, storage.ErrPKCEFailure) {
		t.Fatalf("expected ErrPKCEFailure, got %v", err)
	}

	grant, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI, "abc")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode failed: %v", err)
	}
	if grant.UUID != "user-1" || len(grant.Scopes) != 1 {
		t.Errorf("unexpected grant: %+v", grant)
	}

	// Reuse reports the spent code together with the original grant.
	grant, err = s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI, "abc")
	if !errors.Is(err, storage.ErrCodeSpent) {
		t.Fatalf("expected ErrCodeSpent, got %v", err)
	}
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Error("ErrCodeSpent should match ErrCodeNotFound")
	}
	if grant == nil || grant.UUID != "user-1" {
		t.Errorf("reuse should surface the original grant, got %+v", grant)
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, "missing", "client-1", code.RedirectURI, "abc"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestConsumeExpiredCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testCode("code-exp", "client-1", "user-1")
	code.ExpiresAt = time.Now().Add(-time.Minute)

	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, "code-exp", "client-1", code.RedirectURI, ""); !errors.Is(err, storage.ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if _, err := s.ConsumeAuthorizationCode(ctx, "code-exp", "client-1", code.RedirectURI, ""); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound after expiry delete, got %v", err)
	}
}

func TestTokenLifecycleAndRevocation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	save := func(token, clientID, userUUID string) {
		t.Helper()
		err := s.SaveAccessToken(ctx, &storage.AccessToken{
			Token:    token,
			ClientID: clientID,
			Scopes:   []string{"email"},
			UUID:     userUUID,
			IssuedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveAccessToken failed: %v", err)
		}
	}

	save("tok-a1", "client-a", "alice")
	save("tok-a2", "client-a", "bob")
	save("tok-b1", "client-b", "alice")

	got, err := s.GetAccessToken(ctx, "tok-a1")
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if got.UUID != "alice" {
		t.Errorf("unexpected token: %+v", got)
	}

	// A pending code joins the client's revocation cascade.
	if err := s.SaveAuthorizationCode(ctx, testCode("code-a", "client-a", "alice")); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	revoked, err := s.RevokeAllForClient(ctx, "client-a")
	if err != nil {
		t.Fatalf("RevokeAllForClient failed: %v", err)
	}
	if revoked != 3 {
		t.Errorf("expected 3 revoked credentials, got %d", revoked)
	}
	if _, err := s.GetAccessToken(ctx, "tok-a1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected tok-a1 revoked, got %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "tok-b1"); err != nil {
		t.Errorf("tok-b1 should survive client-a revocation: %v", err)
	}

	revoked, err = s.RevokeAllForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if revoked != 1 {
		t.Errorf("expected 1 revoked credential, got %d", revoked)
	}

	if err := s.DeleteAccessToken(ctx, "tok-b1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound for already-revoked token, got %v", err)
	}
}
