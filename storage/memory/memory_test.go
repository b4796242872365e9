package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(nil)
	t.Cleanup(s.Stop)
	return s
}

func TestClientStoreCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := &storage.Client{
		UUID:         "uuid-1",
		ClientID:     "acme",
		Name:         "Acme Dashboard",
		RedirectURIs: []string{"https://acme.example.com/callback"},
		CreatedAt:    time.Now(),
	}
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := s.GetClient(ctx, "acme")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.UUID != "uuid-1" || got.Name != "Acme Dashboard" {
		t.Errorf("GetClient = %+v", got)
	}

	byUUID, err := s.GetClientByUUID(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("GetClientByUUID failed: %v", err)
	}
	if byUUID.ClientID != "acme" {
		t.Errorf("GetClientByUUID.ClientID = %q", byUUID.ClientID)
	}

	clients, err := s.ListClients(ctx)
	if err != nil || len(clients) != 1 {
		t.Errorf("ListClients = %v, %v, want 1 client", clients, err)
	}

	if err := s.DeleteClient(ctx, "uuid-1"); err != nil {
		t.Fatalf("DeleteClient failed: %v", err)
	}
	if err := s.DeleteClient(ctx, "uuid-1"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("second DeleteClient = %v, want ErrClientNotFound", err)
	}
	if _, err := s.GetClient(ctx, "acme"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient after delete = %v, want ErrClientNotFound", err)
	}
}

func TestSaveClientDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, &storage.Client{UUID: "u1", ClientID: "shared"}); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	err := s.SaveClient(ctx, &storage.Client{UUID: "u2", ClientID: "shared"})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("SaveClient with taken client_id = %v, want ErrDuplicate", err)
	}

	// Same UUID is an update, not a conflict.
	if err := s.SaveClient(ctx, &storage.Client{UUID: "u1", ClientID: "shared", Name: "renamed"}); err != nil {
		t.Errorf("SaveClient update = %v", err)
	}
	got, _ := s.GetClient(ctx, "shared")
	if got.Name != "renamed" {
		t.Errorf("Name after update = %q", got.Name)
	}
}

func TestClientSecretRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, &storage.Client{UUID: "u1", ClientID: "old-id"}); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	if err := s.SaveClient(ctx, &storage.Client{UUID: "u1", ClientID: "new-id"}); err != nil {
		t.Fatalf("SaveClient with rotated client_id failed: %v", err)
	}
	if _, err := s.GetClient(ctx, "old-id"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("stale client_id still resolves: %v", err)
	}
	if _, err := s.GetClient(ctx, "new-id"); err != nil {
		t.Errorf("rotated client_id does not resolve: %v", err)
	}
}

func TestScopeStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scope := &storage.Scope{
		Name:     "phone",
		Question: "What is your phone number?",
		Type:     "text",
		Validator: &storage.Validator{
			Kind:         storage.ValidatorRegex,
			Pattern:      `^\+?[0-9 -]{7,20}$`,
			ErrorMessage: "Please enter a valid phone number",
		},
	}
	if err := s.CreateScope(ctx, scope); err != nil {
		t.Fatalf("CreateScope failed: %v", err)
	}
	if err := s.CreateScope(ctx, scope); !errors.Is(err, storage.ErrScopeExists) {
		t.Errorf("duplicate CreateScope = %v, want ErrScopeExists", err)
	}

	got, err := s.GetScope(ctx, "phone")
	if err != nil {
		t.Fatalf("GetScope failed: %v", err)
	}
	if got.Validator == nil || got.Validator.Pattern != scope.Validator.Pattern {
		t.Errorf("GetScope validator = %+v", got.Validator)
	}

	if err := s.DeleteScope(ctx, "phone"); err != nil {
		t.Fatalf("DeleteScope failed: %v", err)
	}
	if err := s.DeleteScope(ctx, "phone"); !errors.Is(err, storage.ErrScopeNotFound) {
		t.Errorf("second DeleteScope = %v, want ErrScopeNotFound", err)
	}
}

func saveTestCode(t *testing.T, s *Store, code *storage.AuthorizationCode) {
	t.Helper()
	if code.ExpiresAt.IsZero() {
		code.ExpiresAt = time.Now().Add(5 * time.Minute)
	}
	if err := s.SaveAuthorizationCode(context.Background(), code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveTestCode(t, s, &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    "acme",
		RedirectURI: "https://acme.example.com/cb",
		Scopes:      []string{"email", "name"},
		UUID:        "user-1",
	})

	grant, err := s.ConsumeAuthorizationCode(ctx, "code-1", "acme", "https://acme.example.com/cb", "")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode failed: %v", err)
	}
	if grant.UUID != "user-1" || len(grant.Scopes) != 2 {
		t.Errorf("grant = %+v", grant)
	}

	// Second consume is a reuse attempt: matches ErrCodeNotFound but
	// still surfaces the original grant.
	grant, err = s.ConsumeAuthorizationCode(ctx, "code-1", "acme", "https://acme.example.com/cb", "")
	if !errors.Is(err, storage.ErrCodeSpent) {
		t.Fatalf("reuse = %v, want ErrCodeSpent", err)
	}
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Error("ErrCodeSpent does not match ErrCodeNotFound")
	}
	if grant == nil || grant.UUID != "user-1" {
		t.Errorf("reuse grant = %+v, want original subject", grant)
	}
}

func TestConsumeAuthorizationCodeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveTestCode(t, s, &storage.AuthorizationCode{
		Code:                "pkce-code",
		ClientID:            "mobileapp",
		RedirectURI:         "myapp://callback",
		Scopes:              []string{"email"},
		UUID:                "user-1",
		CodeChallenge:       security.S256Challenge("correct-verifier"),
		CodeChallengeMethod: security.MethodS256,
	})

	tests := []struct {
		name        string
		code        string
		clientID    string
		redirectURI string
		verifier    string
		wantErr     error
	}{
		{"unknown code", "nope", "mobileapp", "myapp://callback", "correct-verifier", storage.ErrCodeNotFound},
		{"wrong client", "pkce-code", "other", "myapp://callback", "correct-verifier", storage.ErrClientMismatch},
		{"wrong redirect", "pkce-code", "mobileapp", "myapp://other", "correct-verifier", storage.ErrRedirectMismatch},
		{"wrong verifier", "pkce-code", "mobileapp", "myapp://callback", "wrong", storage.ErrPKCEFailure},
		{"missing verifier", "pkce-code", "mobileapp", "myapp://callback", "", storage.ErrPKCEFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ConsumeAuthorizationCode(ctx, tt.code, tt.clientID, tt.redirectURI, tt.verifier)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Failed attempts must not spend the code.
	if _, err := s.ConsumeAuthorizationCode(ctx, "pkce-code", "mobileapp", "myapp://callback", "correct-verifier"); err != nil {
		t.Errorf("consume after failed attempts = %v", err)
	}
}

func TestConsumeExpiredCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveTestCode(t, s, &storage.AuthorizationCode{
		Code:        "stale",
		ClientID:    "acme",
		RedirectURI: "https://acme.example.com/cb",
		UUID:        "user-1",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	if _, err := s.ConsumeAuthorizationCode(ctx, "stale", "acme", "https://acme.example.com/cb", ""); !errors.Is(err, storage.ErrCodeExpired) {
		t.Fatalf("expired consume = %v, want ErrCodeExpired", err)
	}
	// The record is gone, not tombstoned.
	if _, err := s.ConsumeAuthorizationCode(ctx, "stale", "acme", "https://acme.example.com/cb", ""); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second expired consume = %v, want ErrCodeNotFound", err)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveTestCode(t, s, &storage.AuthorizationCode{
		Code:        "contested",
		ClientID:    "acme",
		RedirectURI: "https://acme.example.com/cb",
		UUID:        "user-1",
	})

	const workers = 32
	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAuthorizationCode(ctx, "contested", "acme", "https://acme.example.com/cb", ""); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

func TestAccessTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := &storage.AccessToken{
		Token:    "tok-1",
		ClientID: "acme",
		Scopes:   []string{"email"},
		UUID:     "user-1",
		IssuedAt: time.Now(),
	}
	if err := s.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken failed: %v", err)
	}
	if err := s.SaveAccessToken(ctx, token); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("duplicate SaveAccessToken = %v, want ErrDuplicate", err)
	}

	got, err := s.GetAccessToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if got.UUID != "user-1" {
		t.Errorf("token subject = %q", got.UUID)
	}

	if err := s.DeleteAccessToken(ctx, "tok-1"); err != nil {
		t.Fatalf("DeleteAccessToken failed: %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "tok-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetAccessToken after delete = %v, want ErrTokenNotFound", err)
	}
}

func TestRevokeAllForClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tok := range []*storage.AccessToken{
		{Token: "a1", ClientID: "acme", UUID: "user-1"},
		{Token: "a2", ClientID: "acme", UUID: "user-2"},
		{Token: "b1", ClientID: "other", UUID: "user-1"},
	} {
		if err := s.SaveAccessToken(ctx, tok); err != nil {
			t.Fatalf("SaveAccessToken failed: %v", err)
		}
	}
	saveTestCode(t, s, &storage.AuthorizationCode{
		Code: "pending", ClientID: "acme", RedirectURI: "https://x", UUID: "user-3",
	})

	n, err := s.RevokeAllForClient(ctx, "acme")
	if err != nil {
		t.Fatalf("RevokeAllForClient failed: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}

	if _, err := s.GetAccessToken(ctx, "a1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("client token survived revocation")
	}
	if _, err := s.GetAccessToken(ctx, "b1"); err != nil {
		t.Error("unrelated client token was revoked")
	}
}

func TestRevokeAllForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tok := range []*storage.AccessToken{
		{Token: "a1", ClientID: "acme", UUID: "user-1"},
		{Token: "b1", ClientID: "other", UUID: "user-1"},
		{Token: "c1", ClientID: "acme", UUID: "user-2"},
	} {
		if err := s.SaveAccessToken(ctx, tok); err != nil {
			t.Fatalf("SaveAccessToken failed: %v", err)
		}
	}

	n, err := s.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if _, err := s.GetAccessToken(ctx, "c1"); err != nil {
		t.Error("unrelated user token was revoked")
	}
}

func TestSweepExpiredCodes(t *testing.T) {
	s := newTestStore(t)

	saveTestCode(t, s, &storage.AuthorizationCode{
		Code: "old", ClientID: "acme", RedirectURI: "https://x", UUID: "u",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	saveTestCode(t, s, &storage.AuthorizationCode{
		Code: "fresh", ClientID: "acme", RedirectURI: "https://x", UUID: "u",
	})

	s.sweepExpiredCodes()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.codes["old"]; ok {
		t.Error("expired code survived sweep")
	}
	if _, ok := s.codes["fresh"]; !ok {
		t.Error("live code removed by sweep")
	}
}
