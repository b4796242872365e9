package server

import (
	"context"
	"testing"
)

func TestRenameClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, _, err := env.srv.RegisterClient(ctx, "Old Name",
		[]string{"https://app.example.com/cb"}, false, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	if err := env.srv.RenameClient(ctx, client.UUID, "New Name"); err != nil {
		t.Fatalf("RenameClient failed: %v", err)
	}
	got, _ := env.srv.GetClientByUUID(ctx, client.UUID)
	if got.Name != "New Name" {
		t.Errorf("Name = %q", got.Name)
	}

	if err := env.srv.RenameClient(ctx, client.UUID, "  "); err == nil {
		t.Error("blank name accepted")
	}
}

func TestUpdateRedirectURIs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, _, err := env.srv.RegisterClient(ctx, "Acme",
		[]string{"https://app.example.com/cb"}, false, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	uris := []string{"https://app.example.com/cb", "https://app.example.com/cb2"}
	if err := env.srv.UpdateRedirectURIs(ctx, client.UUID, uris); err != nil {
		t.Fatalf("UpdateRedirectURIs failed: %v", err)
	}
	got, _ := env.srv.GetClientByUUID(ctx, client.UUID)
	if len(got.RedirectURIs) != 2 {
		t.Errorf("RedirectURIs = %v", got.RedirectURIs)
	}

	// Custom schemes are reserved for public clients.
	err = env.srv.UpdateRedirectURIs(ctx, client.UUID, []string{"myapp://cb"})
	if got := rejectionCode(t, err); got != ErrorCodeInvalidRedirectURI {
		t.Errorf("rejection code = %q", got)
	}
}

func TestRegenerateSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, oldSecret, err := env.srv.RegisterClient(ctx, "Acme",
		[]string{"https://app.example.com/cb"}, false, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	newSecret, err := env.srv.RegenerateSecret(ctx, client.UUID)
	if err != nil {
		t.Fatalf("RegenerateSecret failed: %v", err)
	}
	if newSecret == "" || newSecret == oldSecret {
		t.Error("secret was not rotated")
	}

	// The old secret stops working.
	if _, err := env.srv.authenticateClient(ctx, client.ClientID, oldSecret, "127.0.0.1"); err == nil {
		t.Error("old secret still authenticates")
	}
	if _, err := env.srv.authenticateClient(ctx, client.ClientID, newSecret, "127.0.0.1"); err != nil {
		t.Errorf("new secret rejected: %v", err)
	}
}

func TestRegenerateSecretPublicClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, _, err := env.srv.RegisterClient(ctx, "Mobile",
		[]string{"myapp://cb"}, true, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	_, err = env.srv.RegenerateSecret(ctx, client.UUID)
	if got := rejectionCode(t, err); got != ErrorCodeInvalidRequest {
		t.Errorf("rejection code = %q, want invalid_request", got)
	}
}

func TestRegisterClientValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		clientName   string
		redirectURIs []string
		public       bool
	}{
		{"no name", "", []string{"https://a.example.com/cb"}, false},
		{"no redirect URIs", "App", nil, false},
		{"javascript scheme", "App", []string{"javascript:alert(1)"}, true},
		{"fragment", "App", []string{"https://a.example.com/cb#frag"}, false},
		{"http outside localhost", "App", []string{"http://a.example.com/cb"}, false},
		{"custom scheme for confidential", "App", []string{"myapp://cb"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := env.srv.RegisterClient(ctx, tt.clientName, tt.redirectURIs, tt.public, "127.0.0.1"); err == nil {
				t.Error("registration accepted")
			}
		})
	}

	// Loopback HTTP is fine for development.
	if _, _, err := env.srv.RegisterClient(ctx, "Dev App",
		[]string{"http://localhost:3000/cb"}, false, "127.0.0.1"); err != nil {
		t.Errorf("loopback HTTP rejected: %v", err)
	}
}

func TestPublicClientMustNotSendSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, _, err := env.srv.RegisterClient(ctx, "Mobile",
		[]string{"myapp://cb"}, true, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	if _, err := env.srv.authenticateClient(ctx, client.ClientID, "some-secret", "127.0.0.1"); err == nil {
		t.Error("public client authenticated with a secret")
	}
	if _, err := env.srv.authenticateClient(ctx, client.ClientID, "", "127.0.0.1"); err != nil {
		t.Errorf("public client without secret rejected: %v", err)
	}
}
