package server

import (
	"context"
	"testing"

	"github.com/gatehouse/gatehouse/directory"
)

func TestBestLoginMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	saveUser := func(t *testing.T, user *directory.User) {
		t.Helper()
		if err := env.users.SaveUser(ctx, user); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
	}

	saveUser(t, &directory.User{
		UUID:         "u-local",
		Email:        "local@example.com",
		PasswordHash: "$2a$10$hash",
		Services: map[directory.LoginMethod]directory.ServiceAccount{
			directory.MethodGitHub: {ID: "1"},
		},
	})
	saveUser(t, &directory.User{
		UUID:  "u-github",
		Email: "github@example.com",
		Services: map[directory.LoginMethod]directory.ServiceAccount{
			directory.MethodGitHub: {ID: "2"},
		},
	})
	saveUser(t, &directory.User{
		UUID:  "u-google",
		Email: "google@example.com",
		Services: map[directory.LoginMethod]directory.ServiceAccount{
			directory.MethodGoogle: {ID: "3"},
		},
	})
	saveUser(t, &directory.User{
		UUID:         "u-password",
		Email:        "password@example.com",
		PasswordHash: "$2a$10$hash",
	})
	saveUser(t, &directory.User{
		UUID:  "u-bare",
		Email: "bare@example.com",
	})

	tests := []struct {
		email string
		want  directory.LoginMethod
	}{
		// A linked service wins over a local password, so provider
		// accounts are not asked for a password.
		{"local@example.com", directory.MethodGitHub},
		{"github@example.com", directory.MethodGitHub},
		{"google@example.com", directory.MethodGoogle},
		{"password@example.com", directory.MethodLocal},
		// No credentials at all falls back to the default.
		{"bare@example.com", directory.MethodLocal},
		// Unknown addresses get the default, indistinguishable from a
		// passwordless account.
		{"stranger@example.com", directory.MethodLocal},
	}
	for _, tt := range tests {
		got, err := env.srv.BestLoginMethod(ctx, tt.email)
		if err != nil {
			t.Errorf("BestLoginMethod(%q) error: %v", tt.email, err)
			continue
		}
		if got != tt.want {
			t.Errorf("BestLoginMethod(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestSetAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser(t, "user-1", "alice@example.com", nil)

	if err := env.srv.SetAdmin(ctx, "alice@example.com", true); err != nil {
		t.Fatalf("SetAdmin failed: %v", err)
	}
	user, _ := env.users.GetUser(ctx, "user-1")
	if !user.Admin {
		t.Error("admin flag not set")
	}

	if err := env.srv.SetAdmin(ctx, "alice@example.com", false); err != nil {
		t.Fatalf("SetAdmin(false) failed: %v", err)
	}
	user, _ = env.users.GetUser(ctx, "user-1")
	if user.Admin {
		t.Error("admin flag not cleared")
	}

	err := env.srv.SetAdmin(ctx, "ghost@example.com", true)
	if got := rejectionCode(t, err); got != ErrorCodeInvalidRequest {
		t.Errorf("unknown email rejection code = %q", got)
	}
}
