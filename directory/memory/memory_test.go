package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/gatehouse/gatehouse/directory"
)

func TestSaveAndLookup(t *testing.T) {
	d := New()
	ctx := context.Background()

	user := &directory.User{
		UUID:  "u1",
		Email: "Alice@Example.com",
		Name:  "Alice",
		Services: map[directory.LoginMethod]directory.ServiceAccount{
			directory.MethodGitHub: {ID: "12345", Username: "alice"},
		},
	}
	if err := d.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	got, err := d.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Name != "Alice" {
		t.Errorf("Name = %q", got.Name)
	}

	// Email lookup is case-insensitive.
	got, err = d.GetUserByEmail(ctx, "alice@example.COM")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.UUID != "u1" {
		t.Errorf("UUID = %q", got.UUID)
	}

	if _, err := d.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, directory.ErrUserNotFound) {
		t.Errorf("unknown email = %v, want ErrUserNotFound", err)
	}
}

func TestSaveUserEmailConflict(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.SaveUser(ctx, &directory.User{UUID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	err := d.SaveUser(ctx, &directory.User{UUID: "u2", Email: "A@EXAMPLE.com"})
	if !errors.Is(err, directory.ErrEmailTaken) {
		t.Errorf("conflicting SaveUser = %v, want ErrEmailTaken", err)
	}

	// Changing a user's email frees the old address.
	if err := d.SaveUser(ctx, &directory.User{UUID: "u1", Email: "b@example.com"}); err != nil {
		t.Fatalf("email change failed: %v", err)
	}
	if err := d.SaveUser(ctx, &directory.User{UUID: "u2", Email: "a@example.com"}); err != nil {
		t.Errorf("reusing freed email = %v", err)
	}
}

func TestSaveUserIsolation(t *testing.T) {
	d := New()
	ctx := context.Background()

	user := &directory.User{UUID: "u1", Email: "a@example.com", ScopeAnswers: map[string]string{"phone": "555"}}
	if err := d.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	user.ScopeAnswers["phone"] = "changed"
	got, _ := d.GetUser(ctx, "u1")
	if got.ScopeAnswers["phone"] != "555" {
		t.Errorf("stored answer = %q, want 555", got.ScopeAnswers["phone"])
	}
}

func TestUserMethods(t *testing.T) {
	u := &directory.User{
		PasswordHash: "$2a$10$hash",
		Services: map[directory.LoginMethod]directory.ServiceAccount{
			directory.MethodGoogle: {ID: "g1"},
		},
	}
	methods := u.Methods()
	if len(methods) != 2 {
		t.Fatalf("Methods() = %v, want 2 entries", methods)
	}

	bare := &directory.User{}
	if got := bare.Methods(); len(got) != 0 {
		t.Errorf("Methods() for bare user = %v", got)
	}
}
