// Package directory defines the user records and the store interface
// for the identity side of the server: accounts, login methods, admin
// flags, and the per-scope answers users give during consent.
package directory

import (
	"context"
	"errors"
	"time"
)

// LoginMethod identifies a way a user can sign in.
type LoginMethod string

const (
	MethodLocal  LoginMethod = "local"
	MethodGitHub LoginMethod = "github"
	MethodGoogle LoginMethod = "google"
)

// Errors returned by Directory implementations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// ServiceAccount links a user to an account at an external identity
// provider.
type ServiceAccount struct {
	ID       string // provider-side account identifier
	Username string
	LinkedAt time.Time
}

// User is an account in the directory.
type User struct {
	UUID          string
	Email         string
	Name          string
	VerifiedEmail bool
	Admin         bool

	// PasswordHash is the bcrypt hash for local login; empty when the
	// user has never set a password.
	PasswordHash string

	// Services maps login methods to linked external accounts.
	Services map[LoginMethod]ServiceAccount

	// ScopeAnswers holds the user's recorded consent answers, keyed by
	// scope name. Answers persist even if the scope definition is later
	// deleted.
	ScopeAnswers map[string]string

	CreatedAt time.Time
}

// Clone returns a deep copy of the user record.
func (u *User) Clone() *User {
	out := *u
	out.Services = make(map[LoginMethod]ServiceAccount, len(u.Services))
	for k, v := range u.Services {
		out.Services[k] = v
	}
	out.ScopeAnswers = make(map[string]string, len(u.ScopeAnswers))
	for k, v := range u.ScopeAnswers {
		out.ScopeAnswers[k] = v
	}
	return &out
}

// Methods returns the login methods available to the user: every
// linked service, plus local when a password hash is present.
func (u *User) Methods() []LoginMethod {
	var out []LoginMethod
	if u.PasswordHash != "" {
		out = append(out, MethodLocal)
	}
	for method := range u.Services {
		out = append(out, method)
	}
	return out
}

// Directory stores user accounts.
type Directory interface {
	// SaveUser inserts or updates a user keyed by UUID. Returns
	// ErrEmailTaken if the email belongs to a different user.
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by UUID.
	GetUser(ctx context.Context, uuid string) (*User, error)

	// GetUserByEmail retrieves a user by email address.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// ListUsers lists all accounts (for admin purposes).
	ListUsers(ctx context.Context) ([]*User, error)
}
