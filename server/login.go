package server

import (
	"context"
	"errors"

	"github.com/gatehouse/gatehouse/directory"
)

// methodPreference orders login methods when a user has several
// available. Upstream providers come before local password login, so
// an account created through a provider is never prompted for a
// password it may not have set.
var methodPreference = []directory.LoginMethod{
	directory.MethodGitHub,
	directory.MethodGoogle,
	directory.MethodLocal,
}

// BestLoginMethod picks the sign-in method to present for an email
// address. Unknown addresses get the configured default, so the
// response does not reveal whether an account exists.
func (s *Server) BestLoginMethod(ctx context.Context, email string) (directory.LoginMethod, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return s.Config.DefaultLoginMethod, nil
		}
		return "", err
	}

	available := make(map[directory.LoginMethod]bool)
	for _, m := range user.Methods() {
		available[m] = true
	}
	for _, m := range methodPreference {
		if available[m] {
			return m, nil
		}
	}

	// Account without a password or linked service; fall back to the
	// default so the user can establish one.
	return s.Config.DefaultLoginMethod, nil
}
