package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatehouse/gatehouse/directory"
)

// SetAdmin grants or removes the admin flag on the account with the
// given email address.
func (s *Server) SetAdmin(ctx context.Context, email string, admin bool) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return reject(ErrorCodeInvalidRequest, "no user with email %q", email)
		}
		return fmt.Errorf("loading user: %w", err)
	}

	if user.Admin == admin {
		return nil
	}
	user.Admin = admin
	if err := s.users.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	s.Logger.Info("Changed admin flag", "admin", admin)
	return nil
}

// IsAdmin reports whether the bearer of rawToken is an admin user.
func (s *Server) IsAdmin(ctx context.Context, rawToken string) (bool, error) {
	info, err := s.UserInfo(ctx, rawToken)
	if err != nil {
		return false, err
	}
	user, err := s.users.GetUser(ctx, info.UUID)
	if err != nil {
		return false, err
	}
	return user.Admin, nil
}

// GetUser retrieves an account by UUID.
func (s *Server) GetUser(ctx context.Context, uuid string) (*directory.User, error) {
	return s.users.GetUser(ctx, uuid)
}
