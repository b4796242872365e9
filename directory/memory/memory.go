// Package memory provides an in-memory user directory for development,
// testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gatehouse/gatehouse/directory"
)

// Directory is an in-memory directory.Directory implementation.
type Directory struct {
	mu           sync.RWMutex
	users        map[string]*directory.User // keyed by UUID
	usersByEmail map[string]string          // lowercased email -> UUID
}

var _ directory.Directory = (*Directory)(nil)

// New creates an empty in-memory directory.
func New() *Directory {
	return &Directory{
		users:        make(map[string]*directory.User),
		usersByEmail: make(map[string]string),
	}
}

func (d *Directory) SaveUser(ctx context.Context, user *directory.User) error {
	if user == nil || user.UUID == "" || user.Email == "" {
		return fmt.Errorf("user must have a UUID and an email")
	}
	email := strings.ToLower(user.Email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.usersByEmail[email]; ok && owner != user.UUID {
		return fmt.Errorf("%w: %s", directory.ErrEmailTaken, user.Email)
	}

	if prev, ok := d.users[user.UUID]; ok {
		if prevEmail := strings.ToLower(prev.Email); prevEmail != email {
			delete(d.usersByEmail, prevEmail)
		}
	}

	d.users[user.UUID] = user.Clone()
	d.usersByEmail[email] = user.UUID
	return nil
}

func (d *Directory) GetUser(ctx context.Context, uuid string) (*directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[uuid]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (d *Directory) GetUserByEmail(ctx context.Context, email string) (*directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	uuid, ok := d.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return d.users[uuid].Clone(), nil
}

func (d *Directory) ListUsers(ctx context.Context) ([]*directory.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*directory.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u.Clone())
	}
	return out, nil
}
