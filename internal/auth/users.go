package auth

import (
	"context"
	"fmt"
	"strings"
)

// UserStore manages staff accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// Directory wraps a UserStore with validation and credential checks.
type Directory struct {
	store UserStore
}

// NewDirectory constructs a Directory.
func NewDirectory(store UserStore) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: user store is required", ErrInvalidInput)
	}
	return &Directory{store: store}, nil
}

// CreateUser validates input, hashes the password and persists the account.
func (d *Directory) CreateUser(ctx context.Context, name, email, password string, role Role) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if _, ok := ParseRole(string(role)); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := HashPassword(strings.TrimSpace(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u := &User{
		Name:         name,
		Email:        email,
		Role:         role,
		Status:       UserStatusActive,
		PasswordHash: hash,
	}
	if err := d.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies credentials and returns the account if it is active.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrUnauthorized
	}
	u, err := d.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !u.Active() {
		return nil, ErrUnauthorized
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// ActiveUser returns the user if it exists and is active. Assignment targets
// must pass this check.
func (d *Directory) ActiveUser(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	u, err := d.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, fmt.Errorf("%w: user %s is not active", ErrNotFound, id)
	}
	return u, nil
}

// Find returns the user by id.
func (d *Directory) Find(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return d.store.Find(ctx, id)
}

// List returns every account.
func (d *Directory) List(ctx context.Context) ([]*User, error) {
	return d.store.List(ctx)
}

// Disable marks an account disabled. Existing tokens for the account keep
// verifying until expiry; revoke them separately when required.
func (d *Directory) Disable(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return d.store.UpdateStatus(ctx, id, UserStatusDisabled)
}
