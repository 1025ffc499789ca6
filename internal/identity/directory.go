// Package identity is the identity collaborator: a credential directory shared by
// the process and a per-session client on top of it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tally/internal/store"
)

const minPasswordLength = 6

var (
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrWeakPassword         = errors.New("password must be at least 6 characters")
	ErrEmailExists          = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrFederatedUnavailable = errors.New("federated sign-in is not configured")
)

// Directory registers and authenticates email/password accounts.
type Directory struct {
	users store.UserStore
	cost  int
	now   func() time.Time
}

func NewDirectory(users store.UserStore) *Directory {
	return &Directory{users: users, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost returns a copy of d that hashes with the given bcrypt cost.
func (d *Directory) WithCost(cost int) *Directory {
	cp := *d
	cp.cost = cost
	return &cp
}

// NormalizeEmail trims and lowercases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates an account.
func (d *Directory) Register(ctx context.Context, email, password string) (store.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return store.User{}, err
	}
	if strings.TrimSpace(password) == "" || len(password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := store.User{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return store.User{}, ErrEmailExists
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (store.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	u, err := d.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// IsUserError reports whether err was caused by what the user typed rather than
// by an unavailable collaborator.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrWeakPassword) ||
		errors.Is(err, ErrEmailExists) ||
		errors.Is(err, ErrInvalidCredentials)
}
