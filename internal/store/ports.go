// Package store declares the collaborator ports the sync shell talks to.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

// Ports for outbound adapters.
type (
	// Snapshot is the full current collection of one owner as seen by the store.
	Snapshot[T any] struct {
		Owner string
		Items []T
	}

	// Unsubscribe stops a subscription or listener. It is safe to call more than once.
	Unsubscribe func()

	// DataStore persists an owner's expenses and categories and pushes snapshots
	// whenever either collection changes. Deleting an unknown id is not an error.
	DataStore interface {
		CreateExpense(ctx context.Context, e core.Expense) error
		ReplaceExpense(ctx context.Context, e core.Expense) error
		DeleteExpense(ctx context.Context, owner, id string) error
		ListExpenses(ctx context.Context, owner string) ([]core.Expense, error)

		CreateCategory(ctx context.Context, c core.Category) error
		UpdateCategoryBudget(ctx context.Context, owner, id string, budget decimal.Decimal) error
		DeleteCategory(ctx context.Context, owner, id string) error
		ListCategories(ctx context.Context, owner string) ([]core.Category, error)

		// SubscribeExpenses delivers an initial snapshot and one after every change.
		SubscribeExpenses(ctx context.Context, owner string, fn func(Snapshot[core.Expense])) (Unsubscribe, error)
		SubscribeCategories(ctx context.Context, owner string, fn func(Snapshot[core.Category])) (Unsubscribe, error)
	}

	// ProfileStore keeps one profile document per user.
	ProfileStore interface {
		// EnsureProfile creates the profile on first sight and returns the stored one.
		// created reports whether this call created it.
		EnsureProfile(ctx context.Context, id Identity) (p Profile, created bool, err error)
	}

	// UserStore keeps credentials for the identity directory. Emails are compared
	// case-insensitively.
	UserStore interface {
		CreateUser(ctx context.Context, u User) error
		UserByEmail(ctx context.Context, email string) (User, error)
	}

	// IdentityProvider authenticates one client session.
	IdentityProvider interface {
		SignUp(ctx context.Context, email, password string) (Identity, error)
		SignIn(ctx context.Context, email, password string) (Identity, error)
		SignInWithFederatedProvider(ctx context.Context) (Identity, error)
		SignOut(ctx context.Context) error
		// OnSessionChanged calls fn with the current identity right away and on every
		// change afterwards; nil means signed out.
		OnSessionChanged(fn func(*Identity)) Unsubscribe
	}
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
)

// User is a stored credential record.
type User struct {
	UID          string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Identity is an authenticated user as reported by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Profile is the per-user document created on first sign-in.
type Profile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewProfile builds the initial profile of id. An empty display name falls back
// to the local part of the email address.
func NewProfile(id Identity, now time.Time) Profile {
	name := strings.TrimSpace(id.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(id.Email, "@")
	}
	return Profile{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: name,
		PhotoURL:    id.PhotoURL,
		CreatedAt:   now.UTC(),
	}
}
