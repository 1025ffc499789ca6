// Package memory is an in-process document store. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/changefeed"
	"tally/internal/core"
	"tally/internal/store"
)

type Store struct {
	mu         sync.Mutex
	hub        *changefeed.Hub
	expenses   map[string][]core.Expense
	categories map[string][]core.Category
	profiles   map[string]store.Profile
	users      map[string]store.User
	failWith   error
	now        func() time.Time
}

var (
	_ store.DataStore    = (*Store)(nil)
	_ store.ProfileStore = (*Store)(nil)
	_ store.UserStore    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		hub:        changefeed.NewHub(),
		expenses:   map[string][]core.Expense{},
		categories: map[string][]core.Category{},
		profiles:   map[string]store.Profile{},
		users:      map[string]store.User{},
		now:        time.Now,
	}
}

// Hub is where subscriptions of this store listen for changes.
func (s *Store) Hub() *changefeed.Hub {
	return s.hub
}

// Fail makes every following write return err until Fail(nil) is called.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// write runs fn under the lock and publishes the change once the lock is released.
// Nothing is published when fn fails.
func (s *Store) write(owner string, col changefeed.Collection, fn func() error) error {
	s.mu.Lock()
	if s.failWith != nil {
		err := s.failWith
		s.mu.Unlock()
		return err
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.hub.Publish(changefeed.Change{Owner: owner, Collection: col})
	return nil
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) error {
	return s.write(e.UserID, changefeed.Expenses, func() error {
		s.expenses[e.UserID] = append(s.expenses[e.UserID], e)
		return nil
	})
}

// ReplaceExpense overwrites the stored record with the same id; unknown ids are ignored.
func (s *Store) ReplaceExpense(_ context.Context, e core.Expense) error {
	return s.write(e.UserID, changefeed.Expenses, func() error {
		list := s.expenses[e.UserID]
		for i := range list {
			if list[i].ID == e.ID {
				list[i] = e
			}
		}
		return nil
	})
}

func (s *Store) DeleteExpense(_ context.Context, owner, id string) error {
	return s.write(owner, changefeed.Expenses, func() error {
		s.expenses[owner] = without(s.expenses[owner], func(e core.Expense) bool { return e.ID == id })
		return nil
	})
}

func (s *Store) ListExpenses(_ context.Context, owner string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Expense(nil), s.expenses[owner]...), nil
}

// CreateCategory rejects a name the owner already uses, ignoring case.
func (s *Store) CreateCategory(_ context.Context, c core.Category) error {
	return s.write(c.UserID, changefeed.Categories, func() error {
		for _, existing := range s.categories[c.UserID] {
			if core.SameName(existing.Name, c.Name) {
				return core.ErrDuplicateCategory
			}
		}
		s.categories[c.UserID] = append(s.categories[c.UserID], c)
		return nil
	})
}

func (s *Store) UpdateCategoryBudget(_ context.Context, owner, id string, budget decimal.Decimal) error {
	return s.write(owner, changefeed.Categories, func() error {
		list := s.categories[owner]
		for i := range list {
			if list[i].ID == id {
				list[i].Budget = budget
			}
		}
		return nil
	})
}

func (s *Store) DeleteCategory(_ context.Context, owner, id string) error {
	return s.write(owner, changefeed.Categories, func() error {
		s.categories[owner] = without(s.categories[owner], func(c core.Category) bool { return c.ID == id })
		return nil
	})
}

func (s *Store) ListCategories(_ context.Context, owner string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Category(nil), s.categories[owner]...), nil
}

func (s *Store) SubscribeExpenses(ctx context.Context, owner string, fn func(store.Snapshot[core.Expense])) (store.Unsubscribe, error) {
	c := changefeed.Change{Owner: owner, Collection: changefeed.Expenses}
	return changefeed.Watch(ctx, s.hub, c, func(ctx context.Context) ([]core.Expense, error) {
		return s.ListExpenses(ctx, owner)
	}, fn)
}

func (s *Store) SubscribeCategories(ctx context.Context, owner string, fn func(store.Snapshot[core.Category])) (store.Unsubscribe, error) {
	c := changefeed.Change{Owner: owner, Collection: changefeed.Categories}
	return changefeed.Watch(ctx, s.hub, c, func(ctx context.Context) ([]core.Category, error) {
		return s.ListCategories(ctx, owner)
	}, fn)
}

// EnsureProfile implements store.ProfileStore.
func (s *Store) EnsureProfile(_ context.Context, id store.Identity) (store.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return store.Profile{}, false, s.failWith
	}
	if p, ok := s.profiles[id.UID]; ok {
		return p, false, nil
	}
	p := store.NewProfile(id, s.now())
	s.profiles[id.UID] = p
	return p, true, nil
}

// CreateUser implements store.UserStore.
func (s *Store) CreateUser(_ context.Context, u store.User) error {
	key := strings.ToLower(strings.TrimSpace(u.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; ok {
		return store.ErrEmailTaken
	}
	s.users[key] = u
	return nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return u, nil
}

func without[T any](in []T, drop func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !drop(v) {
			out = append(out, v)
		}
	}
	return out
}

// ListOwners returns the uid of every user with a profile, sorted.
func (s *Store) ListOwners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make([]string, 0, len(s.profiles))
	for uid := range s.profiles {
		owners = append(owners, uid)
	}
	sort.Strings(owners)
	return owners, nil
}
