// Package local is the fallback data store: each user's collections are kept as
// JSON arrays in a blob store under expenses_<uid> and categories_<uid>.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/changefeed"
	"tally/internal/core"
	"tally/internal/store"
)

func expensesKey(uid string) string   { return "expenses_" + uid }
func categoriesKey(uid string) string { return "categories_" + uid }
func profileKey(uid string) string    { return "profile_" + uid }
func userKey(email string) string     { return "user_" + strings.ToLower(strings.TrimSpace(email)) }

type Store struct {
	blobs    BlobStore
	hub      *changefeed.Hub
	notifier changefeed.Notifier
	now      func() time.Time

	// mu serializes read-modify-write cycles of this process.
	mu sync.Mutex
}

var (
	_ store.DataStore    = (*Store)(nil)
	_ store.ProfileStore = (*Store)(nil)
	_ store.UserStore    = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithNotifier routes change notifications through n instead of the in-process hub.
func WithNotifier(n changefeed.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithHub shares a hub with other components of the process.
func WithHub(h *changefeed.Hub) Option {
	return func(s *Store) { s.hub = h }
}

func NewStore(blobs BlobStore, opts ...Option) *Store {
	s := &Store{blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = changefeed.NewHub()
	}
	if s.notifier == nil {
		s.notifier = s.hub
	}
	return s
}

// Hub is where subscriptions of this store listen for changes.
func (s *Store) Hub() *changefeed.Hub {
	return s.hub
}

func load[T any](ctx context.Context, blobs BlobStore, key string) ([]T, error) {
	raw, ok, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		slog.WarnContext(ctx, "Discarding unreadable local blob", "key", key, "error", err)
		return nil, nil
	}
	return items, nil
}

func save[T any](ctx context.Context, blobs BlobStore, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return blobs.Set(ctx, key, string(raw))
}

// update loads the list under key, lets fn change it and writes it back.
// An error from fn aborts the write.
func update[T any](ctx context.Context, s *Store, key string, fn func([]T) ([]T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := load[T](ctx, s.blobs, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	items, err = fn(items)
	if err != nil {
		return err
	}
	if err := save(ctx, s.blobs, key, items); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, owner string, col changefeed.Collection) {
	s.notifier.Notify(ctx, changefeed.Change{Owner: owner, Collection: col})
}

func (s *Store) CreateExpense(ctx context.Context, e core.Expense) error {
	err := update(ctx, s, expensesKey(e.UserID), func(list []expenseRecord) ([]expenseRecord, error) {
		return append(list, expenseToRecord(e)), nil
	})
	if err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	s.publish(ctx, e.UserID, changefeed.Expenses)
	return nil
}

func (s *Store) ReplaceExpense(ctx context.Context, e core.Expense) error {
	err := update(ctx, s, expensesKey(e.UserID), func(list []expenseRecord) ([]expenseRecord, error) {
		for i := range list {
			if list[i].ID == e.ID {
				list[i] = expenseToRecord(e)
			}
		}
		return list, nil
	})
	if err != nil {
		return fmt.Errorf("replace expense: %w", err)
	}
	s.publish(ctx, e.UserID, changefeed.Expenses)
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, owner, id string) error {
	err := update(ctx, s, expensesKey(owner), func(list []expenseRecord) ([]expenseRecord, error) {
		out := list[:0]
		for _, r := range list {
			if r.ID != id {
				out = append(out, r)
			}
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.publish(ctx, owner, changefeed.Expenses)
	return nil
}

func (s *Store) ListExpenses(ctx context.Context, owner string) ([]core.Expense, error) {
	records, err := load[expenseRecord](ctx, s.blobs, expensesKey(owner))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	items := make([]core.Expense, 0, len(records))
	for _, r := range records {
		items = append(items, r.expense(owner))
	}
	return items, nil
}

// CreateCategory rejects a name the owner already uses, ignoring case.
func (s *Store) CreateCategory(ctx context.Context, c core.Category) error {
	err := update(ctx, s, categoriesKey(c.UserID), func(list []categoryRecord) ([]categoryRecord, error) {
		for _, r := range list {
			if core.SameName(r.Name, c.Name) {
				return nil, core.ErrDuplicateCategory
			}
		}
		return append(list, categoryToRecord(c)), nil
	})
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	s.publish(ctx, c.UserID, changefeed.Categories)
	return nil
}

func (s *Store) UpdateCategoryBudget(ctx context.Context, owner, id string, budget decimal.Decimal) error {
	err := update(ctx, s, categoriesKey(owner), func(list []categoryRecord) ([]categoryRecord, error) {
		for i := range list {
			if list[i].ID == id {
				list[i].Budget = amount{budget}
			}
		}
		return list, nil
	})
	if err != nil {
		return fmt.Errorf("update category budget: %w", err)
	}
	s.publish(ctx, owner, changefeed.Categories)
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, owner, id string) error {
	err := update(ctx, s, categoriesKey(owner), func(list []categoryRecord) ([]categoryRecord, error) {
		out := list[:0]
		for _, r := range list {
			if r.ID != id {
				out = append(out, r)
			}
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.publish(ctx, owner, changefeed.Categories)
	return nil
}

func (s *Store) ListCategories(ctx context.Context, owner string) ([]core.Category, error) {
	records, err := load[categoryRecord](ctx, s.blobs, categoriesKey(owner))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	items := make([]core.Category, 0, len(records))
	for _, r := range records {
		items = append(items, r.category(owner))
	}
	return items, nil
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

// EnsureProfile implements store.ProfileStore with a profile_<uid> blob.
func (s *Store) EnsureProfile(ctx context.Context, id store.Identity) (store.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.blobs.Get(ctx, profileKey(id.UID))
	if err != nil {
		return store.Profile{}, false, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		var p store.Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p, false, nil
		}
	}

	p := store.NewProfile(id, s.now())
	b, err := json.Marshal(p)
	if err != nil {
		return store.Profile{}, false, fmt.Errorf("encode profile: %w", err)
	}
	if err := s.blobs.Set(ctx, profileKey(id.UID), string(b)); err != nil {
		return store.Profile{}, false, fmt.Errorf("save profile: %w", err)
	}
	return p, true, nil
}

type userRecord struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateUser implements store.UserStore with a user_<email> blob.
func (s *Store) CreateUser(ctx context.Context, u store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(u.Email)
	if _, ok, err := s.blobs.Get(ctx, key); err != nil {
		return fmt.Errorf("load user: %w", err)
	} else if ok {
		return store.ErrEmailTaken
	}
	b, err := json.Marshal(userRecord(u))
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.blobs.Set(ctx, key, string(b)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (store.User, error) {
	raw, ok, err := s.blobs.Get(ctx, userKey(email))
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	var rec userRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return store.User{}, fmt.Errorf("decode user: %w", err)
	}
	return store.User(rec), nil
}
