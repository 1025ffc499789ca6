// Package storage is the SQLite-backed data store. Every write is followed by a
// change notification so that subscribers receive a fresh snapshot.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tally/internal/changefeed"
	"tally/internal/core"
	"tally/internal/store"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db       *sql.DB
	queries  *Queries
	hub      *changefeed.Hub
	notifier changefeed.Notifier
	now      func() time.Time
}

var (
	_ store.DataStore    = (*SQLiteRepository)(nil)
	_ store.ProfileStore = (*SQLiteRepository)(nil)
	_ store.UserStore    = (*SQLiteRepository)(nil)
)

// Option configures a SQLiteRepository.
type Option func(*SQLiteRepository)

// WithNotifier routes change notifications through n instead of the in-process hub.
// n is expected to deliver them back into Hub() eventually.
func WithNotifier(n changefeed.Notifier) Option {
	return func(r *SQLiteRepository) { r.notifier = n }
}

// WithHub shares a hub with other components of the process.
func WithHub(h *changefeed.Hub) Option {
	return func(r *SQLiteRepository) { r.hub = h }
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(repo)
	}
	if repo.hub == nil {
		repo.hub = changefeed.NewHub()
	}
	if repo.notifier == nil {
		repo.notifier = repo.hub
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Hub is where subscriptions of this repository listen for changes.
func (r *SQLiteRepository) Hub() *changefeed.Hub {
	return r.hub
}

func (r *SQLiteRepository) changed(ctx context.Context, owner string, col changefeed.Collection) {
	r.notifier.Notify(ctx, changefeed.Change{Owner: owner, Collection: col})
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	err := r.queries.CreateExpense(ctx, CreateExpenseParams{
		ID:          e.ID,
		UserID:      e.UserID,
		Description: e.Description,
		Amount:      e.Amount.String(),
		Category:    e.Category,
		Date:        e.Date.String(),
		CreatedAt:   e.CreatedAt.UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"owner", e.UserID,
		"amount", e.Amount.String(),
		"category", e.Category,
		"date", e.Date.String())

	r.changed(ctx, e.UserID, changefeed.Expenses)
	return nil
}

func (r *SQLiteRepository) ReplaceExpense(ctx context.Context, e core.Expense) error {
	n, err := r.queries.ReplaceExpense(ctx, ReplaceExpenseParams{
		Description: e.Description,
		Amount:      e.Amount.String(),
		Category:    e.Category,
		Date:        e.Date.String(),
		ID:          e.ID,
		UserID:      e.UserID,
	})
	if err != nil {
		return fmt.Errorf("replace expense: %w", err)
	}
	if n == 0 {
		slog.WarnContext(ctx, "Replace of unknown expense ignored", "id", e.ID, "owner", e.UserID)
		return nil
	}
	r.changed(ctx, e.UserID, changefeed.Expenses)
	return nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, owner, id string) error {
	n, err := r.queries.DeleteExpense(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expense deleted", "id", id, "owner", owner)
		r.changed(ctx, owner, changefeed.Expenses)
	}
	return nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, owner string) ([]core.Expense, error) {
	rows, err := r.queries.ListExpenses(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	expenses := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			slog.WarnContext(ctx, "Stored expense has invalid amount", "id", row.ID, "amount", row.Amount)
			amount = decimal.Zero
		}
		// A malformed stored date stays zero and never matches a date filter.
		date, _ := core.ParseDate(row.Date)
		createdAt, _ := time.Parse(timeLayout, row.CreatedAt)
		expenses = append(expenses, core.Expense{
			ID:          row.ID,
			Description: row.Description,
			Amount:      amount,
			Category:    row.Category,
			Date:        date,
			CreatedAt:   createdAt,
			UserID:      row.UserID,
		})
	}
	return expenses, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) error {
	err := r.queries.CreateCategory(ctx, CreateCategoryParams{
		ID:     c.ID,
		UserID: c.UserID,
		Name:   c.Name,
		Budget: c.Budget.String(),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create category: %w", core.ErrDuplicateCategory)
		}
		return fmt.Errorf("create category: %w", err)
	}
	slog.InfoContext(ctx, "Category saved to SQLite", "id", c.ID, "owner", c.UserID, "name", c.Name)
	r.changed(ctx, c.UserID, changefeed.Categories)
	return nil
}

func (r *SQLiteRepository) UpdateCategoryBudget(ctx context.Context, owner, id string, budget decimal.Decimal) error {
	n, err := r.queries.UpdateCategoryBudget(ctx, UpdateCategoryBudgetParams{
		Budget: budget.String(),
		ID:     id,
		UserID: owner,
	})
	if err != nil {
		return fmt.Errorf("update category budget: %w", err)
	}
	if n > 0 {
		r.changed(ctx, owner, changefeed.Categories)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, owner, id string) error {
	n, err := r.queries.DeleteCategory(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Category deleted", "id", id, "owner", owner)
		r.changed(ctx, owner, changefeed.Categories)
	}
	return nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, owner string) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categories := make([]core.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, core.Category{
			ID:     row.ID,
			Name:   row.Name,
			Budget: core.ParseBudget(row.Budget),
			UserID: row.UserID,
		})
	}
	return categories, nil
}

func (r *SQLiteRepository) SubscribeExpenses(ctx context.Context, owner string, fn func(store.Snapshot[core.Expense])) (store.Unsubscribe, error) {
	c := changefeed.Change{Owner: owner, Collection: changefeed.Expenses}
	unsub, err := changefeed.Watch(ctx, r.hub, c, func(ctx context.Context) ([]core.Expense, error) {
		return r.ListExpenses(ctx, owner)
	}, fn)
	if err != nil {
		return nil, fmt.Errorf("subscribe expenses: %w", err)
	}
	return unsub, nil
}

func (r *SQLiteRepository) SubscribeCategories(ctx context.Context, owner string, fn func(store.Snapshot[core.Category])) (store.Unsubscribe, error) {
	c := changefeed.Change{Owner: owner, Collection: changefeed.Categories}
	unsub, err := changefeed.Watch(ctx, r.hub, c, func(ctx context.Context) ([]core.Category, error) {
		return r.ListCategories(ctx, owner)
	}, fn)
	if err != nil {
		return nil, fmt.Errorf("subscribe categories: %w", err)
	}
	return unsub, nil
}

// EnsureProfile implements store.ProfileStore.
func (r *SQLiteRepository) EnsureProfile(ctx context.Context, id store.Identity) (store.Profile, bool, error) {
	p := store.NewProfile(id, r.now())
	n, err := r.queries.InsertProfile(ctx, InsertProfileParams{
		UID:         p.UID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		CreatedAt:   p.CreatedAt.Format(timeLayout),
	})
	if err != nil {
		return store.Profile{}, false, fmt.Errorf("insert profile: %w", err)
	}

	row, err := r.queries.GetProfile(ctx, id.UID)
	if err != nil {
		return store.Profile{}, false, fmt.Errorf("get profile: %w", err)
	}
	createdAt, _ := time.Parse(timeLayout, row.CreatedAt)
	return store.Profile{
		UID:         row.UID,
		Email:       row.Email,
		DisplayName: row.DisplayName,
		PhotoURL:    row.PhotoURL,
		CreatedAt:   createdAt,
	}, n > 0, nil
}

// CreateUser implements store.UserStore.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u store.User) error {
	err := r.queries.CreateUser(ctx, CreateUserParams{
		UID:          u.UID,
		Email:        strings.ToLower(strings.TrimSpace(u.Email)),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UTC().Format(timeLayout),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (store.User, error) {
	row, err := r.queries.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, store.ErrUserNotFound
		}
		return store.User{}, fmt.Errorf("get user by email: %w", err)
	}
	createdAt, _ := time.Parse(timeLayout, row.CreatedAt)
	return store.User{
		UID:          row.UID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    createdAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// ListOwners returns the uid of every user with a profile.
func (r *SQLiteRepository) ListOwners(ctx context.Context) ([]string, error) {
	owners, err := r.queries.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}
