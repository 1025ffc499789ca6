package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/core"
	"tally/internal/store"
)

func expense(t *testing.T, owner, desc, amount, category string) core.Expense {
	t.Helper()
	e, err := core.NewExpense(core.ExpenseInput{
		Description: desc, Amount: amount, Category: category, Date: "2024-03-10",
	}, owner, time.Now())
	require.NoError(t, err)
	return e
}

func TestExpensesRoundTripThroughBlob(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s := NewStore(blobs)

	a := expense(t, "u1", "Coffee", "3.50", "Food")
	b := expense(t, "u1", "Bus", "2", "Transport")
	require.NoError(t, s.CreateExpense(ctx, a))
	require.NoError(t, s.CreateExpense(ctx, b))

	raw, ok, err := blobs.Get(ctx, "expenses_u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"description":"Coffee"`)
	assert.Contains(t, raw, `"amount":3.5`, "amounts are bare numbers")

	got, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("3.5")))

	b.Amount = decimal.NewFromInt(4)
	require.NoError(t, s.ReplaceExpense(ctx, b))
	require.NoError(t, s.DeleteExpense(ctx, "u1", a.ID))
	require.NoError(t, s.DeleteExpense(ctx, "u1", "missing"))

	got, err = s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0].Amount.String())

	other, err := s.ListExpenses(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReadsLegacyBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	require.NoError(t, blobs.Set(ctx, "expenses_u1",
		`[{"id":"1","description":"Rent","amount":700,"category":"Home","date":"2024-03-01T00:00:00.000Z"}]`))
	require.NoError(t, blobs.Set(ctx, "categories_u1", `[{"id":"c1","name":"Home","budget":-5}]`))
	s := NewStore(blobs)

	exps, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "u1", exps[0].UserID)
	assert.Equal(t, "2024-03-01", exps[0].Date.String())
	assert.Equal(t, "700", exps[0].Amount.String())

	cats, err := s.ListCategories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.True(t, cats[0].Budget.IsZero())
}

func TestReadsQuotedAmounts(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	require.NoError(t, blobs.Set(ctx, "expenses_u1",
		`[{"id":"1","description":"Tea","amount":"2.40","category":"Food","date":"2024-03-01"}]`))
	require.NoError(t, blobs.Set(ctx, "categories_u1", `[{"id":"c1","name":"Food","budget":"90"}]`))
	s := NewStore(blobs)

	exps, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.True(t, exps[0].Amount.Equal(decimal.RequireFromString("2.4")))

	c, err := core.NewCategory(core.CategoryInput{Name: "Home", Budget: "300"}, "u1")
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory(ctx, c))
	raw, _, err := blobs.Get(ctx, "categories_u1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"budget":90`)
	assert.Contains(t, raw, `"budget":300`)
}

func TestDuplicateCategoryRejected(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBlobs())
	food, err := core.NewCategory(core.CategoryInput{Name: "Food"}, "u1")
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory(ctx, food))

	again, err := core.NewCategory(core.CategoryInput{Name: "FOOD"}, "u1")
	require.NoError(t, err)
	assert.ErrorIs(t, s.CreateCategory(ctx, again), core.ErrDuplicateCategory)

	other, err := core.NewCategory(core.CategoryInput{Name: "food"}, "u2")
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory(ctx, other), "names are unique per owner")

	cats, err := s.ListCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestCorruptBlobReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	require.NoError(t, blobs.Set(ctx, "categories_u1", "{not json"))
	s := NewStore(blobs)

	cats, err := s.ListCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestCategoryBudgetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBlobs())
	c, err := core.NewCategory(core.CategoryInput{Name: "Food", Budget: "100"}, "u1")
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory(ctx, c))
	require.NoError(t, s.UpdateCategoryBudget(ctx, "u1", c.ID, decimal.NewFromInt(250)))

	cats, err := s.ListCategories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "250", cats[0].Budget.String())

	require.NoError(t, s.DeleteCategory(ctx, "u1", c.ID))
	cats, err = s.ListCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBlobs())

	snaps := make(chan store.Snapshot[core.Expense], 8)
	stop, err := s.SubscribeExpenses(ctx, "u1", func(snap store.Snapshot[core.Expense]) {
		snaps <- snap
	})
	require.NoError(t, err)
	defer stop()

	first := receive(t, snaps)
	assert.Equal(t, "u1", first.Owner)
	assert.Empty(t, first.Items)

	require.NoError(t, s.CreateExpense(ctx, expense(t, "u1", "Lunch", "12", "Food")))
	var last store.Snapshot[core.Expense]
	require.Eventually(t, func() bool {
		select {
		case last = <-snaps:
		default:
		}
		return len(last.Items) == 1
	}, time.Second, 5*time.Millisecond)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestEnsureProfileOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBlobs())
	id := store.Identity{UID: "u1", Email: "ada@example.com"}

	p, created, err := s.EnsureProfile(ctx, id)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ada", p.DisplayName)

	again, created, err := s.EnsureProfile(ctx, store.Identity{UID: "u1", Email: "ada@example.com", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ada", again.DisplayName)
}

func TestUsersAreKeyedByEmail(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBlobs())
	u := store.User{UID: "u1", Email: "ada@example.com", PasswordHash: []byte("hash"), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(ctx, u))

	err := s.CreateUser(ctx, store.User{UID: "u2", Email: "ADA@example.com"})
	assert.True(t, errors.Is(err, store.ErrEmailTaken))

	got, err := s.UserByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UID)
	assert.Equal(t, []byte("hash"), got.PasswordHash)

	_, err = s.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}
