package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/core"
	"tally/internal/store"
	"tally/internal/store/memory"
)

var testNow = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

// manualStore writes through to a memory store but lets the test decide when
// snapshots are delivered.
type manualStore struct {
	*memory.Store
	mu      sync.Mutex
	expFn   func(store.Snapshot[core.Expense])
	catFn   func(store.Snapshot[core.Category])
	subErr  error
	stopped int
}

func newManualStore() *manualStore {
	return &manualStore{Store: memory.New()}
}

func (m *manualStore) SubscribeExpenses(_ context.Context, _ string, fn func(store.Snapshot[core.Expense])) (store.Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	m.expFn = fn
	return func() { m.mu.Lock(); m.stopped++; m.mu.Unlock() }, nil
}

func (m *manualStore) SubscribeCategories(_ context.Context, _ string, fn func(store.Snapshot[core.Category])) (store.Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catFn = fn
	return func() { m.mu.Lock(); m.stopped++; m.mu.Unlock() }, nil
}

func (m *manualStore) pushExpenses(owner string, items ...core.Expense) {
	m.mu.Lock()
	fn := m.expFn
	m.mu.Unlock()
	fn(store.Snapshot[core.Expense]{Owner: owner, Items: items})
}

func (m *manualStore) pushCategories(owner string, items ...core.Category) {
	m.mu.Lock()
	fn := m.catFn
	m.mu.Unlock()
	fn(store.Snapshot[core.Category]{Owner: owner, Items: items})
}

func (m *manualStore) sync(t *testing.T, owner string) {
	t.Helper()
	exps, err := m.ListExpenses(context.Background(), owner)
	require.NoError(t, err)
	cats, err := m.ListCategories(context.Background(), owner)
	require.NoError(t, err)
	m.pushExpenses(owner, exps...)
	m.pushCategories(owner, cats...)
}

var ann = store.Identity{UID: "ann", Email: "ann@example.com"}

func readyShell(t *testing.T) (*Shell, *manualStore) {
	t.Helper()
	ms := newManualStore()
	s := NewShell(ms, WithClock(clock))
	require.NoError(t, s.Start(context.Background(), ann))
	require.Equal(t, StateLoading, s.State())
	ms.pushExpenses(ann.UID)
	require.Equal(t, StateLoading, s.State())
	ms.pushCategories(ann.UID)
	require.Equal(t, StateReady, s.State())
	return s, ms
}

func input(desc, amount, category, date string) core.ExpenseInput {
	return core.ExpenseInput{Description: desc, Amount: amount, Category: category, Date: date}
}

func ids(es []core.Expense) []string {
	out := []string{}
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestOperationsWithoutSession(t *testing.T) {
	ctx := context.Background()
	s := NewShell(memory.New())
	assert.Equal(t, StateUnauthenticated, s.State())

	_, err := s.AddExpense(ctx, input("a", "1", "Food", "2024-01-01"))
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, s.RemoveExpense(ctx, "x"), ErrNoSession)
	assert.ErrorIs(t, s.UpdateExpense(ctx, core.Expense{ID: "x"}), ErrNoSession)
	_, err = s.AddCategory(ctx, core.CategoryInput{Name: "Food"})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, s.RemoveCategory(ctx, "x"), ErrNoSession)
	assert.ErrorIs(t, s.UpdateCategoryBudget(ctx, "x", "1"), ErrNoSession)
	assert.ErrorIs(t, s.SetFilter(core.Filter{}), ErrNoSession)
	assert.ErrorIs(t, s.Start(ctx, store.Identity{}), ErrNoSession)
}

func TestMutationsWaitForFirstSnapshots(t *testing.T) {
	ctx := context.Background()
	ms := newManualStore()
	food := core.Category{ID: "c1", Name: "Food", UserID: ann.UID}
	lunch := core.Expense{ID: "e1", Description: "Lunch", Amount: decimal.NewFromInt(10),
		Category: "Food", Date: core.NewDate(2024, 1, 1), UserID: ann.UID}
	require.NoError(t, ms.CreateCategory(ctx, food))
	require.NoError(t, ms.CreateExpense(ctx, lunch))

	s := NewShell(ms, WithClock(clock))
	require.NoError(t, s.Start(ctx, ann))
	require.Equal(t, StateLoading, s.State())

	_, err := s.AddCategory(ctx, core.CategoryInput{Name: "food"})
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.AddExpense(ctx, input("Bus", "2", "Transport", "2024-01-02"))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.RemoveExpense(ctx, "e1"), ErrNotReady)
	assert.ErrorIs(t, s.UpdateExpense(ctx, lunch), ErrNotReady)
	assert.ErrorIs(t, s.RemoveCategory(ctx, "c1"), ErrNotReady)
	assert.ErrorIs(t, s.UpdateCategoryBudget(ctx, "c1", "5"), ErrNotReady)
	require.NoError(t, s.SetFilter(core.Filter{SearchTerm: "lunch"}), "filters apply once data arrives")

	ms.sync(t, ann.UID)
	require.Equal(t, StateReady, s.State())
	p := s.Projection()
	assert.Equal(t, []string{"e1"}, ids(p.Visible))
	require.Len(t, p.Categories, 1)

	_, err = s.AddCategory(ctx, core.CategoryInput{Name: "food"})
	assert.ErrorIs(t, err, core.ErrDuplicateCategory)
	require.NoError(t, s.RemoveExpense(ctx, "e1"))
	stored, err := ms.ListExpenses(ctx, ann.UID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDuplicateCategoryRejectedByStore(t *testing.T) {
	s, ms := readyShell(t)
	ctx := context.Background()

	// Written by another client; no snapshot has reached this shell yet.
	require.NoError(t, ms.CreateCategory(ctx, core.Category{ID: "c1", Name: "Food", UserID: ann.UID}))

	_, err := s.AddCategory(ctx, core.CategoryInput{Name: "FOOD"})
	assert.ErrorIs(t, err, core.ErrDuplicateCategory)
	assert.True(t, core.IsValidation(err))
	assert.NotErrorIs(t, err, ErrCollaborator)
	assert.Empty(t, s.Projection().Categories)
}

// gatedStore holds CreateExpense until release is closed.
type gatedStore struct {
	*manualStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) CreateExpense(ctx context.Context, e core.Expense) error {
	g.entered <- struct{}{}
	<-g.release
	return g.manualStore.CreateExpense(ctx, e)
}

func TestUnsavedExpenseCannotChange(t *testing.T) {
	ctx := context.Background()
	ms := newManualStore()
	gs := &gatedStore{manualStore: ms, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewShell(gs, WithClock(clock))
	require.NoError(t, s.Start(ctx, ann))
	ms.sync(t, ann.UID)
	require.Equal(t, StateReady, s.State())

	done := make(chan error, 1)
	go func() {
		_, err := s.AddExpense(ctx, input("Lunch", "10", "Food", "2024-01-01"))
		done <- err
	}()
	<-gs.entered

	p := s.Projection()
	require.Len(t, p.Expenses, 1)
	e := p.Expenses[0]
	assert.ErrorIs(t, s.RemoveExpense(ctx, e.ID), ErrPendingWrite)
	changed := e
	changed.Description = "Brunch"
	assert.ErrorIs(t, s.UpdateExpense(ctx, changed), ErrPendingWrite)

	close(gs.release)
	require.NoError(t, <-done)

	require.NoError(t, s.RemoveExpense(ctx, e.ID))
	ms.sync(t, ann.UID)
	assert.Empty(t, s.Projection().Expenses, "the delete follows the confirmed create")
}

func TestProjectionJSONRoundTrip(t *testing.T) {
	s, _ := readyShell(t)
	_, err := s.AddExpense(context.Background(), input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)

	raw, err := json.Marshal(s.Projection())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"ready"`)

	var got Projection
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, StateReady, got.State)
	assert.Equal(t, ids(s.Projection().Expenses), ids(got.Expenses))

	for _, st := range []State{StateUnauthenticated, StateLoading, StateReady} {
		text, err := st.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, st, back)
	}
	var bad State
	assert.Error(t, bad.UnmarshalText([]byte("sleeping")))
}

func TestAddExpenseIsVisibleBeforeConfirmation(t *testing.T) {
	s, ms := readyShell(t)

	var states []Projection
	s.Subscribe(func(p Projection) { states = append(states, p) })

	e, err := s.AddExpense(context.Background(), input("Lunch", "12.50", "Food", "2024-03-13"))
	require.NoError(t, err)
	assert.Equal(t, ann.UID, e.UserID)
	assert.Equal(t, testNow, e.CreatedAt)

	require.NotEmpty(t, states)
	assert.Equal(t, []string{e.ID}, ids(states[0].Expenses), "shown as soon as it is validated")
	assert.Equal(t, 1, states[0].Pending)

	ms.sync(t, ann.UID)
	p := s.Projection()
	assert.Equal(t, []string{e.ID}, ids(p.Expenses), "not duplicated once the snapshot contains it")
	assert.Equal(t, 0, p.Pending)
}

func TestAddExpenseValidationChangesNothing(t *testing.T) {
	s, _ := readyShell(t)
	before := s.Projection()

	_, err := s.AddExpense(context.Background(), input("   ", "10", "Food", "2024-01-01"))
	assert.ErrorIs(t, err, core.ErrEmptyDescription)
	assert.True(t, core.IsValidation(err))

	after := s.Projection()
	assert.Equal(t, before.Revision, after.Revision)
	assert.Empty(t, after.Expenses)
}

func TestAddExpenseRollsBackOnStoreFailure(t *testing.T) {
	s, ms := readyShell(t)
	boom := errors.New("offline")
	ms.Fail(boom)

	_, err := s.AddExpense(context.Background(), input("Lunch", "10", "Food", "2024-01-01"))
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.ErrorIs(t, err, boom)

	p := s.Projection()
	assert.Empty(t, p.Expenses)
	assert.Equal(t, 0, p.Pending)
}

func TestPendingAddSurvivesOlderSnapshot(t *testing.T) {
	s, ms := readyShell(t)
	ctx := context.Background()

	e, err := s.AddExpense(ctx, input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)

	// Simulate the write still being in flight.
	s.mu.Lock()
	s.pending[0].confirmed = false
	s.mu.Unlock()

	ms.pushExpenses(ann.UID)
	assert.Equal(t, []string{e.ID}, ids(s.Projection().Expenses), "unconfirmed add is kept")

	ms.sync(t, ann.UID)
	assert.Equal(t, []string{e.ID}, ids(s.Projection().Expenses))
	assert.Equal(t, 0, s.Projection().Pending)
}

func TestConfirmedPendingDroppedOnNextSnapshot(t *testing.T) {
	s, ms := readyShell(t)
	_, err := s.AddExpense(context.Background(), input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)

	ms.pushExpenses(ann.UID)
	assert.Empty(t, s.Projection().Expenses)
}

func TestFilterAndAnalyticsScenario(t *testing.T) {
	s, ms := readyShell(t)
	ctx := context.Background()

	_, err := s.AddCategory(ctx, core.CategoryInput{Name: "Food", Budget: "200"})
	require.NoError(t, err)
	_, err = s.AddCategory(ctx, core.CategoryInput{Name: "Transport"})
	require.NoError(t, err)
	for _, in := range []core.ExpenseInput{
		input("Groceries", "50", "Food", "2024-01-10"),
		input("Bus", "20", "Transport", "2024-01-15"),
		input("Dinner", "30", "Food", "2024-02-01"),
	} {
		_, err := s.AddExpense(ctx, in)
		require.NoError(t, err)
	}
	ms.sync(t, ann.UID)

	res := s.Analytics()
	require.Len(t, res.ByCategory, 2)
	assert.True(t, res.ByCategory[0].Total.Equal(decimal.NewFromInt(80)))
	assert.True(t, res.ByCategory[1].Total.Equal(decimal.NewFromInt(20)))
	assert.True(t, res.ByCategory[1].Budget.IsZero())
	require.Len(t, res.Monthly, 2)
	assert.Equal(t, "Jan", res.Monthly[0].Label)
	assert.True(t, res.Monthly[0].Total.Equal(decimal.NewFromInt(70)))
	assert.True(t, res.Total.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.AverageMonthly.Equal(decimal.NewFromInt(50)))

	require.NoError(t, s.SetFilter(core.Filter{Category: "Food"}))
	p := s.Projection()
	assert.Len(t, p.Expenses, 3)
	require.Len(t, p.Visible, 2)
	for _, e := range p.Visible {
		assert.Equal(t, "Food", e.Category)
	}
	assert.True(t, s.Analytics().Total.Equal(decimal.NewFromInt(80)), "analytics follow the visible expenses")
}

func TestAnalyticsMemoizedPerRevision(t *testing.T) {
	s, _ := readyShell(t)
	a := s.Analytics()
	s.mu.Lock()
	memo := s.memo
	s.mu.Unlock()
	b := s.Analytics()
	assert.Equal(t, a, b)
	s.mu.Lock()
	assert.Same(t, memo, s.memo)
	s.mu.Unlock()
}

func TestRemoveExpense(t *testing.T) {
	s, ms := readyShell(t)
	ctx := context.Background()
	e, err := s.AddExpense(ctx, input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)
	ms.sync(t, ann.UID)

	rev := s.Projection().Revision
	require.NoError(t, s.RemoveExpense(ctx, "missing"))
	assert.Equal(t, rev, s.Projection().Revision, "unknown id is a no-op")

	ms.Fail(errors.New("offline"))
	assert.ErrorIs(t, s.RemoveExpense(ctx, e.ID), ErrCollaborator)
	assert.Len(t, s.Projection().Expenses, 1, "nothing removed before the store confirms")

	ms.Fail(nil)
	require.NoError(t, s.RemoveExpense(ctx, e.ID))
	assert.Empty(t, s.Projection().Expenses)
}

func TestUpdateExpenseKeepsIdentity(t *testing.T) {
	s, ms := readyShell(t)
	ctx := context.Background()
	e, err := s.AddExpense(ctx, input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)
	ms.sync(t, ann.UID)

	rev := s.Projection().Revision
	require.NoError(t, s.UpdateExpense(ctx, core.Expense{ID: "missing", Description: "x", Amount: decimal.NewFromInt(1), Category: "c", Date: core.NewDate(2024, 1, 1)}))
	assert.Equal(t, rev, s.Projection().Revision)

	changed := e
	changed.Description = "Brunch"
	changed.Amount = decimal.NewFromInt(15)
	changed.CreatedAt = time.Time{}
	changed.UserID = "mallory"
	require.NoError(t, s.UpdateExpense(ctx, changed))

	got := s.Projection().Expenses[0]
	assert.Equal(t, "Brunch", got.Description)
	assert.Equal(t, e.CreatedAt, got.CreatedAt)
	assert.Equal(t, ann.UID, got.UserID)

	bad := e
	bad.Description = ""
	assert.ErrorIs(t, s.UpdateExpense(ctx, bad), core.ErrEmptyDescription)
}

func TestCategories(t *testing.T) {
	s, ms := readyShell(t)
	ctx := context.Background()

	food, err := s.AddCategory(ctx, core.CategoryInput{Name: "Food", Budget: "-5"})
	require.NoError(t, err)
	assert.True(t, food.Budget.IsZero())

	_, err = s.AddCategory(ctx, core.CategoryInput{Name: " food "})
	assert.ErrorIs(t, err, core.ErrDuplicateCategory)
	_, err = s.AddCategory(ctx, core.CategoryInput{Name: ""})
	assert.ErrorIs(t, err, core.ErrEmptyName)

	require.NoError(t, s.UpdateCategoryBudget(ctx, food.ID, "250"))
	assert.True(t, s.Projection().Categories[0].Budget.Equal(decimal.NewFromInt(250)))
	require.NoError(t, s.UpdateCategoryBudget(ctx, food.ID, "abc"))
	assert.True(t, s.Projection().Categories[0].Budget.IsZero())
	require.NoError(t, s.UpdateCategoryBudget(ctx, "missing", "1"))

	_, err = s.AddExpense(ctx, input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)
	require.NoError(t, s.RemoveCategory(ctx, food.ID))
	ms.sync(t, ann.UID)

	p := s.Projection()
	assert.Empty(t, p.Categories)
	assert.Len(t, p.Expenses, 1, "removing a category keeps its expenses")
	res := s.Analytics()
	assert.Empty(t, res.ByCategory)
	assert.True(t, res.Total.Equal(decimal.NewFromInt(10)))
}

func TestStopIgnoresLateSnapshots(t *testing.T) {
	s, ms := readyShell(t)
	s.Stop()
	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Equal(t, 2, ms.stopped)

	rev := s.Projection().Revision
	ms.pushExpenses(ann.UID, core.Expense{ID: "late", UserID: ann.UID})
	p := s.Projection()
	assert.Equal(t, rev, p.Revision)
	assert.Empty(t, p.Expenses)
}

func TestSnapshotForOtherOwnerIgnored(t *testing.T) {
	s, ms := readyShell(t)
	ms.pushExpenses("bob", core.Expense{ID: "b1", UserID: "bob"})
	assert.Empty(t, s.Projection().Expenses)
}

func TestStartFailsWhenStoreUnavailable(t *testing.T) {
	ms := newManualStore()
	ms.subErr = errors.New("unreachable")
	s := NewShell(ms)

	err := s.Start(context.Background(), ann)
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestObserversSeeIncreasingRevisions(t *testing.T) {
	s, ms := readyShell(t)
	var revs []uint64
	cancel := s.Subscribe(func(p Projection) { revs = append(revs, p.Revision) })

	ctx := context.Background()
	_, _ = s.AddCategory(ctx, core.CategoryInput{Name: "Food"})
	_, _ = s.AddExpense(ctx, input("a", "1", "Food", "2024-01-01"))
	ms.sync(t, ann.UID)
	require.NoError(t, s.SetFilter(core.Filter{SearchTerm: "a"}))

	require.NotEmpty(t, revs)
	for i := 1; i < len(revs); i++ {
		assert.Greater(t, revs[i], revs[i-1])
	}

	cancel()
	n := len(revs)
	require.NoError(t, s.SetFilter(core.Filter{}))
	assert.Len(t, revs, n)
}

func TestShellWithLiveMemoryStore(t *testing.T) {
	s := NewShell(memory.New(), WithClock(clock))
	require.NoError(t, s.Start(context.Background(), ann))
	require.Eventually(t, func() bool { return s.State() == StateReady }, 2*time.Second, 5*time.Millisecond)

	_, err := s.AddExpense(context.Background(), input("Lunch", "10", "Food", "2024-01-01"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p := s.Projection()
		return len(p.Expenses) == 1 && p.Pending == 0
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}
