package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tally/internal/analytics"
	"tally/internal/core"
	"tally/internal/filter"
	"tally/internal/log"
	"tally/internal/store"
)

var (
	// ErrNoSession is returned by operations issued while nobody is signed in.
	ErrNoSession = errors.New("no active session")
	// ErrCollaborator wraps failures of the data store or identity provider.
	ErrCollaborator = errors.New("collaborator unavailable")
	// ErrNotReady is returned by mutations issued before the first snapshots arrived.
	ErrNotReady = errors.New("collections still loading")
	// ErrPendingWrite is returned when changing an expense whose creation the store
	// has not confirmed yet.
	ErrPendingWrite = errors.New("expense is still being saved")
)

// State is the lifecycle stage of a Shell.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unauthenticated"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "loading":
		*s = StateLoading
	case "ready":
		*s = StateReady
	case "unauthenticated":
		*s = StateUnauthenticated
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Projection is a consistent copy of everything the shell exposes at one revision.
type Projection struct {
	Revision   uint64          `json:"revision"`
	State      State           `json:"state"`
	Owner      string          `json:"owner,omitempty"`
	Filter     core.Filter     `json:"filter"`
	Expenses   []core.Expense  `json:"expenses"`
	Visible    []core.Expense  `json:"visible"`
	Categories []core.Category `json:"categories"`
	Pending    int             `json:"pending"`
}

type pendingAdd struct {
	expense   core.Expense
	confirmed bool
}

// Shell owns the canonical collections of the signed-in user, keeps them in step
// with the data store and derives the filtered projection from them.
//
// Snapshots from the store replace the canonical collections. Adds are shown
// immediately as pending entries and rolled back when the store rejects them;
// every other mutation is applied locally only after the store accepted it.
type Shell struct {
	data   store.DataStore
	now    func() time.Time
	logger *log.Logger
	events *log.StructuredLogger

	mu         sync.Mutex
	gen        uint64
	state      State
	owner      string
	filter     core.Filter
	canonical  []core.Expense
	pending    []pendingAdd
	categories []core.Category
	haveExp    bool
	haveCat    bool
	expenses   []core.Expense
	visible    []core.Expense
	revision   uint64
	unsubs     []store.Unsubscribe

	observers map[int]func(Projection)
	nextObs   int

	memoRev uint64
	memo    *core.AnalyticsResult

	notifyMu     sync.Mutex
	lastNotified uint64
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithClock sets the time source used for creation stamps and date presets.
func WithClock(now func() time.Time) ShellOption {
	return func(s *Shell) { s.now = now }
}

// WithLogger sets the logger; the component is forced to "shell".
func WithLogger(l *log.Logger) ShellOption {
	return func(s *Shell) { s.logger = l.WithComponent(log.ComponentShell) }
}

func NewShell(data store.DataStore, opts ...ShellOption) *Shell {
	s := &Shell{
		data:      data,
		now:       time.Now,
		logger:    log.Default(log.ComponentShell),
		observers: make(map[int]func(Projection)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// Start begins a session for id: the shell enters Loading, subscribes to both
// collections of the owner and becomes Ready once both first snapshots arrived.
// A running session is stopped first.
func (s *Shell) Start(ctx context.Context, id store.Identity) error {
	if strings.TrimSpace(id.UID) == "" {
		return fmt.Errorf("start session: %w", ErrNoSession)
	}
	s.Stop()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateLoading
	s.owner = id.UID
	s.filter = core.Filter{}
	s.resetLocked()
	p := s.bumpLocked()
	s.mu.Unlock()
	s.notify(p)

	s.logger.InfoContext(ctx, "Session starting", log.FieldOwner, id.UID)

	unsubExp, err := s.data.SubscribeExpenses(ctx, id.UID, func(snap store.Snapshot[core.Expense]) {
		s.applyExpenses(gen, snap)
	})
	if err != nil {
		s.abortStart(gen)
		return fmt.Errorf("%w: subscribe expenses: %w", ErrCollaborator, err)
	}
	unsubCat, err := s.data.SubscribeCategories(ctx, id.UID, func(snap store.Snapshot[core.Category]) {
		s.applyCategories(gen, snap)
	})
	if err != nil {
		unsubExp()
		s.abortStart(gen)
		return fmt.Errorf("%w: subscribe categories: %w", ErrCollaborator, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		unsubExp()
		unsubCat()
		return nil
	}
	s.unsubs = append(s.unsubs, unsubExp, unsubCat)
	s.mu.Unlock()
	return nil
}

func (s *Shell) abortStart(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Stop()
}

// Stop ends the session: subscriptions are torn down and the collections
// discarded. Callbacks of the ended session that arrive later are ignored.
func (s *Shell) Stop() {
	s.mu.Lock()
	if s.state == StateUnauthenticated && len(s.unsubs) == 0 {
		s.mu.Unlock()
		return
	}
	s.gen++
	unsubs := s.unsubs
	s.unsubs = nil
	owner := s.owner
	s.state = StateUnauthenticated
	s.owner = ""
	s.filter = core.Filter{}
	s.resetLocked()
	p := s.bumpLocked()
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.logger.InfoContext(context.Background(), "Session stopped", log.FieldOwner, owner)
	s.notify(p)
}

func (s *Shell) resetLocked() {
	s.canonical = nil
	s.pending = nil
	s.categories = nil
	s.haveExp = false
	s.haveCat = false
	s.expenses = nil
	s.visible = nil
}

func (s *Shell) applyExpenses(gen uint64, snap store.Snapshot[core.Expense]) {
	s.mu.Lock()
	if gen != s.gen || snap.Owner != s.owner {
		s.mu.Unlock()
		return
	}
	s.canonical = append([]core.Expense(nil), snap.Items...)

	inSnapshot := make(map[string]struct{}, len(snap.Items))
	for _, e := range snap.Items {
		inSnapshot[e.ID] = struct{}{}
	}
	kept := s.pending[:0:0]
	for _, p := range s.pending {
		if _, ok := inSnapshot[p.expense.ID]; ok || p.confirmed {
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
	s.haveExp = true
	s.readyLocked()
	p := s.bumpLocked()
	s.mu.Unlock()

	s.logger.DebugContext(context.Background(), "Expense snapshot applied",
		log.FieldOwner, snap.Owner, log.FieldCount, len(snap.Items), log.FieldRevision, p.Revision)
	s.notify(p)
}

func (s *Shell) applyCategories(gen uint64, snap store.Snapshot[core.Category]) {
	s.mu.Lock()
	if gen != s.gen || snap.Owner != s.owner {
		s.mu.Unlock()
		return
	}
	s.categories = append([]core.Category(nil), snap.Items...)
	s.haveCat = true
	s.readyLocked()
	p := s.bumpLocked()
	s.mu.Unlock()

	s.logger.DebugContext(context.Background(), "Category snapshot applied",
		log.FieldOwner, snap.Owner, log.FieldCount, len(snap.Items), log.FieldRevision, p.Revision)
	s.notify(p)
}

func (s *Shell) readyLocked() {
	if s.state == StateLoading && s.haveExp && s.haveCat {
		s.state = StateReady
	}
}

// bumpLocked re-derives the projection, advances the revision and returns a copy.
func (s *Shell) bumpLocked() Projection {
	expenses := make([]core.Expense, 0, len(s.canonical)+len(s.pending))
	expenses = append(expenses, s.canonical...)
	for _, p := range s.pending {
		expenses = append(expenses, p.expense)
	}
	s.expenses = expenses
	s.visible = filter.ApplyAt(expenses, s.filter, s.now())
	s.revision++
	return s.projectionLocked()
}

func (s *Shell) projectionLocked() Projection {
	return Projection{
		Revision:   s.revision,
		State:      s.state,
		Owner:      s.owner,
		Filter:     s.filter,
		Expenses:   append([]core.Expense{}, s.expenses...),
		Visible:    append([]core.Expense{}, s.visible...),
		Categories: append([]core.Category{}, s.categories...),
		Pending:    len(s.pending),
	}
}

// sessionLocked returns the owner and generation of the running session.
func (s *Shell) sessionLocked() (string, uint64, error) {
	if s.state == StateUnauthenticated {
		return "", 0, ErrNoSession
	}
	return s.owner, s.gen, nil
}

// writableLocked is sessionLocked for mutations: the canonical collections must
// have been loaded so lookups by id and name see the stored records.
func (s *Shell) writableLocked() (string, uint64, error) {
	switch s.state {
	case StateUnauthenticated:
		return "", 0, ErrNoSession
	case StateLoading:
		return "", 0, ErrNotReady
	}
	return s.owner, s.gen, nil
}

// AddExpense validates in, shows it as a pending entry and writes it to the store.
// When the store rejects it the entry is removed again.
func (s *Shell) AddExpense(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	s.mu.Lock()
	owner, gen, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return core.Expense{}, err
	}
	e, err := core.NewExpense(in, owner, s.now())
	if err != nil {
		s.mu.Unlock()
		return core.Expense{}, err
	}
	s.pending = append(s.pending, pendingAdd{expense: e})
	p := s.bumpLocked()
	s.mu.Unlock()
	s.notify(p)

	if err := s.data.CreateExpense(ctx, e); err != nil {
		s.mu.Lock()
		if s.gen == gen && s.dropPendingLocked(e.ID) {
			p := s.bumpLocked()
			s.mu.Unlock()
			s.notify(p)
		} else {
			s.mu.Unlock()
		}
		s.events.LogError(ctx, "Failed to create expense", err, log.ComponentShell, log.OpCreate,
			log.NewFields().WithOwner(owner).WithExpense(e.ID, core.FormatAmount(e.Amount), e.Category))
		return core.Expense{}, fmt.Errorf("%w: create expense: %w", ErrCollaborator, err)
	}

	s.mu.Lock()
	if s.gen == gen {
		for i := range s.pending {
			if s.pending[i].expense.ID == e.ID {
				s.pending[i].confirmed = true
			}
		}
	}
	s.mu.Unlock()

	s.events.LogExpenseCreated(ctx, owner, e.ID, core.FormatAmount(e.Amount), e.Category)
	return e, nil
}

func (s *Shell) dropPendingLocked(id string) bool {
	for i, p := range s.pending {
		if p.expense.ID == id {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// unsavedLocked reports whether id is a pending add the store has not confirmed.
func (s *Shell) unsavedLocked(id string) bool {
	for _, p := range s.pending {
		if p.expense.ID == id {
			return !p.confirmed
		}
	}
	return false
}

func (s *Shell) findExpenseLocked(id string) (core.Expense, bool) {
	for _, e := range s.expenses {
		if e.ID == id {
			return e, true
		}
	}
	return core.Expense{}, false
}

// RemoveExpense deletes the expense with id. Unknown ids are ignored.
func (s *Shell) RemoveExpense(ctx context.Context, id string) error {
	s.mu.Lock()
	owner, gen, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.unsavedLocked(id) {
		s.mu.Unlock()
		return ErrPendingWrite
	}
	if _, ok := s.findExpenseLocked(id); !ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.data.DeleteExpense(ctx, owner, id); err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete expense", log.FieldOwner, owner, log.FieldExpenseID, id, log.FieldError, err)
		return fmt.Errorf("%w: delete expense: %w", ErrCollaborator, err)
	}

	s.commit(gen, func() {
		s.canonical = without(s.canonical, func(e core.Expense) bool { return e.ID == id })
		s.dropPendingLocked(id)
	})
	return nil
}

// UpdateExpense replaces the stored record that has e.ID. The id, creation time
// and owner of the existing record are kept. Unknown ids are ignored.
func (s *Shell) UpdateExpense(ctx context.Context, e core.Expense) error {
	s.mu.Lock()
	owner, gen, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.unsavedLocked(e.ID) {
		s.mu.Unlock()
		return ErrPendingWrite
	}
	current, ok := s.findExpenseLocked(e.ID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	updated := e
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.UserID = current.UserID
	updated.Description = strings.TrimSpace(updated.Description)
	updated.Category = strings.TrimSpace(updated.Category)
	if err := updated.Validate(); err != nil {
		return err
	}

	if err := s.data.ReplaceExpense(ctx, updated); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update expense", log.FieldOwner, owner, log.FieldExpenseID, e.ID, log.FieldError, err)
		return fmt.Errorf("%w: update expense: %w", ErrCollaborator, err)
	}

	s.commit(gen, func() {
		s.canonical = replaced(s.canonical, updated)
		for i := range s.pending {
			if s.pending[i].expense.ID == updated.ID {
				s.pending[i].expense = updated
			}
		}
	})
	return nil
}

// AddCategory creates a category. Names are unique per owner, ignoring case.
func (s *Shell) AddCategory(ctx context.Context, in core.CategoryInput) (core.Category, error) {
	s.mu.Lock()
	owner, gen, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return core.Category{}, err
	}
	c, err := core.NewCategory(in, owner)
	if err != nil {
		s.mu.Unlock()
		return core.Category{}, err
	}
	for _, existing := range s.categories {
		if core.SameName(existing.Name, c.Name) {
			s.mu.Unlock()
			return core.Category{}, &core.ValidationError{Field: "name", Err: core.ErrDuplicateCategory}
		}
	}
	s.mu.Unlock()

	if err := s.data.CreateCategory(ctx, c); err != nil {
		if errors.Is(err, core.ErrDuplicateCategory) {
			return core.Category{}, &core.ValidationError{Field: "name", Err: core.ErrDuplicateCategory}
		}
		s.logger.ErrorContext(ctx, "Failed to create category", log.FieldOwner, owner, log.FieldCategory, c.Name, log.FieldError, err)
		return core.Category{}, fmt.Errorf("%w: create category: %w", ErrCollaborator, err)
	}

	s.commit(gen, func() {
		for _, existing := range s.categories {
			if existing.ID == c.ID {
				return
			}
		}
		s.categories = append(append([]core.Category{}, s.categories...), c)
	})
	return c, nil
}

// RemoveCategory deletes a category. Expenses that refer to it are left alone.
func (s *Shell) RemoveCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	owner, gen, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.findCategoryLocked(id); !ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.data.DeleteCategory(ctx, owner, id); err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete category", log.FieldOwner, owner, log.FieldCategoryID, id, log.FieldError, err)
		return fmt.Errorf("%w: delete category: %w", ErrCollaborator, err)
	}

	s.commit(gen, func() {
		s.categories = without(s.categories, func(c core.Category) bool { return c.ID == id })
	})
	return nil
}

// UpdateCategoryBudget changes only the budget of a category. An unparsable or
// negative budget is stored as zero. Unknown ids are ignored.
func (s *Shell) UpdateCategoryBudget(ctx context.Context, id, budget string) error {
	s.mu.Lock()
	owner, gen, err := s.writableLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.findCategoryLocked(id); !ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	amount := core.ParseBudget(budget)
	if err := s.data.UpdateCategoryBudget(ctx, owner, id, amount); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update category budget", log.FieldOwner, owner, log.FieldCategoryID, id, log.FieldError, err)
		return fmt.Errorf("%w: update category budget: %w", ErrCollaborator, err)
	}

	s.commit(gen, func() {
		next := append([]core.Category{}, s.categories...)
		for i := range next {
			if next[i].ID == id {
				next[i].Budget = amount
			}
		}
		s.categories = next
	})
	return nil
}

func (s *Shell) findCategoryLocked(id string) (core.Category, bool) {
	for _, c := range s.categories {
		if c.ID == id {
			return c, true
		}
	}
	return core.Category{}, false
}

// commit applies a confirmed mutation if the session that issued it is still running.
func (s *Shell) commit(gen uint64, apply func()) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	apply()
	p := s.bumpLocked()
	s.mu.Unlock()
	s.notify(p)
}

// SetFilter replaces the filter and re-derives the visible expenses.
func (s *Shell) SetFilter(f core.Filter) error {
	s.mu.Lock()
	if _, _, err := s.sessionLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.filter = f
	p := s.bumpLocked()
	s.mu.Unlock()
	s.notify(p)
	return nil
}

// Projection returns a copy of the current state.
func (s *Shell) Projection() Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectionLocked()
}

// State returns the lifecycle stage.
func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Analytics aggregates the visible expenses against the categories. The result
// is computed once per revision.
func (s *Shell) Analytics() core.AnalyticsResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memo != nil && s.memoRev == s.revision {
		return *s.memo
	}
	res := analytics.Aggregate(s.visible, s.categories)
	s.memo = &res
	s.memoRev = s.revision
	return res
}

// Subscribe registers fn to be called after every change of the projection.
// Calls are serialized and revisions only increase. fn may read the shell
// but must not mutate it. The returned function removes fn.
func (s *Shell) Subscribe(fn func(Projection)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Shell) notify(p Projection) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if p.Revision <= s.lastNotified {
		return
	}
	s.lastNotified = p.Revision

	s.mu.Lock()
	observers := make([]func(Projection), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
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

func replaced(in []core.Expense, e core.Expense) []core.Expense {
	out := append([]core.Expense{}, in...)
	for i := range out {
		if out[i].ID == e.ID {
			out[i] = e
		}
	}
	return out
}
