// Package memory is an Exporter that keeps the last export of every owner in
// memory. The worker uses it for dry runs.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"tally/internal/core"
	ports "tally/internal/sheets"
)

// Export is one owner's exported tabs.
type Export struct {
	Expenses [][]any
	Summary  [][]any
}

type Store struct {
	mu      sync.Mutex
	exports map[string]Export
	calls   int
}

var _ ports.Exporter = (*Store)(nil)

func New() *Store {
	return &Store{exports: map[string]Export{}}
}

func (s *Store) Export(_ context.Context, owner string, expenses []core.Expense, summary core.AnalyticsResult) error {
	if strings.TrimSpace(owner) == "" {
		return errors.New("export: empty owner")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports[owner] = Export{
		Expenses: ports.ExpenseRows(expenses),
		Summary:  ports.SummaryRows(summary),
	}
	s.calls++
	return nil
}

// Last returns the most recent export for owner.
func (s *Store) Last(owner string) (Export, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exports[owner]
	return e, ok
}

// Calls counts successful exports.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
