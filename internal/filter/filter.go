// Package filter narrows an expense list to the entries a Filter selects.
//
// Every predicate is ANDed. The functions are pure: the input slice is never
// modified and the result keeps the input order.
package filter

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

var (
	hundred     = decimal.NewFromInt(100)
	fiveHundred = decimal.NewFromInt(500)
	thousand    = decimal.NewFromInt(1000)
)

// Apply filters expenses relative to the current time.
func Apply(expenses []core.Expense, f core.Filter) []core.Expense {
	return ApplyAt(expenses, f, time.Now())
}

// ApplyAt filters expenses, resolving date presets against now.
// Unknown category, preset or amount bucket values select nothing.
func ApplyAt(expenses []core.Expense, f core.Filter, now time.Time) []core.Expense {
	out := make([]core.Expense, 0, len(expenses))
	if !f.DateRange.IsValid() || !f.AmountRange.IsValid() {
		return out
	}

	m := newMatcher(f, now)
	for _, e := range expenses {
		if m.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Matches reports whether a single expense passes f at now.
func Matches(e core.Expense, f core.Filter, now time.Time) bool {
	if !f.DateRange.IsValid() || !f.AmountRange.IsValid() {
		return false
	}
	return newMatcher(f, now).match(e)
}

type matcher struct {
	f          core.Filter
	term       string
	from, to   core.Date
	hasPreset  bool
	categoryOn bool
}

func newMatcher(f core.Filter, now time.Time) matcher {
	m := matcher{
		f:          f,
		term:       strings.ToLower(strings.TrimSpace(f.SearchTerm)),
		categoryOn: f.Category != "" && f.Category != core.AllCategories,
	}
	m.from, m.to, m.hasPreset = presetBounds(f.DateRange, now)
	return m
}

func (m matcher) match(e core.Expense) bool {
	if m.categoryOn && e.Category != m.f.Category {
		return false
	}
	if m.f.StartDate != nil && (e.Date.IsZero() || e.Date.Compare(*m.f.StartDate) < 0) {
		return false
	}
	if m.f.EndDate != nil && (e.Date.IsZero() || e.Date.Compare(*m.f.EndDate) > 0) {
		return false
	}
	if m.hasPreset {
		if e.Date.IsZero() || e.Date.Compare(m.from) < 0 || e.Date.Compare(m.to) > 0 {
			return false
		}
	}
	if !inBucket(e.Amount, m.f.AmountRange) {
		return false
	}
	if m.term != "" &&
		!strings.Contains(strings.ToLower(e.Description), m.term) &&
		!strings.Contains(strings.ToLower(e.Category), m.term) {
		return false
	}
	return true
}

// presetBounds returns the inclusive calendar window of a preset. The week runs
// Monday through Sunday.
func presetBounds(p core.DateRangePreset, now time.Time) (core.Date, core.Date, bool) {
	y, mo, d := now.Date()
	switch p {
	case core.RangeToday:
		day := core.NewDate(y, int(mo), d)
		return day, day, true
	case core.RangeWeek:
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(y, mo, d-offset, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 6)
		return core.Date{Time: start}, core.Date{Time: end}, true
	case core.RangeMonth:
		start := time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
		return core.Date{Time: start}, core.Date{Time: start.AddDate(0, 1, -1)}, true
	case core.RangeYear:
		return core.NewDate(y, 1, 1), core.NewDate(y, 12, 31), true
	}
	return core.Date{}, core.Date{}, false
}

func inBucket(amount decimal.Decimal, r core.AmountRange) bool {
	switch r {
	case core.AmountUpTo100:
		return !amount.IsNegative() && amount.LessThan(hundred)
	case core.Amount100To500:
		return amount.GreaterThanOrEqual(hundred) && amount.LessThan(fiveHundred)
	case core.Amount500To1000:
		return amount.GreaterThanOrEqual(fiveHundred) && amount.LessThan(thousand)
	case core.AmountFrom1000Up:
		return amount.GreaterThanOrEqual(thousand)
	}
	return true
}
