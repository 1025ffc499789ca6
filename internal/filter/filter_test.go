package filter

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/core"
)

func expense(id, desc, amount, category, date string) core.Expense {
	d, _ := core.ParseDate(date)
	return core.Expense{
		ID:          id,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Category:    category,
		Date:        d,
	}
}

func ids(es []core.Expense) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func datePtr(s string) *core.Date {
	d, _ := core.ParseDate(s)
	return &d
}

// Wednesday, 2024-03-13.
var now = time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC)

func sample() []core.Expense {
	return []core.Expense{
		expense("1", "Groceries", "50", "Food", "2024-01-10"),
		expense("2", "Bus ticket", "20", "Transport", "2024-01-15"),
		expense("3", "Dinner out", "30", "Food", "2024-02-01"),
		expense("4", "New laptop", "1200", "Tech", "2024-03-11"),
		expense("5", "Monitor", "450", "Tech", "2024-03-13"),
		expense("6", "Rent", "700", "Housing", "2024-03-17"),
		expense("7", "Old receipt", "5", "Misc", "2023-12-31"),
	}
}

func TestIdentityFilter(t *testing.T) {
	in := sample()
	assert.Equal(t, in, ApplyAt(in, core.Filter{}, now))
	assert.Equal(t, in, ApplyAt(in, core.Filter{Category: "all", DateRange: core.RangeAll, AmountRange: core.AmountAll}, now))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	in := sample()
	before := append([]core.Expense(nil), in...)
	out := ApplyAt(in, core.Filter{Category: "Food"}, now)
	require.Len(t, out, 2)
	out[0].Description = "changed"
	assert.Equal(t, before, in)
}

func TestResultIsOrderedSubsequence(t *testing.T) {
	in := sample()
	filters := []core.Filter{
		{Category: "Tech"},
		{SearchTerm: "o"},
		{AmountRange: core.Amount100To500},
		{DateRange: core.RangeMonth},
		{StartDate: datePtr("2024-01-12"), EndDate: datePtr("2024-03-11")},
	}
	for _, f := range filters {
		out := ApplyAt(in, f, now)
		j := 0
		for _, e := range out {
			for j < len(in) && in[j].ID != e.ID {
				j++
			}
			require.Less(t, j, len(in), "result is not a subsequence for %+v", f)
			j++
		}
	}
}

func TestCategory(t *testing.T) {
	in := []core.Expense{
		expense("a", "A", "10", "Food", "2024-01-01"),
		expense("b", "B", "20", "Transport", "2024-01-02"),
		expense("c", "C", "30", "Food", "2024-01-03"),
	}
	assert.Equal(t, []string{"a", "c"}, ids(ApplyAt(in, core.Filter{Category: "Food"}, now)))
	assert.Empty(t, ApplyAt(in, core.Filter{Category: "Nope"}, now))
	assert.Empty(t, ApplyAt(in, core.Filter{Category: "food"}, now), "category match is exact")
}

func TestExplicitBoundsAreInclusive(t *testing.T) {
	f := core.Filter{StartDate: datePtr("2024-01-15"), EndDate: datePtr("2024-03-11")}
	assert.Equal(t, []string{"2", "3", "4"}, ids(ApplyAt(sample(), f, now)))
}

func TestPresets(t *testing.T) {
	cases := []struct {
		preset core.DateRangePreset
		want   []string
	}{
		{core.RangeToday, []string{"5"}},
		{core.RangeWeek, []string{"4", "5", "6"}},
		{core.RangeMonth, []string{"4", "5", "6"}},
		{core.RangeYear, []string{"1", "2", "3", "4", "5", "6"}},
		{core.RangeAll, []string{"1", "2", "3", "4", "5", "6", "7"}},
		{"fortnight", []string{}},
	}
	for _, tc := range cases {
		t.Run(string(tc.preset), func(t *testing.T) {
			assert.Equal(t, tc.want, ids(ApplyAt(sample(), core.Filter{DateRange: tc.preset}, now)))
		})
	}
}

func TestWeekStartsOnMonday(t *testing.T) {
	sunday := time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"4", "5", "6"}, ids(ApplyAt(sample(), core.Filter{DateRange: core.RangeWeek}, sunday)))

	monday := time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)
	assert.Empty(t, ApplyAt(sample(), core.Filter{DateRange: core.RangeWeek}, monday))
}

func TestPresetAndBoundsCombine(t *testing.T) {
	f := core.Filter{DateRange: core.RangeMonth, EndDate: datePtr("2024-03-12")}
	assert.Equal(t, []string{"4"}, ids(ApplyAt(sample(), f, now)))
}

func TestAmountBuckets(t *testing.T) {
	in := []core.Expense{
		expense("0", "zero", "0", "X", "2024-01-01"),
		expense("99", "just under", "99.99", "X", "2024-01-01"),
		expense("100", "edge", "100", "X", "2024-01-01"),
		expense("500", "edge", "500", "X", "2024-01-01"),
		expense("999", "under", "999.99", "X", "2024-01-01"),
		expense("1000", "edge", "1000", "X", "2024-01-01"),
	}
	cases := []struct {
		bucket core.AmountRange
		want   []string
	}{
		{core.AmountUpTo100, []string{"0", "99"}},
		{core.Amount100To500, []string{"100"}},
		{core.Amount500To1000, []string{"500", "999"}},
		{core.AmountFrom1000Up, []string{"1000"}},
		{"50-60", []string{}},
	}
	for _, tc := range cases {
		t.Run(string(tc.bucket), func(t *testing.T) {
			assert.Equal(t, tc.want, ids(ApplyAt(in, core.Filter{AmountRange: tc.bucket}, now)))
		})
	}
}

func TestSearch(t *testing.T) {
	in := sample()
	assert.Equal(t, []string{"4", "5"}, ids(ApplyAt(in, core.Filter{SearchTerm: "TECH"}, now)), "matches category")
	assert.Equal(t, []string{"3"}, ids(ApplyAt(in, core.Filter{SearchTerm: "dinner"}, now)), "matches description")
	assert.Len(t, ApplyAt(in, core.Filter{SearchTerm: "   "}, now), len(in), "blank term is ignored")
}

func TestMalformedDate(t *testing.T) {
	in := []core.Expense{
		{ID: "bad", Description: "x", Amount: decimal.NewFromInt(1), Category: "Food"},
		expense("ok", "y", "1", "Food", "2024-03-13"),
	}
	assert.Equal(t, []string{"bad", "ok"}, ids(ApplyAt(in, core.Filter{Category: "Food"}, now)))
	assert.Equal(t, []string{"ok"}, ids(ApplyAt(in, core.Filter{DateRange: core.RangeToday}, now)))
	assert.Equal(t, []string{"ok"}, ids(ApplyAt(in, core.Filter{StartDate: datePtr("2000-01-01")}, now)))
}

func TestMatches(t *testing.T) {
	e := expense("1", "Coffee", "3", "Food", "2024-03-13")
	assert.True(t, Matches(e, core.Filter{DateRange: core.RangeToday, AmountRange: core.AmountUpTo100}, now))
	assert.False(t, Matches(e, core.Filter{AmountRange: "bogus"}, now))
}
