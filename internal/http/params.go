package http

import (
	"fmt"
	"net/url"
	"strings"

	"tally/internal/core"
	"tally/internal/services"
)

// requireReady returns the projection of a signed-in shell.
func requireReady(shell *services.Shell) (services.Projection, error) {
	p := shell.Projection()
	if p.State == services.StateUnauthenticated {
		return services.Projection{}, services.ErrNoSession
	}
	return p, nil
}

func validateFilter(f core.Filter) error {
	if !f.DateRange.IsValid() {
		return &core.ValidationError{Field: "dateRange", Err: fmt.Errorf("unknown preset %q", f.DateRange)}
	}
	if !f.AmountRange.IsValid() {
		return &core.ValidationError{Field: "amountRange", Err: fmt.Errorf("unknown bucket %q", f.AmountRange)}
	}
	return nil
}

// filterInput is the wire form of a filter. Dates stay strings until parsed so
// a malformed bound is reported instead of silently becoming empty.
type filterInput struct {
	Category    string `json:"category"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	SearchTerm  string `json:"searchTerm"`
	DateRange   string `json:"dateRange"`
	AmountRange string `json:"amountRange"`
}

func (in filterInput) filter() (core.Filter, error) {
	f := core.Filter{
		Category:    strings.TrimSpace(in.Category),
		SearchTerm:  in.SearchTerm,
		DateRange:   core.DateRangePreset(strings.TrimSpace(in.DateRange)),
		AmountRange: core.AmountRange(strings.TrimSpace(in.AmountRange)),
	}
	for _, p := range []struct {
		field string
		value string
		dst   **core.Date
	}{
		{"startDate", in.StartDate, &f.StartDate},
		{"endDate", in.EndDate, &f.EndDate},
	} {
		v := strings.TrimSpace(p.value)
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return core.Filter{}, &core.ValidationError{Field: p.field, Err: err}
		}
		*p.dst = &d
	}
	return f, validateFilter(f)
}

// filterFromQuery reads a filter from category, startDate, endDate, search,
// dateRange and amountRange.
func filterFromQuery(q url.Values) (core.Filter, error) {
	return filterInput{
		Category:    q.Get("category"),
		StartDate:   q.Get("startDate"),
		EndDate:     q.Get("endDate"),
		SearchTerm:  q.Get("search"),
		DateRange:   q.Get("dateRange"),
		AmountRange: q.Get("amountRange"),
	}.filter()
}

// expenseFromInput builds the replacement record for id. Ownership and
// creation time are filled in by the shell.
func expenseFromInput(id string, in core.ExpenseInput) (core.Expense, error) {
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Expense{}, &core.ValidationError{Field: "amount", Err: err}
	}
	date, err := core.ParseDate(in.Date)
	if err != nil {
		return core.Expense{}, &core.ValidationError{Field: "date", Err: err}
	}
	return core.Expense{
		ID:          id,
		Description: in.Description,
		Amount:      amount,
		Category:    in.Category,
		Date:        date,
	}, nil
}
