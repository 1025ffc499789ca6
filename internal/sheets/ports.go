// Package sheets renders an owner's expenses and analytics as spreadsheet rows
// and declares the exporter port that writes them out.
package sheets

import (
	"context"
	"time"

	"tally/internal/core"
)

// Exporter replaces the exported copy of an owner's data.
type Exporter interface {
	Export(ctx context.Context, owner string, expenses []core.Expense, summary core.AnalyticsResult) error
}

func ExpensesTab(owner string) string { return "Expenses " + owner }
func SummaryTab(owner string) string  { return "Summary " + owner }

// ExpenseRows returns a header row followed by one row per expense, in input order.
func ExpenseRows(expenses []core.Expense) [][]any {
	rows := make([][]any, 0, len(expenses)+1)
	rows = append(rows, []any{"Date", "Description", "Category", "Amount", "Created"})
	for _, e := range expenses {
		created := ""
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []any{
			e.Date.String(),
			e.Description,
			e.Category,
			core.FormatAmount(e.Amount),
			created,
		})
	}
	return rows
}

// SummaryRows lays out the category table, the monthly table and the totals,
// separated by blank rows.
func SummaryRows(r core.AnalyticsResult) [][]any {
	rows := [][]any{{"Category", "Total", "Budget", "Remaining"}}
	for _, c := range r.ByCategory {
		rows = append(rows, []any{
			c.Name,
			core.FormatAmount(c.Total),
			core.FormatAmount(c.Budget),
			core.FormatAmount(c.Remaining()),
		})
	}

	rows = append(rows, []any{}, []any{"Month", "Label", "Total"})
	for _, m := range r.Monthly {
		rows = append(rows, []any{m.Key, m.Label, core.FormatAmount(m.Total)})
	}

	rows = append(rows,
		[]any{},
		[]any{"Total", core.FormatAmount(r.Total)},
		[]any{"Average monthly", core.FormatAmount(r.AverageMonthly)},
		[]any{"Expenses", r.Count},
	)
	return rows
}
