package sheets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

func TestExpenseRows(t *testing.T) {
	created := time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC)
	rows := ExpenseRows([]core.Expense{
		{Description: "Groceries", Amount: decimal.RequireFromString("50"), Category: "Food", Date: core.NewDate(2024, 1, 5), CreatedAt: created},
		{Description: "Bus", Amount: decimal.RequireFromString("2.5"), Category: "Transport"},
	})

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "Date" || rows[0][3] != "Amount" {
		t.Errorf("unexpected header %v", rows[0])
	}
	want := []any{"2024-01-05", "Groceries", "Food", "50.00", "2024-01-05T09:30:00Z"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Errorf("row 1 col %d = %v, want %v", i, rows[1][i], v)
		}
	}
	if rows[2][0] != "" || rows[2][4] != "" {
		t.Errorf("undated expense should render empty cells, got %v", rows[2])
	}
	if rows[2][3] != "2.50" {
		t.Errorf("amount = %v, want 2.50", rows[2][3])
	}
}

func TestSummaryRows(t *testing.T) {
	r := core.AnalyticsResult{
		ByCategory: []core.CategorySpending{
			{Name: "Food", Total: decimal.NewFromInt(80), Budget: decimal.NewFromInt(50)},
			{Name: "Transport", Total: decimal.NewFromInt(20), Budget: decimal.Zero},
		},
		Monthly: []core.MonthlySpending{
			{Key: "2024-01", Label: "Jan", Year: 2024, Month: 1, Total: decimal.NewFromInt(70)},
			{Key: "2024-02", Label: "Feb", Year: 2024, Month: 2, Total: decimal.NewFromInt(30)},
		},
		Total:          decimal.NewFromInt(100),
		AverageMonthly: decimal.NewFromInt(50),
		Count:          3,
	}
	rows := SummaryRows(r)

	if got := rows[1]; got[0] != "Food" || got[3] != "-30.00" {
		t.Errorf("food row = %v", got)
	}
	if len(rows[3]) != 0 {
		t.Errorf("expected blank separator, got %v", rows[3])
	}
	if got := rows[5]; got[0] != "2024-01" || got[1] != "Jan" || got[2] != "70.00" {
		t.Errorf("january row = %v", got)
	}
	last := rows[len(rows)-1]
	if last[0] != "Expenses" || last[1] != 3 {
		t.Errorf("count row = %v", last)
	}
	total := rows[len(rows)-3]
	if total[0] != "Total" || total[1] != "100.00" {
		t.Errorf("total row = %v", total)
	}
}

func TestTabNames(t *testing.T) {
	if got := ExpensesTab("u1"); got != "Expenses u1" {
		t.Errorf("ExpensesTab() = %q", got)
	}
	if got := SummaryTab("u1"); got != "Summary u1" {
		t.Errorf("SummaryTab() = %q", got)
	}
}
