// Package analytics derives per-category, per-month and overall spending figures.
package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

// Aggregate computes the analytics for expenses against the known categories.
//
// Category totals follow the order of categories; a name listed twice keeps the
// first entry. Expenses whose category matches no name count toward Total and
// their month but toward no category. Expenses without a date count toward Total only.
func Aggregate(expenses []core.Expense, categories []core.Category) core.AnalyticsResult {
	res := core.AnalyticsResult{
		ByCategory:     make([]core.CategorySpending, 0, len(categories)),
		Monthly:        []core.MonthlySpending{},
		Total:          decimal.Zero,
		AverageMonthly: decimal.Zero,
		Count:          len(expenses),
	}

	byName := make(map[string]int, len(categories))
	for _, c := range categories {
		if _, dup := byName[c.Name]; dup {
			continue
		}
		byName[c.Name] = len(res.ByCategory)
		res.ByCategory = append(res.ByCategory, core.CategorySpending{
			Name:   c.Name,
			Total:  decimal.Zero,
			Budget: c.Budget,
		})
	}

	byMonth := make(map[string]int)
	for _, e := range expenses {
		res.Total = res.Total.Add(e.Amount)

		if i, ok := byName[e.Category]; ok {
			res.ByCategory[i].Total = res.ByCategory[i].Total.Add(e.Amount)
		}

		if e.Date.IsZero() {
			continue
		}
		key := monthKey(e.Date)
		i, ok := byMonth[key]
		if !ok {
			i = len(res.Monthly)
			byMonth[key] = i
			res.Monthly = append(res.Monthly, core.MonthlySpending{
				Key:   key,
				Label: e.Date.Time.Month().String()[:3],
				Year:  e.Date.Year(),
				Month: e.Date.Month(),
				Total: decimal.Zero,
			})
		}
		res.Monthly[i].Total = res.Monthly[i].Total.Add(e.Amount)
	}

	if n := len(res.Monthly); n > 0 {
		res.AverageMonthly = res.Total.Div(decimal.NewFromInt(int64(n)))
	}
	return res
}

func monthKey(d core.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year(), d.Month())
}
