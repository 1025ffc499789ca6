package core

import "github.com/shopspring/decimal"

// CategorySpending is the amount spent against one category and its budget.
type CategorySpending struct {
	Name   string          `json:"name"`
	Total  decimal.Decimal `json:"total"`
	Budget decimal.Decimal `json:"budget"`
}

// Remaining is the unspent part of the budget; negative when over budget.
func (c CategorySpending) Remaining() decimal.Decimal {
	return c.Budget.Sub(c.Total)
}

// OverBudget reports whether spending exceeds a positive budget.
func (c CategorySpending) OverBudget() bool {
	return c.Budget.IsPositive() && c.Total.GreaterThan(c.Budget)
}

// MonthlySpending is the total for one calendar month.
type MonthlySpending struct {
	Key   string          `json:"key"`   // "2024-01"
	Label string          `json:"label"` // "Jan"
	Year  int             `json:"year"`
	Month int             `json:"month"` // 1-12
	Total decimal.Decimal `json:"total"`
}

// AnalyticsResult is derived from a set of expenses and the known categories.
type AnalyticsResult struct {
	ByCategory     []CategorySpending `json:"byCategory"`
	Monthly        []MonthlySpending  `json:"monthly"`
	Total          decimal.Decimal    `json:"total"`
	AverageMonthly decimal.Decimal    `json:"averageMonthly"`
	Count          int                `json:"count"`
}
