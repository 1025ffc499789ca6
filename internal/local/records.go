package local

import (
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

// amount is written as a bare JSON number, the way the browser client stored it.
// Quoted amounts from older blobs still decode.
type amount struct {
	decimal.Decimal
}

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

type expenseRecord struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      amount    `json:"amount"`
	Category    string    `json:"category"`
	Date        core.Date `json:"date"`
	CreatedAt   time.Time `json:"createdAt"`
	UserID      string    `json:"userId,omitempty"`
}

type categoryRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Budget amount `json:"budget"`
	UserID string `json:"userId,omitempty"`
}

func expenseToRecord(e core.Expense) expenseRecord {
	return expenseRecord{
		ID:          e.ID,
		Description: e.Description,
		Amount:      amount{e.Amount},
		Category:    e.Category,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
		UserID:      e.UserID,
	}
}

// expense converts a stored record; older blobs carry no owner.
func (r expenseRecord) expense(owner string) core.Expense {
	return core.Expense{
		ID:          r.ID,
		Description: r.Description,
		Amount:      r.Amount.Decimal,
		Category:    r.Category,
		Date:        r.Date,
		CreatedAt:   r.CreatedAt,
		UserID:      owner,
	}
}

func categoryToRecord(c core.Category) categoryRecord {
	return categoryRecord{ID: c.ID, Name: c.Name, Budget: amount{c.Budget}, UserID: c.UserID}
}

func (r categoryRecord) category(owner string) core.Category {
	budget := r.Budget.Decimal
	if budget.IsNegative() {
		budget = decimal.Zero
	}
	return core.Category{ID: r.ID, Name: r.Name, Budget: budget, UserID: owner}
}
