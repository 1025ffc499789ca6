package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type (
	Date struct {
		time.Time
	}

	// Expense is a single spending record. Category refers to a Category by name.
	Expense struct {
		ID          string          `json:"id"`
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"`
		Date        Date            `json:"date"`
		CreatedAt   time.Time       `json:"createdAt"`
		UserID      string          `json:"userId"`
	}

	// Category is a user-defined spending bucket with a monthly budget.
	Category struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Budget decimal.Decimal `json:"budget"`
		UserID string          `json:"userId"`
	}

	// ExpenseInput carries raw, unvalidated form values.
	ExpenseInput struct {
		Description string `json:"description"`
		Amount      string `json:"amount"`
		Category    string `json:"category"`
		Date        string `json:"date"`
	}

	CategoryInput struct {
		Name   string `json:"name"`
		Budget string `json:"budget"`
	}
)

var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyName          = errors.New("empty category name")
	ErrDuplicateCategory  = errors.New("category already exists")
)

// ValidationError reports which input field was rejected and why.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err was produced by input validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp, keeping only the date part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrInvalidDate
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Compare orders two dates by calendar day, ignoring time of day and location.
func (d Date) Compare(other Date) int {
	a := d.Year()*10000 + d.Month()*100 + d.Day()
	b := other.Year()*10000 + other.Month()*100 + other.Day()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON tolerates malformed values by leaving the date zero; a zero date
// simply never matches a date filter.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		*d = Date{}
		return nil
	}
	*d = parsed
	return nil
}

// NewExpense validates raw input and stamps identity, owner and creation time.
func NewExpense(in ExpenseInput, userID string, now time.Time) (Expense, error) {
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Expense{}, invalid("amount", err)
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return Expense{}, invalid("date", err)
	}
	e := Expense{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(in.Description),
		Amount:      amount,
		Category:    strings.TrimSpace(in.Category),
		Date:        date,
		CreatedAt:   now.UTC(),
		UserID:      userID,
	}
	if err := e.Validate(); err != nil {
		return Expense{}, err
	}
	return e, nil
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return invalid("description", ErrEmptyDescription)
	}
	if utf8.RuneCountInString(e.Description) > 200 {
		return invalid("description", ErrDescriptionTooLong)
	}
	if e.Amount.IsNegative() {
		return invalid("amount", ErrInvalidAmount)
	}
	if strings.TrimSpace(e.Category) == "" {
		return invalid("category", ErrEmptyCategory)
	}
	if err := e.Date.Validate(); err != nil {
		return invalid("date", err)
	}
	return nil
}

// NewCategory trims the name and normalizes the budget; an unparsable budget becomes zero.
func NewCategory(in CategoryInput, userID string) (Category, error) {
	c := Category{
		ID:     uuid.NewString(),
		Name:   strings.TrimSpace(in.Name),
		Budget: ParseBudget(in.Budget),
		UserID: userID,
	}
	if err := c.Validate(); err != nil {
		return Category{}, err
	}
	return c, nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	return nil
}

// SameName compares category names the way uniqueness is enforced.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
