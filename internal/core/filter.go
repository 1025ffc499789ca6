package core

// AllCategories is the category filter value that disables category matching.
const AllCategories = "all"

// DateRangePreset selects a window relative to the day the filter is evaluated.
type DateRangePreset string

const (
	RangeAll   DateRangePreset = "all"
	RangeToday DateRangePreset = "today"
	RangeWeek  DateRangePreset = "week"
	RangeMonth DateRangePreset = "month"
	RangeYear  DateRangePreset = "year"
)

// AmountRange is a bucket of expense amounts.
type AmountRange string

const (
	AmountAll        AmountRange = "all"
	AmountUpTo100    AmountRange = "0-100"
	Amount100To500   AmountRange = "100-500"
	Amount500To1000  AmountRange = "500-1000"
	AmountFrom1000Up AmountRange = "1000+"
)

// Filter describes which expenses are visible. The zero value matches everything.
type Filter struct {
	Category    string          `json:"category,omitempty"`
	StartDate   *Date           `json:"startDate,omitempty"`
	EndDate     *Date           `json:"endDate,omitempty"`
	SearchTerm  string          `json:"searchTerm,omitempty"`
	DateRange   DateRangePreset `json:"dateRange,omitempty"`
	AmountRange AmountRange     `json:"amountRange,omitempty"`
}

// IsValid reports whether the preset is one of the known values (empty counts as all).
func (p DateRangePreset) IsValid() bool {
	switch p {
	case "", RangeAll, RangeToday, RangeWeek, RangeMonth, RangeYear:
		return true
	default:
		return false
	}
}

// IsValid reports whether the bucket is one of the known values (empty counts as all).
func (r AmountRange) IsValid() bool {
	switch r {
	case "", AmountAll, AmountUpTo100, Amount100To500, Amount500To1000, AmountFrom1000Up:
		return true
	default:
		return false
	}
}
