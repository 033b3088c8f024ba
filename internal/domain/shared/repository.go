package shared

import (
	"time"
)

// DateRange is an inclusive range of calendar dates.
// Both bounds are normalized to UTC midnight.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange creates a date range and normalizes its bounds
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: TruncateDate(from), To: TruncateDate(to)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate checks that both bounds are set and ordered
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return ErrInvalidRange.Withf("both bounds are required")
	}
	if r.To.Before(r.From) {
		return ErrInvalidRange.Withf("%s is after %s", r.From.Format(time.DateOnly), r.To.Format(time.DateOnly))
	}
	return nil
}

// TrailingDays returns the range of the last days calendar dates ending on
// now's date. days below one is treated as one.
func TrailingDays(now time.Time, days int) DateRange {
	to := TruncateDate(now)
	return DateRange{From: to.AddDate(0, 0, -(max(days, 1) - 1)), To: to}
}

// TruncateDate returns the UTC midnight of t's calendar date (in t's own location).
func TruncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Paginated represents a paginated result
type Paginated[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginated creates a new paginated result
func NewPaginated[T any](items []T, total int64, page, pageSize int) Paginated[T] {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPages++
		}
	}
	return Paginated[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

// Page normalizes page/pageSize values
func Page(page, pageSize, maxPageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
