package domain

import "time"

// SortOrder is the requested iteration order for range queries.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// DefaultQueryLimit bounds the span of a resolved block range when the
// caller does not supply an explicit limit.
const DefaultQueryLimit = 10

// BlockSelector carries the heterogeneous query parameters a caller may use
// to identify a block window. Zero values mean "not supplied".
type BlockSelector struct {
	// BlockID is either a block hash (64+ hex characters) or a decimal height.
	BlockID string
	// Date selects the single calendar day [Date, Date+24h).
	Date time.Time
	// StartDate and EndDate select an explicit date range.
	StartDate time.Time
	EndDate   time.Time
	// Since is a height cursor; the window becomes [Since, Since+Limit].
	Since *uint64
	// Limit caps the span of the resolved range. Zero means DefaultQueryLimit.
	Limit uint64
	// Sort is the iteration order. Empty means SortDescending.
	Sort SortOrder
}

// EffectiveLimit returns the span cap to apply.
func (s BlockSelector) EffectiveLimit() uint64 {
	if s.Limit == 0 {
		return DefaultQueryLimit
	}
	return s.Limit
}

// EffectiveSort returns the iteration order to apply.
func (s BlockSelector) EffectiveSort() SortOrder {
	if s.Sort == "" {
		return SortDescending
	}
	return s.Sort
}
