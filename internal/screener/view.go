package screener

import (
	"sort"
	"strings"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// SortMode selects the screener ordering.
type SortMode string

const (
	// SortOptimal orders by funding interval ascending (shorter cadences
	// collect sooner), then gross spread descending.
	SortOptimal SortMode = "optimal"
	// SortSpread orders by gross spread descending.
	SortSpread SortMode = "spread"
	// SortInterval orders by next funding time ascending, nulls last.
	SortInterval SortMode = "interval"
)

// ParseSortMode maps a query-string value to a SortMode, defaulting to
// SortOptimal for unknown input.
func ParseSortMode(s string) SortMode {
	switch SortMode(s) {
	case SortSpread:
		return SortSpread
	case SortInterval:
		return SortInterval
	default:
		return SortOptimal
	}
}

// Page is one page of a screener listing.
type Page struct {
	Data        []domain.Opportunity `json:"data"`
	TotalPages  int                  `json:"total_pages"`
	CurrentPage int                  `json:"current_page"`
	TotalItems  int                  `json:"total_items"`
}

// Filter returns the opportunities whose symbol contains the query,
// case-insensitively. An empty query returns the input unchanged.
func Filter(opps []domain.Opportunity, query string) []domain.Opportunity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return opps
	}
	out := make([]domain.Opportunity, 0, len(opps))
	for _, opp := range opps {
		if strings.Contains(strings.ToLower(opp.Symbol), q) {
			out = append(out, opp)
		}
	}
	return out
}

// Sort orders opportunities in place according to mode.
func Sort(opps []domain.Opportunity, mode SortMode) {
	switch mode {
	case SortSpread:
		sort.SliceStable(opps, func(i, j int) bool {
			return opps[i].GrossSpread > opps[j].GrossSpread
		})
	case SortInterval:
		sort.SliceStable(opps, func(i, j int) bool {
			ti, tj := opps[i].NextFundingTime, opps[j].NextFundingTime
			switch {
			case ti == nil:
				return false
			case tj == nil:
				return true
			default:
				return ti.Before(*tj)
			}
		})
	default:
		sort.SliceStable(opps, func(i, j int) bool {
			if opps[i].IntervalHours != opps[j].IntervalHours {
				return opps[i].IntervalHours < opps[j].IntervalHours
			}
			return opps[i].GrossSpread > opps[j].GrossSpread
		})
	}
}

// Paginate slices opps into the requested page. Pages are 1-based; the page
// number is clamped into range and limit must be positive (non-positive
// limits collapse to a single page).
func Paginate(opps []domain.Opportunity, page, limit int) Page {
	total := len(opps)

	totalPages := 1
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
		if totalPages < 1 {
			totalPages = 1
		}
	} else {
		limit = total
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * limit
	end := start + limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Page{
		Data:        opps[start:end],
		TotalPages:  totalPages,
		CurrentPage: page,
		TotalItems:  total,
	}
}
