package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/screener"
)

const (
	defaultScreenerLimit = 10
	maxScreenerLimit     = 100
)

// ScreenerHandler serves the paginated funding-spread listing.
type ScreenerHandler struct {
	source  SnapshotSource
	matcher *screener.Matcher
	nameA   string
	nameB   string
	logger  *slog.Logger
}

// NewScreenerHandler creates a ScreenerHandler. nameA and nameB are the venue
// names used as JSON key prefixes in rows, matching snapshot section order.
func NewScreenerHandler(source SnapshotSource, matcher *screener.Matcher, nameA, nameB string, logger *slog.Logger) *ScreenerHandler {
	return &ScreenerHandler{
		source:  source,
		matcher: matcher,
		nameA:   nameA,
		nameB:   nameB,
		logger:  logger,
	}
}

// List returns one page of opportunities with server-side search, sort and
// pagination.
// GET /api/screener?page=&limit=&search=&sort_by=
func (h *ScreenerHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	limit := defaultScreenerLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxScreenerLimit {
		limit = maxScreenerLimit
	}

	snap := h.source.Snapshot(r.Context())
	opps := h.matcher.Match(snap)
	opps = screener.Filter(opps, q.Get("search"))
	screener.Sort(opps, screener.ParseSortMode(q.Get("sort_by")))
	pg := screener.Paginate(opps, page, limit)

	rows := make([]map[string]any, 0, len(pg.Data))
	for _, opp := range pg.Data {
		rows = append(rows, h.row(opp))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":         rows,
		"total_pages":  pg.TotalPages,
		"current_page": pg.CurrentPage,
		"total_items":  pg.TotalItems,
	})
}

// row flattens one opportunity into the wire shape. Rate keys are prefixed
// with the venue name so dashboards can label columns without extra lookups.
func (h *ScreenerHandler) row(opp domain.Opportunity) map[string]any {
	var nextFunding *string
	if opp.NextFundingTime != nil {
		s := opp.NextFundingTime.UTC().Format(time.RFC3339)
		nextFunding = &s
	}

	return map[string]any{
		"symbol":             opp.Symbol,
		h.nameA + "_rate":    opp.RateA,
		h.nameB + "_rate":    opp.RateB,
		"funding_interval":   opp.IntervalHours,
		"gross_spread":       opp.GrossSpread,
		"recommended_action": opp.Action,
		"next_funding_time":  nextFunding,
	}
}
