package handler

import (
	"fmt"
	"net/http"

	"shed-tournament/internal/service"
)

// StatsHandler serves the derived statistics.
type StatsHandler struct {
	stats *service.StatsService
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(stats *service.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// serve writes a query's result as JSON, or its error.
func serve(query func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := query(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// HandleAuditLog returns the newest audit entries, ?limit= up to the
// configured maximum.
func (h *StatsHandler) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			return nil, err
		}
		return h.stats.ListAuditLog(r.Context(), int(limit))
	})(w, r)
}

// HandleStreaks returns active streaks, for ?season_id= or all time.
func (h *StatsHandler) HandleStreaks(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		seasonID, err := queryInt(r, "season_id")
		if err != nil {
			return nil, err
		}
		return h.stats.GetStreaks(r.Context(), seasonID)
	})(w, r)
}

// HandleLongestStreaks returns every player's record runs.
func (h *StatsHandler) HandleLongestStreaks(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		return h.stats.GetLongestStreaks(r.Context())
	})(w, r)
}

// HandleKD returns the win/loss ratio board.
func (h *StatsHandler) HandleKD(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		seasonID, err := queryInt(r, "season_id")
		if err != nil {
			return nil, err
		}
		return h.stats.GetKD(r.Context(), seasonID)
	})(w, r)
}

// HandleMostMatchesInDay returns the busiest player-day.
func (h *StatsHandler) HandleMostMatchesInDay(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		return h.stats.GetMostMatchesInDay(r.Context())
	})(w, r)
}

// HandleTotals returns the aggregate totals.
func (h *StatsHandler) HandleTotals(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		return h.stats.GetTotalStats(r.Context())
	})(w, r)
}

// HandleMatchesPerDay returns daily match counts, for ?player_id= or everyone.
func (h *StatsHandler) HandleMatchesPerDay(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		playerID, err := queryInt(r, "player_id")
		if err != nil {
			return nil, err
		}
		return h.stats.GetMatchesPerDay(r.Context(), playerID)
	})(w, r)
}

// HandleHeadToHead compares ?player1_id= and ?player2_id=.
func (h *StatsHandler) HandleHeadToHead(w http.ResponseWriter, r *http.Request) {
	serve(func(r *http.Request) (any, error) {
		p1, err := queryInt(r, "player1_id")
		if err != nil {
			return nil, err
		}
		p2, err := queryInt(r, "player2_id")
		if err != nil {
			return nil, err
		}
		if p1 == 0 || p2 == 0 {
			return nil, fmt.Errorf("%w: player1_id and player2_id are required", errBadRequest)
		}
		return h.stats.GetHeadToHead(r.Context(), p1, p2)
	})(w, r)
}
