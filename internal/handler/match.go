package handler

import (
	"net/http"

	"shed-tournament/internal/model"
	"shed-tournament/internal/service"
)

const defaultMatchLimit = 20

// MatchHandler handles match recording, undo and the recent match list.
type MatchHandler struct {
	matches *service.MatchService
	stats   *service.StatsService
}

// NewMatchHandler creates a new MatchHandler.
func NewMatchHandler(matches *service.MatchService, stats *service.StatsService) *MatchHandler {
	return &MatchHandler{matches: matches, stats: stats}
}

// recordMatchRequest accepts an explicit mode or the is_doubles shorthand.
type recordMatchRequest struct {
	Mode      model.Mode `json:"mode"`
	IsDoubles bool       `json:"is_doubles"`
	WinnerIDs []int64    `json:"winner_ids"`
	LoserIDs  []int64    `json:"loser_ids"`
	SeasonID  int64      `json:"season_id"`
	RequestID string     `json:"request_id"`
	model.Flags
}

func (req recordMatchRequest) toService(r *http.Request) service.RecordMatchRequest {
	mode := req.Mode
	if mode == "" {
		mode = model.ModeSingles
		if req.IsDoubles {
			mode = model.ModeDoubles
		}
	}
	// Only a key the client chose makes a retry idempotent; the id minted
	// by the middleware is unique per attempt.
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = req.RequestID
	}
	return service.RecordMatchRequest{
		Mode:      mode,
		WinnerIDs: req.WinnerIDs,
		LoserIDs:  req.LoserIDs,
		SeasonID:  req.SeasonID,
		Flags:     req.Flags,
		RequestID: requestID,
	}
}

// HandleRecord records a match. A replayed request id answers 200 with the
// stored result instead of 201.
func (h *MatchHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordMatchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.matches.RecordMatch(r.Context(), req.toService(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// HandleUndo reverts the most recent match.
func (h *MatchHandler) HandleUndo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "matchID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.matches.UndoMatch(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleList returns recent matches, newest first.
func (h *MatchHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultMatchLimit
	}
	matches, err := h.stats.ListMatches(r.Context(), int(limit))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
