package handler

import (
	"net/http"

	"shed-tournament/internal/service"
)

// SeasonHandler handles season listing and creation.
type SeasonHandler struct {
	seasons *service.SeasonService
}

// NewSeasonHandler creates a new SeasonHandler.
func NewSeasonHandler(seasons *service.SeasonService) *SeasonHandler {
	return &SeasonHandler{seasons: seasons}
}

// HandleList returns every season, current first.
func (h *SeasonHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	seasons, err := h.seasons.ListSeasons(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seasons)
}

// HandleStart starts a new current season. Admin only.
func (h *SeasonHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	season, err := h.seasons.StartSeason(r.Context(), req.Name, adminSecret(r, req.AdminPassword))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, season)
}
