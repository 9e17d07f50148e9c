package handler

import (
	"net/http"

	"shed-tournament/internal/service"
)

// adminHeader carries the admin password on privileged requests.
const adminHeader = "X-Admin-Secret"

// PlayerHandler handles player administration.
type PlayerHandler struct {
	players *service.PlayerService
	stats   *service.StatsService
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(players *service.PlayerService, stats *service.StatsService) *PlayerHandler {
	return &PlayerHandler{players: players, stats: stats}
}

type playerRequest struct {
	Name string `json:"name"`
	// AdminPassword is accepted in the body when the header is absent.
	AdminPassword string `json:"admin_password,omitempty"`
}

func adminSecret(r *http.Request, body string) string {
	if s := r.Header.Get(adminHeader); s != "" {
		return s
	}
	return body
}

// HandleList returns the standings, for ?season_id= or all time.
func (h *PlayerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	seasonID, err := queryInt(r, "season_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	standings, err := h.stats.ListPlayers(r.Context(), seasonID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standings)
}

// HandleGet returns one player.
func (h *PlayerHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "playerID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.players.GetPlayer(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleAdd creates a player.
func (h *PlayerHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.players.AddPlayer(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleUpdate renames a player.
func (h *PlayerHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "playerID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.players.UpdatePlayer(r.Context(), id, req.Name, adminSecret(r, req.AdminPassword))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDelete soft-deletes a player.
func (h *PlayerHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "playerID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.players.DeletePlayer(r.Context(), id, adminSecret(r, "")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
