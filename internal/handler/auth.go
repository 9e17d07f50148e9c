package handler

import (
	"errors"
	"net/http"

	"shed-tournament/internal/auth"
)

// AuthHandler handles the app login.
type AuthHandler struct {
	authn *auth.Authenticator
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authn *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authn: authn}
}

type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin exchanges the app password for a bearer token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.authn.Login(req.Password)
	if errors.Is(err, auth.ErrWrongPassword) {
		writeJSON(w, http.StatusUnauthorized, errorOf(r, "incorrect password"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}
