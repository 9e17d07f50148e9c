package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"shed-tournament/internal/auth"
	"shed-tournament/internal/config"
	"shed-tournament/internal/pkg/metrics"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups every area handler for routing.
type Handlers struct {
	Auth    *AuthHandler
	Players *PlayerHandler
	Matches *MatchHandler
	Seasons *SeasonHandler
	Stats   *StatsHandler
}

// NewRouter builds the HTTP API. Writes need a bearer token when
// auth.require_token is set.
func NewRouter(
	cfg *config.Config,
	logger zerolog.Logger,
	h Handlers,
	authn *auth.Authenticator,
	store Pinger,
	m *metrics.Metrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID(logger),
		Logging,
		Recovery,
		Instrument(m),
	)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Post("/login", h.Auth.HandleLogin)

	// Reads
	r.Get("/players", h.Players.HandleList)
	r.Get("/players/{playerID}", h.Players.HandleGet)
	r.Get("/matches", h.Matches.HandleList)
	r.Get("/seasons", h.Seasons.HandleList)
	r.Get("/auditlog", h.Stats.HandleAuditLog)
	r.Route("/stats", func(r chi.Router) {
		r.Get("/streaks", h.Stats.HandleStreaks)
		r.Get("/longest-streaks", h.Stats.HandleLongestStreaks)
		r.Get("/kd", h.Stats.HandleKD)
		r.Get("/most-matches-in-day", h.Stats.HandleMostMatchesInDay)
		r.Get("/totals", h.Stats.HandleTotals)
		r.Get("/matches-per-day", h.Stats.HandleMatchesPerDay)
		r.Get("/head-to-head", h.Stats.HandleHeadToHead)
	})

	// Writes
	r.Group(func(r chi.Router) {
		if cfg.Auth.RequireToken {
			r.Use(RequireToken(authn))
		}
		r.Post("/players", h.Players.HandleAdd)
		r.Put("/players/{playerID}", h.Players.HandleUpdate)
		r.Delete("/players/{playerID}", h.Players.HandleDelete)
		r.Post("/matches", h.Matches.HandleRecord)
		r.Post("/matches/{matchID}/undo", h.Matches.HandleUndo)
		r.Post("/seasons", h.Seasons.HandleStart)
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", adminHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(r)
}
