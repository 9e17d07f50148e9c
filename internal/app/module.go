// Package app wires the service graph with fx.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"shed-tournament/internal/auth"
	"shed-tournament/internal/config"
	"shed-tournament/internal/handler"
	"shed-tournament/internal/logger"
	"shed-tournament/internal/pkg/db"
	"shed-tournament/internal/pkg/lock"
	"shed-tournament/internal/pkg/metrics"
	"shed-tournament/internal/rating"
	"shed-tournament/internal/repository"
	"shed-tournament/internal/server"
	"shed-tournament/internal/service"
)

// ConfigDir is where config.yaml is looked up.
const ConfigDir = "config"

// startupTimeout bounds connecting to and migrating the database.
const startupTimeout = 30 * time.Second

// ProvideConfig loads the configuration from ConfigDir.
func ProvideConfig() (*config.Config, error) {
	return config.Load(ConfigDir)
}

// ProvideStore opens the store selected by database.driver.
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (repository.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return repository.NewPostgresStore(pool.Pool), nil
}

// ProvidePinger exposes the store's health check to the router.
func ProvidePinger(store repository.Store) handler.Pinger {
	return store
}

// ProvideCalculator builds the rating calculator.
func ProvideCalculator(cfg *config.Config) *rating.Calculator {
	return rating.NewCalculator(cfg.Rating.KFactor, cfg.Rating.MinRating)
}

// ProvideAuthenticator builds the authenticator.
func ProvideAuthenticator(cfg *config.Config) *auth.Authenticator {
	return auth.NewAuthenticator(&cfg.Auth)
}

// ProvideAdminGate exposes the authenticator as the services' admin gate.
func ProvideAdminGate(a *auth.Authenticator) service.AdminGate {
	return a
}

// ProvideMatchService builds the match service with metrics attached.
func ProvideMatchService(
	cfg *config.Config,
	store repository.Store,
	locks *lock.PlayerLock,
	calc *rating.Calculator,
	m *metrics.Metrics,
) *service.MatchService {
	s := service.NewMatchService(store, locks, calc, cfg.Undo.Window, cfg.Lock.Timeout)
	s.SetMetrics(m)
	return s
}

// ProvidePlayerService builds the player service.
func ProvidePlayerService(cfg *config.Config, store repository.Store, locks *lock.PlayerLock, gate service.AdminGate) *service.PlayerService {
	return service.NewPlayerService(store, locks, gate, cfg.Rating.Default, cfg.Lock.Timeout)
}

// ProvideStatsService builds the read-side service.
func ProvideStatsService(cfg *config.Config, store repository.Store) *service.StatsService {
	return service.NewStatsService(store, cfg.Stats)
}

// ProvideHandlers groups the area handlers.
func ProvideHandlers(
	a *handler.AuthHandler,
	p *handler.PlayerHandler,
	m *handler.MatchHandler,
	s *handler.SeasonHandler,
	st *handler.StatsHandler,
) handler.Handlers {
	return handler.Handlers{Auth: a, Players: p, Matches: m, Seasons: s, Stats: st}
}

// Module provides the full application graph. Invoke server.Run to serve.
var Module = fx.Options(
	fx.Provide(ProvideConfig),
	fx.Provide(logger.New),
	fx.Provide(metrics.New),
	// store
	fx.Provide(ProvideStore),
	fx.Provide(ProvidePinger),
	fx.Provide(lock.NewPlayerLock),
	// core
	fx.Provide(ProvideCalculator),
	fx.Provide(ProvideAuthenticator),
	fx.Provide(ProvideAdminGate),
	// svc
	fx.Provide(ProvideMatchService),
	fx.Provide(ProvidePlayerService),
	fx.Provide(service.NewSeasonService),
	fx.Provide(ProvideStatsService),
	// http
	fx.Provide(handler.NewAuthHandler),
	fx.Provide(handler.NewPlayerHandler),
	fx.Provide(handler.NewMatchHandler),
	fx.Provide(handler.NewSeasonHandler),
	fx.Provide(handler.NewStatsHandler),
	fx.Provide(ProvideHandlers),
	fx.Provide(func(cfg *config.Config, log zerolog.Logger, h handler.Handlers, a *auth.Authenticator, p handler.Pinger, m *metrics.Metrics) http.Handler {
		return handler.NewRouter(cfg, log, h, a, p, m)
	}),
	fx.Provide(server.New),
)
