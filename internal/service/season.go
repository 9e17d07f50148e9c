package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"shed-tournament/internal/model"
	"shed-tournament/internal/repository"
)

// SeasonService manages seasons. Matches always land in the current one
// unless a request names another.
type SeasonService struct {
	store repository.Store
	gate  AdminGate
	now   func() time.Time
}

// NewSeasonService creates a new SeasonService instance.
func NewSeasonService(store repository.Store, gate AdminGate) *SeasonService {
	return &SeasonService{store: store, gate: gate, now: time.Now}
}

// ListSeasons returns every season, current first.
func (s *SeasonService) ListSeasons(ctx context.Context) ([]*model.Season, error) {
	seasons, err := s.store.ListSeasons(ctx)
	return seasons, classify("list seasons", err)
}

// CurrentSeason returns the season new matches are recorded in.
func (s *SeasonService) CurrentSeason(ctx context.Context) (*model.Season, error) {
	season, err := s.store.CurrentSeason(ctx)
	return season, classify("get current season", err)
}

// StartSeason creates a new season and makes it current.
func (s *SeasonService) StartSeason(ctx context.Context, name, adminSecret string) (*model.Season, error) {
	if !s.gate.Authorize(adminSecret) {
		return nil, ErrUnauthorized
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	var season *model.Season
	err = s.store.WithTx(ctx, func(l repository.Ledger) error {
		now := s.now()
		var err error
		if season, err = l.CreateSeason(ctx, name, now); err != nil {
			return err
		}
		return l.AppendAudit(ctx, &model.AuditLogEntry{
			Timestamp: now,
			Text:      fmt.Sprintf("Season %s started", season.Name),
		})
	})
	if err != nil {
		return nil, classify("start season", err)
	}

	zerolog.Ctx(ctx).Info().Int64("season_id", season.ID).Str("name", season.Name).Msg("Season started")
	return season, nil
}
