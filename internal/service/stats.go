package service

import (
	"context"
	"fmt"
	"slices"

	"shed-tournament/internal/config"
	"shed-tournament/internal/model"
	"shed-tournament/internal/repository"
	"shed-tournament/internal/stats"
)

// StatsService answers read queries. Everything is derived from the
// ledger on each call; nothing here writes.
type StatsService struct {
	store repository.Store
	cfg   config.StatsConfig
}

// NewStatsService creates a new StatsService instance.
func NewStatsService(store repository.Store, cfg config.StatsConfig) *StatsService {
	return &StatsService{store: store, cfg: cfg}
}

// history returns the non-undone matches matching f, oldest first.
func (s *StatsService) history(ctx context.Context, f repository.MatchFilter) ([]*model.Match, error) {
	matches, err := s.store.ListMatches(ctx, f)
	if err != nil {
		return nil, classify("list matches", err)
	}
	slices.Reverse(matches)
	return matches, nil
}

func (s *StatsService) checkSeason(ctx context.Context, seasonID int64) error {
	if seasonID == model.AllTimeSeason {
		return nil
	}
	_, err := s.store.GetSeason(ctx, seasonID)
	return classify("get season", err)
}

func (s *StatsService) livePlayers(ctx context.Context) ([]*model.Player, error) {
	players, err := s.store.ListPlayers(ctx, false)
	return players, classify("list players", err)
}

// ListPlayers returns the standings for a season, or all time for season 0.
func (s *StatsService) ListPlayers(ctx context.Context, seasonID int64) ([]stats.Standing, error) {
	if err := s.checkSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	players, err := s.livePlayers(ctx)
	if err != nil {
		return nil, err
	}
	seasonStats, err := s.store.ListSeasonStats(ctx, seasonID)
	if err != nil {
		return nil, classify("list season stats", err)
	}
	return stats.Standings(players, seasonStats, s.cfg.RankedMinMatches), nil
}

// ListAuditLog returns the newest entries. Limits outside 1..AuditLogLimit
// fall back to AuditLogLimit.
func (s *StatsService) ListAuditLog(ctx context.Context, limit int) ([]*model.AuditLogEntry, error) {
	if limit <= 0 || limit > s.cfg.AuditLogLimit {
		limit = s.cfg.AuditLogLimit
	}
	entries, err := s.store.ListAuditLog(ctx, limit)
	return entries, classify("list audit log", err)
}

// ListMatches returns the most recent non-undone matches, newest first.
func (s *StatsService) ListMatches(ctx context.Context, limit int) ([]*model.Match, error) {
	matches, err := s.store.ListMatches(ctx, repository.MatchFilter{Limit: max(limit, 0)})
	return matches, classify("list matches", err)
}

// GetStreaks returns active streaks of two or more within a season.
func (s *StatsService) GetStreaks(ctx context.Context, seasonID int64) ([]stats.ActiveStreak, error) {
	if err := s.checkSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	players, err := s.livePlayers(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := s.history(ctx, repository.MatchFilter{SeasonID: seasonID})
	if err != nil {
		return nil, err
	}
	return stats.ActiveStreaks(players, matches), nil
}

// GetLongestStreaks returns every player's longest win and loss runs.
func (s *StatsService) GetLongestStreaks(ctx context.Context) ([]stats.LongestStreak, error) {
	players, err := s.livePlayers(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := s.history(ctx, repository.MatchFilter{})
	if err != nil {
		return nil, err
	}
	return stats.LongestStreaks(players, matches), nil
}

// GetKD returns the win/loss ratio board for a season.
func (s *StatsService) GetKD(ctx context.Context, seasonID int64) ([]stats.KD, error) {
	if err := s.checkSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	players, err := s.livePlayers(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := s.history(ctx, repository.MatchFilter{SeasonID: seasonID})
	if err != nil {
		return nil, err
	}
	return stats.KDs(players, matches, s.cfg.KDBoardSize), nil
}

// GetMostMatchesInDay returns the single busiest player-day on record.
func (s *StatsService) GetMostMatchesInDay(ctx context.Context) (stats.DayRecord, error) {
	players, err := s.store.ListPlayers(ctx, true)
	if err != nil {
		return stats.DayRecord{}, classify("list players", err)
	}
	matches, err := s.history(ctx, repository.MatchFilter{})
	if err != nil {
		return stats.DayRecord{}, err
	}
	return stats.MostMatchesInDay(players, matches, s.cfg.Location()), nil
}

// GetTotalStats returns the aggregate totals.
func (s *StatsService) GetTotalStats(ctx context.Context) (stats.Totals, error) {
	matches, err := s.history(ctx, repository.MatchFilter{})
	if err != nil {
		return stats.Totals{}, err
	}
	return stats.TotalStats(matches, s.cfg.PricePerMatch, s.cfg.MinutesPerMatch), nil
}

// GetMatchesPerDay counts matches per day, for one player when playerID is
// non-zero.
func (s *StatsService) GetMatchesPerDay(ctx context.Context, playerID int64) ([]stats.DayCount, error) {
	if playerID != 0 {
		if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
			return nil, classify("get player", err)
		}
	}
	matches, err := s.history(ctx, repository.MatchFilter{PlayerID: playerID})
	if err != nil {
		return nil, err
	}
	return stats.MatchesPerDay(matches, playerID, s.cfg.Location()), nil
}

// GetHeadToHead compares two players over the matches they played against
// each other.
func (s *StatsService) GetHeadToHead(ctx context.Context, player1, player2 int64) (stats.HeadToHead, error) {
	if player1 == player2 {
		return stats.HeadToHead{}, fmt.Errorf("%w: head-to-head needs two different players", ErrInvalidMatch)
	}
	p1, err := s.store.GetPlayer(ctx, player1)
	if err != nil {
		return stats.HeadToHead{}, classify("get player", err)
	}
	p2, err := s.store.GetPlayer(ctx, player2)
	if err != nil {
		return stats.HeadToHead{}, classify("get player", err)
	}
	matches, err := s.history(ctx, repository.MatchFilter{PlayerID: player1})
	if err != nil {
		return stats.HeadToHead{}, err
	}
	return stats.HeadToHeadStats(p1, p2, matches, s.cfg.Location()), nil
}
