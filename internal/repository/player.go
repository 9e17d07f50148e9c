package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"shed-tournament/internal/model"
)

const playerColumns = `
	id, name, rating, total_matches, wins, losses,
	streak_type, streak_length, streak_delta,
	recently_pantsed, deleted_at, created_at, updated_at`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var (
		p          model.Player
		streakType string
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Rating,
		&p.TotalMatches,
		&p.Wins,
		&p.Losses,
		&streakType,
		&p.Streak.Length,
		&p.Streak.CumulativeDelta,
		&p.RecentlyPantsed,
		&p.DeletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Streak.Type = model.StreakType(streakType)
	p.Deleted = p.DeletedAt != nil
	return &p, nil
}

func collectPlayers(rows pgx.Rows) ([]*model.Player, error) {
	defer rows.Close()

	var players []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating players: %w", err)
	}
	return players, nil
}

// GetPlayer retrieves a player by ID, soft-deleted or not.
func (q *queries) GetPlayer(ctx context.Context, id int64) (*model.Player, error) {
	query := `SELECT` + playerColumns + ` FROM players WHERE id = $1`

	p, err := scanPlayer(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// ListPlayers retrieves players ordered by ID.
func (q *queries) ListPlayers(ctx context.Context, includeDeleted bool) ([]*model.Player, error) {
	query := `SELECT` + playerColumns + ` FROM players WHERE ($1 OR deleted_at IS NULL) ORDER BY id`

	rows, err := q.db.Query(ctx, query, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return collectPlayers(rows)
}

// LockPlayers selects the players FOR UPDATE in id order.
func (q *queries) LockPlayers(ctx context.Context, ids []int64) ([]*model.Player, error) {
	query := `SELECT` + playerColumns + ` FROM players WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	rows, err := q.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock players: %w", err)
	}
	players, err := collectPlayers(rows)
	if err != nil {
		return nil, err
	}

	found := make(map[int64]bool, len(players))
	for _, p := range players {
		found[p.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, fmt.Errorf("%w: %d", ErrPlayerNotFound, id)
		}
	}
	return players, nil
}

// CreatePlayer inserts a new player with the given starting rating.
func (q *queries) CreatePlayer(ctx context.Context, name string, rating int, now time.Time) (*model.Player, error) {
	query := `
		INSERT INTO players (name, rating, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING` + playerColumns

	p, err := scanPlayer(q.db.QueryRow(ctx, query, name, rating, now))
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return p, nil
}

// SavePlayer writes back every mutable column of p.
func (q *queries) SavePlayer(ctx context.Context, p *model.Player) error {
	const query = `
		UPDATE players
		SET name = $2, rating = $3, total_matches = $4, wins = $5, losses = $6,
		    streak_type = $7, streak_length = $8, streak_delta = $9,
		    recently_pantsed = $10, updated_at = $11
		WHERE id = $1
	`

	tag, err := q.db.Exec(ctx, query,
		p.ID,
		p.Name,
		p.Rating,
		p.TotalMatches,
		p.Wins,
		p.Losses,
		string(p.Streak.Type),
		p.Streak.Length,
		p.Streak.CumulativeDelta,
		p.RecentlyPantsed,
		p.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to save player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// SoftDeletePlayer stamps deleted_at; the row and its history stay.
func (q *queries) SoftDeletePlayer(ctx context.Context, id int64, at time.Time) error {
	const query = `
		UPDATE players SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	tag, err := q.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// ListSeasonStats returns per-player counters for a season, or summed over
// all seasons for model.AllTimeSeason.
func (q *queries) ListSeasonStats(ctx context.Context, seasonID int64) ([]model.SeasonStats, error) {
	const query = `
		SELECT player_id, $1::BIGINT, SUM(matches)::INT, SUM(wins)::INT, SUM(losses)::INT, SUM(rating_change)::INT
		FROM player_season_stats
		WHERE $1 = 0 OR season_id = $1
		GROUP BY player_id
		HAVING SUM(matches) > 0
		ORDER BY player_id
	`

	rows, err := q.db.Query(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list season stats: %w", err)
	}
	defer rows.Close()

	var stats []model.SeasonStats
	for rows.Next() {
		var s model.SeasonStats
		if err := rows.Scan(&s.PlayerID, &s.SeasonID, &s.Matches, &s.Wins, &s.Losses, &s.RatingChange); err != nil {
			return nil, fmt.Errorf("failed to scan season stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating season stats: %w", err)
	}
	return stats, nil
}

// AddSeasonStats upserts the delta into the player's season row.
func (q *queries) AddSeasonStats(ctx context.Context, d model.SeasonStats) error {
	const query = `
		INSERT INTO player_season_stats (player_id, season_id, matches, wins, losses, rating_change)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (player_id, season_id) DO UPDATE SET
			matches = player_season_stats.matches + EXCLUDED.matches,
			wins = player_season_stats.wins + EXCLUDED.wins,
			losses = player_season_stats.losses + EXCLUDED.losses,
			rating_change = player_season_stats.rating_change + EXCLUDED.rating_change
	`

	if _, err := q.db.Exec(ctx, query, d.PlayerID, d.SeasonID, d.Matches, d.Wins, d.Losses, d.RatingChange); err != nil {
		return fmt.Errorf("failed to update season stats: %w", err)
	}
	return nil
}
