package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"shed-tournament/internal/model"
)

const seasonColumns = `id, name, sort_order, created_at`

func scanSeason(row pgx.Row) (*model.Season, error) {
	var s model.Season
	if err := row.Scan(&s.ID, &s.Name, &s.SortOrder, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSeasons retrieves all seasons, current first.
func (q *queries) ListSeasons(ctx context.Context) ([]*model.Season, error) {
	const query = `SELECT ` + seasonColumns + ` FROM seasons ORDER BY sort_order, id DESC`

	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	defer rows.Close()

	var seasons []*model.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		seasons = append(seasons, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seasons: %w", err)
	}
	return seasons, nil
}

// GetSeason retrieves a season by ID.
func (q *queries) GetSeason(ctx context.Context, id int64) (*model.Season, error) {
	const query = `SELECT ` + seasonColumns + ` FROM seasons WHERE id = $1`

	s, err := scanSeason(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeasonNotFound
		}
		return nil, fmt.Errorf("failed to get season: %w", err)
	}
	return s, nil
}

// CurrentSeason retrieves the season with the lowest sort order.
func (q *queries) CurrentSeason(ctx context.Context) (*model.Season, error) {
	const query = `SELECT ` + seasonColumns + ` FROM seasons ORDER BY sort_order, id DESC LIMIT 1`

	s, err := scanSeason(q.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeasonNotFound
		}
		return nil, fmt.Errorf("failed to get current season: %w", err)
	}
	return s, nil
}

// CreateSeason shifts every season back one place and inserts the new
// current season at sort order 0.
func (q *queries) CreateSeason(ctx context.Context, name string, now time.Time) (*model.Season, error) {
	if _, err := q.db.Exec(ctx, `UPDATE seasons SET sort_order = sort_order + 1`); err != nil {
		return nil, fmt.Errorf("failed to shift seasons: %w", err)
	}

	const query = `
		INSERT INTO seasons (name, sort_order, created_at)
		VALUES ($1, 0, $2)
		RETURNING ` + seasonColumns

	s, err := scanSeason(q.db.QueryRow(ctx, query, name, now))
	if err != nil {
		return nil, fmt.Errorf("failed to create season: %w", err)
	}
	return s, nil
}
