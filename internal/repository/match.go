package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"shed-tournament/internal/model"
)

const matchColumns = `
	id, created_at, season_id, mode, is_pantsed, is_away_game, is_lost_by_foul,
	undone, undone_at, COALESCE(request_id, '')`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var (
		m    model.Match
		mode string
	)
	err := row.Scan(
		&m.ID,
		&m.CreatedAt,
		&m.SeasonID,
		&mode,
		&m.Flags.Pantsed,
		&m.Flags.AwayGame,
		&m.Flags.LostByFoul,
		&m.Undone,
		&m.UndoneAt,
		&m.RequestID,
	)
	if err != nil {
		return nil, err
	}
	m.Mode = model.Mode(mode)
	return &m, nil
}

// loadParticipants fills in the participant rows of every match.
func (q *queries) loadParticipants(ctx context.Context, matches []*model.Match) error {
	if len(matches) == 0 {
		return nil
	}

	ids := make([]int64, len(matches))
	byID := make(map[int64]*model.Match, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	const query = `
		SELECT match_id, player_id, side, rating_before, rating_delta,
		       streak_before_type, streak_before_length, streak_before_delta, pantsed_before
		FROM match_participants
		WHERE match_id = ANY($1)
		ORDER BY match_id, position
	`

	rows, err := q.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			matchID    int64
			p          model.Participant
			side       string
			streakType string
		)
		if err := rows.Scan(
			&matchID,
			&p.PlayerID,
			&side,
			&p.RatingBefore,
			&p.RatingDelta,
			&streakType,
			&p.StreakBefore.Length,
			&p.StreakBefore.CumulativeDelta,
			&p.PantsedBefore,
		); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Side = model.Side(side)
		p.StreakBefore.Type = model.StreakType(streakType)
		m := byID[matchID]
		m.Participants = append(m.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating participants: %w", err)
	}
	return nil
}

func (q *queries) getMatchWhere(ctx context.Context, where string, args ...any) (*model.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE ` + where

	m, err := scanMatch(q.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if err := q.loadParticipants(ctx, []*model.Match{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMatch retrieves a match with its participants.
func (q *queries) GetMatch(ctx context.Context, id int64) (*model.Match, error) {
	return q.getMatchWhere(ctx, `id = $1`, id)
}

// GetMatchByRequestID retrieves the match recorded for a client request id.
func (q *queries) GetMatchByRequestID(ctx context.Context, requestID string) (*model.Match, error) {
	return q.getMatchWhere(ctx, `request_id = $1`, requestID)
}

// LatestMatch retrieves the most recent match that has not been undone.
func (q *queries) LatestMatch(ctx context.Context) (*model.Match, error) {
	return q.getMatchWhere(ctx, `NOT undone ORDER BY id DESC LIMIT 1`)
}

// ListMatches retrieves matches newest first.
func (q *queries) ListMatches(ctx context.Context, f MatchFilter) ([]*model.Match, error) {
	query := `SELECT` + matchColumns + `
		FROM matches
		WHERE ($1::BIGINT = 0 OR season_id = $1)
		  AND ($2::BIGINT = 0 OR id IN (SELECT match_id FROM match_participants WHERE player_id = $2))
		  AND ($3 OR NOT undone)
		ORDER BY id DESC`
	args := []any{f.SeasonID, f.PlayerID, f.IncludeUndone}
	if f.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, f.Limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	rows.Close()

	if err := q.loadParticipants(ctx, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// InsertMatch stores the match row and its participants.
func (q *queries) InsertMatch(ctx context.Context, m *model.Match) error {
	const matchQuery = `
		INSERT INTO matches (created_at, season_id, mode, is_pantsed, is_away_game, is_lost_by_foul, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id
	`

	err := q.db.QueryRow(ctx, matchQuery,
		m.CreatedAt,
		m.SeasonID,
		string(m.Mode),
		m.Flags.Pantsed,
		m.Flags.AwayGame,
		m.Flags.LostByFoul,
		m.RequestID,
	).Scan(&m.ID)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("failed to insert match: %w", err)
	}

	const participantQuery = `
		INSERT INTO match_participants (
			match_id, player_id, position, side, rating_before, rating_delta,
			streak_before_type, streak_before_length, streak_before_delta, pantsed_before
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	batch := &pgx.Batch{}
	for i, p := range m.Participants {
		batch.Queue(participantQuery,
			m.ID,
			p.PlayerID,
			i,
			string(p.Side),
			p.RatingBefore,
			p.RatingDelta,
			string(p.StreakBefore.Type),
			p.StreakBefore.Length,
			p.StreakBefore.CumulativeDelta,
			p.PantsedBefore,
		)
	}
	if err := q.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert participants: %w", err)
	}
	return nil
}

// MarkUndone flags a match as undone.
func (q *queries) MarkUndone(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE matches SET undone = TRUE, undone_at = $2 WHERE id = $1 AND NOT undone`

	tag, err := q.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark match undone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMatchNotFound
	}
	return nil
}
