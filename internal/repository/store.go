// Package repository provides the ledger store: players, seasons, matches
// and the audit log, behind a transaction boundary. PostgresStore is the
// durable implementation; MemoryStore backs the memory driver and tests.
package repository

import (
	"context"
	"errors"
	"time"

	"shed-tournament/internal/model"
)

// Common errors for repository operations.
var (
	ErrPlayerNotFound   = errors.New("player not found")
	ErrMatchNotFound    = errors.New("match not found")
	ErrSeasonNotFound   = errors.New("season not found")
	ErrDuplicateName    = errors.New("player name already taken")
	ErrDuplicateRequest = errors.New("request id already recorded")
)

// MatchFilter narrows ListMatches. Results are always newest first.
type MatchFilter struct {
	// SeasonID restricts to one season; model.AllTimeSeason means every season.
	SeasonID int64
	// PlayerID restricts to matches the player took part in; 0 means everyone.
	PlayerID      int64
	IncludeUndone bool
	// Limit caps the result; 0 means no cap.
	Limit int
}

// Reader is the read side of the store.
type Reader interface {
	// GetPlayer returns a player, including soft-deleted ones.
	GetPlayer(ctx context.Context, id int64) (*model.Player, error)
	// ListPlayers returns players ordered by id, soft-deleted ones only
	// when includeDeleted is set.
	ListPlayers(ctx context.Context, includeDeleted bool) ([]*model.Player, error)
	// ListSeasonStats returns the counters of every player with matches in
	// the season, summed across seasons for model.AllTimeSeason.
	ListSeasonStats(ctx context.Context, seasonID int64) ([]model.SeasonStats, error)

	GetMatch(ctx context.Context, id int64) (*model.Match, error)
	// GetMatchByRequestID returns ErrMatchNotFound for an unknown request id.
	GetMatchByRequestID(ctx context.Context, requestID string) (*model.Match, error)
	// LatestMatch returns the most recently recorded match that is not undone.
	LatestMatch(ctx context.Context) (*model.Match, error)
	ListMatches(ctx context.Context, filter MatchFilter) ([]*model.Match, error)

	// ListAuditLog returns at most limit entries, newest first.
	ListAuditLog(ctx context.Context, limit int) ([]*model.AuditLogEntry, error)

	// ListSeasons returns seasons ordered by sort order, current first.
	ListSeasons(ctx context.Context) ([]*model.Season, error)
	GetSeason(ctx context.Context, id int64) (*model.Season, error)
	CurrentSeason(ctx context.Context) (*model.Season, error)
}

// Ledger is the transactional view handed to WithTx callbacks. Every write
// made through it commits or rolls back as one unit.
type Ledger interface {
	Reader

	// LockPlayers loads the players for update in ascending id order.
	// Any unknown id yields ErrPlayerNotFound.
	LockPlayers(ctx context.Context, ids []int64) ([]*model.Player, error)
	// CreatePlayer returns ErrDuplicateName if a live player has the name.
	CreatePlayer(ctx context.Context, name string, rating int, now time.Time) (*model.Player, error)
	// SavePlayer persists name, rating, counters, streak and flags.
	SavePlayer(ctx context.Context, p *model.Player) error
	SoftDeletePlayer(ctx context.Context, id int64, at time.Time) error

	// InsertMatch stores m and its participants and sets m.ID.
	InsertMatch(ctx context.Context, m *model.Match) error
	MarkUndone(ctx context.Context, id int64, at time.Time) error
	// AddSeasonStats adds delta to the player's counters for delta.SeasonID.
	AddSeasonStats(ctx context.Context, delta model.SeasonStats) error

	// AppendAudit stores e and sets e.ID.
	AppendAudit(ctx context.Context, e *model.AuditLogEntry) error

	// CreateSeason makes a new current season and shifts the others back.
	CreateSeason(ctx context.Context, name string, now time.Time) (*model.Season, error)
}

// Store is the ledger store.
type Store interface {
	Reader
	// WithTx runs fn in a transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(Ledger) error) error
	Ping(ctx context.Context) error
}
