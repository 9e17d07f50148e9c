package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"shed-tournament/internal/model"
	"shed-tournament/internal/pkg/lock"
	"shed-tournament/internal/repository"
)

// MaxNameLength is the longest accepted player or season name, in runes.
const MaxNameLength = 64

// AdminGate decides whether an admin secret is valid.
type AdminGate interface {
	Authorize(secret string) bool
}

// PlayerService handles player administration.
type PlayerService struct {
	store         repository.Store
	locks         *lock.PlayerLock
	gate          AdminGate
	defaultRating int
	lockTimeout   time.Duration
	now           func() time.Time
}

// NewPlayerService creates a new PlayerService instance.
func NewPlayerService(
	store repository.Store,
	locks *lock.PlayerLock,
	gate AdminGate,
	defaultRating int,
	lockTimeout time.Duration,
) *PlayerService {
	return &PlayerService{
		store:         store,
		locks:         locks,
		gate:          gate,
		defaultRating: defaultRating,
		lockTimeout:   lockTimeout,
		now:           time.Now,
	}
}

// SetClock replaces the time source.
func (s *PlayerService) SetClock(now func() time.Time) {
	s.now = now
}

// normalizeName trims name and checks its length.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, MaxNameLength)
	}
	return name, nil
}

// AddPlayer creates a player at the default rating.
func (s *PlayerService) AddPlayer(ctx context.Context, name string) (*model.Player, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	var p *model.Player
	err = s.store.WithTx(ctx, func(l repository.Ledger) error {
		now := s.now()
		var err error
		if p, err = l.CreatePlayer(ctx, name, s.defaultRating, now); err != nil {
			return err
		}
		return l.AppendAudit(ctx, &model.AuditLogEntry{
			Timestamp: now,
			Text:      fmt.Sprintf("Player %s added", p.Name),
		})
	})
	if err != nil {
		return nil, classify("add player", err)
	}

	zerolog.Ctx(ctx).Info().Int64("player_id", p.ID).Str("name", p.Name).Msg("Player added")
	return p, nil
}

// GetPlayer returns a live player.
func (s *PlayerService) GetPlayer(ctx context.Context, id int64) (*model.Player, error) {
	p, err := s.store.GetPlayer(ctx, id)
	if err != nil {
		return nil, classify("get player", err)
	}
	if p.Deleted {
		return nil, ErrPlayerNotFound
	}
	return p, nil
}

// UpdatePlayer renames a player. Renaming to the current name is a no-op.
func (s *PlayerService) UpdatePlayer(ctx context.Context, id int64, newName, adminSecret string) (*model.Player, error) {
	if !s.gate.Authorize(adminSecret) {
		return nil, ErrUnauthorized
	}
	newName, err := normalizeName(newName)
	if err != nil {
		return nil, err
	}

	var (
		p       *model.Player
		oldName string
	)
	err = s.withPlayer(ctx, id, func(l repository.Ledger, cur *model.Player) error {
		p, oldName = cur, cur.Name
		if cur.Name == newName {
			return nil
		}
		now := s.now()
		p.Name = newName
		p.UpdatedAt = now
		if err := l.SavePlayer(ctx, p); err != nil {
			return err
		}
		return l.AppendAudit(ctx, &model.AuditLogEntry{
			Timestamp: now,
			Text:      fmt.Sprintf("Player %s renamed to %s", oldName, newName),
		})
	})
	if err != nil {
		return nil, classify("update player", err)
	}

	if oldName != newName {
		zerolog.Ctx(ctx).Info().Int64("player_id", id).Str("old_name", oldName).Str("name", newName).Msg("Player renamed")
	}
	return p, nil
}

// DeletePlayer soft-deletes a player. Their matches stay in the ledger.
func (s *PlayerService) DeletePlayer(ctx context.Context, id int64, adminSecret string) error {
	if !s.gate.Authorize(adminSecret) {
		return ErrUnauthorized
	}

	err := s.withPlayer(ctx, id, func(l repository.Ledger, p *model.Player) error {
		now := s.now()
		if err := l.SoftDeletePlayer(ctx, id, now); err != nil {
			return err
		}
		return l.AppendAudit(ctx, &model.AuditLogEntry{
			Timestamp: now,
			Text:      fmt.Sprintf("Player %s deleted", p.Name),
		})
	})
	if err != nil {
		return classify("delete player", err)
	}

	zerolog.Ctx(ctx).Info().Int64("player_id", id).Msg("Player deleted")
	return nil
}

// withPlayer runs fn on a live player under its lock and row lock.
func (s *PlayerService) withPlayer(ctx context.Context, id int64, fn func(repository.Ledger, *model.Player) error) error {
	err := s.locks.WithLockContext(ctx, []int64{id}, s.lockTimeout, func() error {
		return s.store.WithTx(ctx, func(l repository.Ledger) error {
			locked, err := l.LockPlayers(ctx, []int64{id})
			if err != nil {
				return err
			}
			p := locked[0]
			if p.Deleted {
				return ErrPlayerNotFound
			}
			return fn(l, p)
		})
	})
	return lockError(err)
}
