// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"shed-tournament/internal/model"
	"shed-tournament/internal/pkg/lock"
	"shed-tournament/internal/pkg/metrics"
	"shed-tournament/internal/rating"
	"shed-tournament/internal/registry"
	"shed-tournament/internal/repository"
)

// RecordMatchRequest is a match submission.
type RecordMatchRequest struct {
	Mode      model.Mode  `json:"mode"`
	WinnerIDs []int64     `json:"winner_ids"`
	LoserIDs  []int64     `json:"loser_ids"`
	SeasonID  int64       `json:"season_id"`
	Flags     model.Flags `json:"flags"`
	// RequestID makes the submission idempotent when set.
	RequestID string `json:"request_id,omitempty"`
}

// PlayerDelta is one participant's rating outcome.
type PlayerDelta struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	NewRating int    `json:"new_rating"`
	EloChange int    `json:"elo_change"`
}

// MatchResult is returned by RecordMatch. Replayed is set when the request
// id had already been recorded and nothing was mutated.
type MatchResult struct {
	MatchID  int64         `json:"match_id"`
	Replayed bool          `json:"replayed"`
	Winners  []PlayerDelta `json:"winners"`
	Losers   []PlayerDelta `json:"losers"`
}

// MatchService records and undoes matches. Every mutation runs under the
// participants' player locks and inside one store transaction.
type MatchService struct {
	store       repository.Store
	locks       *lock.PlayerLock
	calc        *rating.Calculator
	undoWindow  time.Duration
	lockTimeout time.Duration

	now     func() time.Time
	metrics *metrics.Metrics // Optional
}

// NewMatchService creates a new MatchService instance.
func NewMatchService(
	store repository.Store,
	locks *lock.PlayerLock,
	calc *rating.Calculator,
	undoWindow time.Duration,
	lockTimeout time.Duration,
) *MatchService {
	return &MatchService{
		store:       store,
		locks:       locks,
		calc:        calc,
		undoWindow:  undoWindow,
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (s *MatchService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics sets the metrics sink (called after metrics are initialized)
func (s *MatchService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// RecordMatch validates and records a match, updating every participant's
// rating, counters and streak and appending one audit entry.
func (s *MatchService) RecordMatch(ctx context.Context, req RecordMatchRequest) (*MatchResult, error) {
	logger := zerolog.Ctx(ctx)

	if err := rating.Validate(req.Mode, req.WinnerIDs, req.LoserIDs); err != nil {
		return nil, s.fail("record", err)
	}

	if req.RequestID != "" {
		result, err := s.replay(ctx, s.store, req.RequestID)
		if err == nil {
			logger.Info().Int64("match_id", result.MatchID).Str("request_id", req.RequestID).Msg("Replayed recorded match")
			return result, nil
		}
		if !errors.Is(err, repository.ErrMatchNotFound) {
			return nil, s.fail("record", classify("look up request", err))
		}
	}

	ids := slices.Concat(req.WinnerIDs, req.LoserIDs)
	var (
		result *MatchResult
		start  time.Time
	)
	err := s.withLocks(ctx, ids, func() error {
		start = time.Now()
		err := s.store.WithTx(ctx, func(l repository.Ledger) error {
			var err error
			result, err = s.record(ctx, l, req, ids)
			return err
		})
		s.metrics.ObserveTransaction("record", time.Since(start))
		return err
	})
	if errors.Is(err, repository.ErrDuplicateRequest) {
		// Another instance committed the same request id first.
		result, err = s.replay(ctx, s.store, req.RequestID)
	}
	if err != nil {
		return nil, s.fail("record", classify("record match", err))
	}

	if result.Replayed {
		return result, nil
	}
	s.metrics.MatchRecorded()
	logger.Info().
		Int64("match_id", result.MatchID).
		Ints64("player_ids", ids).
		Dur("duration", time.Since(start)).
		Msg("Match recorded")
	return result, nil
}

func (s *MatchService) record(ctx context.Context, l repository.Ledger, req RecordMatchRequest, ids []int64) (*MatchResult, error) {
	if req.RequestID != "" {
		result, err := s.replay(ctx, l, req.RequestID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, repository.ErrMatchNotFound) {
			return nil, err
		}
	}

	locked, err := l.LockPlayers(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(locked, func(p *model.Player) int64 { return p.ID })
	for _, p := range locked {
		if p.Deleted {
			return nil, fmt.Errorf("%w: %d", ErrPlayerNotFound, p.ID)
		}
	}

	season, err := s.resolveSeason(ctx, l, req.SeasonID)
	if err != nil {
		return nil, err
	}

	winners := lo.Map(req.WinnerIDs, func(id int64, _ int) *model.Player { return byID[id] })
	losers := lo.Map(req.LoserIDs, func(id int64, _ int) *model.Player { return byID[id] })
	ratingOf := func(p *model.Player, _ int) int { return p.Rating }

	winnerDeltas, loserDeltas, err := s.calc.ComputeDeltas(req.Mode, lo.Map(winners, ratingOf), lo.Map(losers, ratingOf))
	if err != nil {
		return nil, err
	}

	now := s.now()
	m := &model.Match{
		CreatedAt: now,
		SeasonID:  season.ID,
		Mode:      req.Mode,
		Flags:     req.Flags,
		RequestID: req.RequestID,
	}

	var seasonDeltas []model.SeasonStats
	apply := func(players []*model.Player, deltas []int, side model.Side, pantsed bool) {
		for i, p := range players {
			part, sd := registry.Apply(p, season.ID, registry.Outcome{Side: side, Delta: deltas[i], Pantsed: pantsed}, now)
			m.Participants = append(m.Participants, part)
			seasonDeltas = append(seasonDeltas, sd)
		}
	}
	apply(winners, winnerDeltas, model.SideWinner, false)
	apply(losers, loserDeltas, model.SideLoser, req.Flags.Pantsed)

	if err := l.InsertMatch(ctx, m); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, l, slices.Concat(winners, losers), seasonDeltas); err != nil {
		return nil, err
	}

	text := "Match recorded: " + describe(winners, losers, m.Flags)
	if err := l.AppendAudit(ctx, &model.AuditLogEntry{Timestamp: now, Text: text, RefMatchID: &m.ID}); err != nil {
		return nil, err
	}

	return resultOf(m, byID, false), nil
}

// UndoMatch reverts the most recent match if it is still inside the undo
// window, restoring every participant's pre-match snapshot.
func (s *MatchService) UndoMatch(ctx context.Context, matchID int64) error {
	logger := zerolog.Ctx(ctx)

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return s.fail("undo", classify("get match", err))
	}

	var start time.Time
	err = s.withLocks(ctx, m.PlayerIDs(), func() error {
		start = time.Now()
		err := s.store.WithTx(ctx, func(l repository.Ledger) error {
			return s.undo(ctx, l, matchID)
		})
		s.metrics.ObserveTransaction("undo", time.Since(start))
		return err
	})
	if err != nil {
		return s.fail("undo", classify("undo match", err))
	}

	s.metrics.MatchUndone()
	logger.Info().
		Int64("match_id", matchID).
		Ints64("player_ids", m.PlayerIDs()).
		Dur("duration", time.Since(start)).
		Msg("Match undone")
	return nil
}

func (s *MatchService) undo(ctx context.Context, l repository.Ledger, matchID int64) error {
	m, err := l.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Undone {
		return ErrAlreadyUndone
	}

	now := s.now()
	if now.Sub(m.CreatedAt) > s.undoWindow {
		return ErrExpired
	}

	latest, err := l.LatestMatch(ctx)
	if err != nil {
		return err
	}
	if latest.ID != m.ID {
		return ErrNotLatest
	}

	locked, err := l.LockPlayers(ctx, m.PlayerIDs())
	if err != nil {
		return err
	}
	byID := lo.KeyBy(locked, func(p *model.Player) int64 { return p.ID })

	players := make([]*model.Player, 0, len(m.Participants))
	seasonDeltas := make([]model.SeasonStats, 0, len(m.Participants))
	for _, part := range m.Participants {
		p := byID[part.PlayerID]
		seasonDeltas = append(seasonDeltas, registry.Revert(p, m.SeasonID, part, now))
		players = append(players, p)
	}

	if err := s.persist(ctx, l, players, seasonDeltas); err != nil {
		return err
	}
	if err := l.MarkUndone(ctx, m.ID, now); err != nil {
		return err
	}

	winners := lo.Map(m.Winners(), func(id int64, _ int) *model.Player { return byID[id] })
	losers := lo.Map(m.Losers(), func(id int64, _ int) *model.Player { return byID[id] })
	text := "Match undone: " + describe(winners, losers, model.Flags{})
	return l.AppendAudit(ctx, &model.AuditLogEntry{Timestamp: now, Text: text, RefMatchID: &m.ID})
}

func (s *MatchService) persist(ctx context.Context, l repository.Ledger, players []*model.Player, seasonDeltas []model.SeasonStats) error {
	for _, p := range players {
		if err := l.SavePlayer(ctx, p); err != nil {
			return err
		}
	}
	for _, d := range seasonDeltas {
		if err := l.AddSeasonStats(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *MatchService) resolveSeason(ctx context.Context, r repository.Reader, id int64) (*model.Season, error) {
	if id == model.AllTimeSeason {
		return r.CurrentSeason(ctx)
	}
	return r.GetSeason(ctx, id)
}

// replay rebuilds the result of an already recorded request.
func (s *MatchService) replay(ctx context.Context, r repository.Reader, requestID string) (*MatchResult, error) {
	m, err := r.GetMatchByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.Player, len(m.Participants))
	for _, id := range m.PlayerIDs() {
		p, err := r.GetPlayer(ctx, id)
		if err != nil {
			return nil, err
		}
		byID[id] = p
	}
	return resultOf(m, byID, true), nil
}

// withLocks runs fn holding the locks of every id in ids.
func (s *MatchService) withLocks(ctx context.Context, ids []int64, fn func() error) error {
	start := time.Now()
	acquired := false
	err := s.locks.WithLockContext(ctx, ids, s.lockTimeout, func() error {
		acquired = true
		s.metrics.ObserveLockWait(time.Since(start))
		return fn()
	})
	if !acquired {
		s.metrics.ObserveLockWait(time.Since(start))
		return lockError(err)
	}
	return err
}

func (s *MatchService) fail(op string, err error) error {
	s.metrics.OperationFailed(op, kind(err))
	return err
}

// resultOf reports ratings as of the match itself, so a replay returns what
// the original call did.
func resultOf(m *model.Match, players map[int64]*model.Player, replayed bool) *MatchResult {
	res := &MatchResult{MatchID: m.ID, Replayed: replayed}
	for _, part := range m.Participants {
		d := PlayerDelta{
			ID:        part.PlayerID,
			NewRating: part.RatingBefore + part.RatingDelta,
			EloChange: part.RatingDelta,
		}
		if p, ok := players[part.PlayerID]; ok {
			d.Name = p.Name
		}
		if part.Won() {
			res.Winners = append(res.Winners, d)
		} else {
			res.Losers = append(res.Losers, d)
		}
	}
	return res
}

// describe renders "A (1016) & C (990) defeated B (984) & D (1010) [pantsed]"
// from the players' current ratings.
func describe(winners, losers []*model.Player, flags model.Flags) string {
	side := func(ps []*model.Player) string {
		return strings.Join(lo.Map(ps, func(p *model.Player, _ int) string {
			return fmt.Sprintf("%s (%d)", p.Name, p.Rating)
		}), " & ")
	}
	text := side(winners) + " defeated " + side(losers)
	if labels := flags.Labels(); len(labels) > 0 {
		text += " [" + strings.Join(labels, ", ") + "]"
	}
	return text
}
