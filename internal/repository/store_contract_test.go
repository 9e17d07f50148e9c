package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shed-tournament/internal/model"
)

var errBoom = errors.New("boom")

// baseTime is truncated to microseconds so it survives a Postgres round trip.
var baseTime = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("players", func(t *testing.T) { testPlayers(t, newStore(t)) })
	t.Run("matches", func(t *testing.T) { testMatches(t, newStore(t)) })
	t.Run("seasons", func(t *testing.T) { testSeasons(t, newStore(t)) })
	t.Run("season stats", func(t *testing.T) { testSeasonStats(t, newStore(t)) })
	t.Run("audit log", func(t *testing.T) { testAuditLog(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

func createPlayers(t *testing.T, s Store, names ...string) []*model.Player {
	t.Helper()
	var out []*model.Player
	err := s.WithTx(context.Background(), func(l Ledger) error {
		for _, n := range names {
			p, err := l.CreatePlayer(context.Background(), n, 1000, baseTime)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func testPlayers(t *testing.T, s Store) {
	ctx := context.Background()
	ps := createPlayers(t, s, "Alice", "Bob")

	assert.Equal(t, 1000, ps[0].Rating)
	assert.Equal(t, model.StreakNone, ps[0].Streak.Type)

	err := s.WithTx(ctx, func(l Ledger) error {
		_, err := l.CreatePlayer(ctx, "alice", 1000, baseTime)
		return err
	})
	assert.ErrorIs(t, err, ErrDuplicateName)

	// Save mutable columns.
	err = s.WithTx(ctx, func(l Ledger) error {
		locked, err := l.LockPlayers(ctx, []int64{ps[1].ID, ps[0].ID})
		if err != nil {
			return err
		}
		require.Len(t, locked, 2)
		assert.Less(t, locked[0].ID, locked[1].ID)

		a := locked[0]
		a.Rating = 1016
		a.TotalMatches, a.Wins = 1, 1
		a.Streak = model.StreakState{Type: model.StreakWin, Length: 1, CumulativeDelta: 16}
		a.RecentlyPantsed = true
		a.UpdatedAt = baseTime.Add(time.Minute)
		return l.SavePlayer(ctx, a)
	})
	require.NoError(t, err)

	got, err := s.GetPlayer(ctx, ps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1016, got.Rating)
	assert.Equal(t, model.StreakState{Type: model.StreakWin, Length: 1, CumulativeDelta: 16}, got.Streak)
	assert.True(t, got.RecentlyPantsed)

	// Unknown ids fail the lock.
	err = s.WithTx(ctx, func(l Ledger) error {
		_, err := l.LockPlayers(ctx, []int64{ps[0].ID, 999999})
		return err
	})
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	// Soft delete hides the player and frees the name.
	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		return l.SoftDeletePlayer(ctx, ps[1].ID, baseTime.Add(time.Hour))
	}))
	live, err := s.ListPlayers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := s.ListPlayers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	deleted, err := s.GetPlayer(ctx, ps[1].ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	newBob := createPlayers(t, s, "Bob")[0]

	// A deleted row can still be written back while its name is reused.
	err = s.WithTx(ctx, func(l Ledger) error {
		old, err := l.GetPlayer(ctx, ps[1].ID)
		if err != nil {
			return err
		}
		old.Rating = 1000
		old.UpdatedAt = baseTime.Add(2 * time.Hour)
		return l.SavePlayer(ctx, old)
	})
	require.NoError(t, err)

	// A live rename into a live name still collides.
	err = s.WithTx(ctx, func(l Ledger) error {
		a, err := l.GetPlayer(ctx, ps[0].ID)
		if err != nil {
			return err
		}
		a.Name = "BOB"
		return l.SavePlayer(ctx, a)
	})
	assert.ErrorIs(t, err, ErrDuplicateName)
	got, err = s.GetPlayer(ctx, newBob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)

	err = s.WithTx(ctx, func(l Ledger) error {
		return l.SoftDeletePlayer(ctx, ps[1].ID, baseTime)
	})
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	_, err = s.GetPlayer(ctx, 999999)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func newMatch(seasonID int64, winner, loser *model.Player, at time.Time, requestID string) *model.Match {
	return &model.Match{
		CreatedAt: at,
		SeasonID:  seasonID,
		Mode:      model.ModeSingles,
		Flags:     model.Flags{Pantsed: true},
		RequestID: requestID,
		Participants: []model.Participant{
			{PlayerID: winner.ID, Side: model.SideWinner, RatingBefore: winner.Rating, RatingDelta: 16, StreakBefore: model.NoStreak()},
			{PlayerID: loser.ID, Side: model.SideLoser, RatingBefore: loser.Rating, RatingDelta: -16,
				StreakBefore: model.StreakState{Type: model.StreakLoss, Length: 2, CumulativeDelta: -30}, PantsedBefore: true},
		},
	}
}

func testMatches(t *testing.T, s Store) {
	ctx := context.Background()
	ps := createPlayers(t, s, "Alice", "Bob", "Carol")
	season, err := s.CurrentSeason(ctx)
	require.NoError(t, err)

	_, err = s.LatestMatch(ctx)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	first := newMatch(season.ID, ps[0], ps[1], baseTime, "req-1")
	second := newMatch(season.ID, ps[2], ps[0], baseTime.Add(time.Minute), "")
	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		if err := l.InsertMatch(ctx, first); err != nil {
			return err
		}
		return l.InsertMatch(ctx, second)
	}))
	require.NotZero(t, first.ID)
	require.Greater(t, second.ID, first.ID)

	got, err := s.GetMatch(ctx, first.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("match round trip (-want +got):\n%s", diff)
	}

	byReq, err := s.GetMatchByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byReq.ID)

	_, err = s.GetMatchByRequestID(ctx, "nope")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	err = s.WithTx(ctx, func(l Ledger) error {
		return l.InsertMatch(ctx, newMatch(season.ID, ps[0], ps[1], baseTime, "req-1"))
	})
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	latest, err := s.LatestMatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	forCarol, err := s.ListMatches(ctx, MatchFilter{PlayerID: ps[2].ID})
	require.NoError(t, err)
	require.Len(t, forCarol, 1)
	assert.Equal(t, second.ID, forCarol[0].ID)

	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		return l.MarkUndone(ctx, second.ID, baseTime.Add(2*time.Minute))
	}))

	err = s.WithTx(ctx, func(l Ledger) error {
		return l.MarkUndone(ctx, second.ID, baseTime.Add(3*time.Minute))
	})
	assert.ErrorIs(t, err, ErrMatchNotFound)

	latest, err = s.LatestMatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	live, err := s.ListMatches(ctx, MatchFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := s.ListMatches(ctx, MatchFilter{IncludeUndone: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	assert.True(t, all[0].Undone)
	require.NotNil(t, all[0].UndoneAt)

	limited, err := s.ListMatches(ctx, MatchFilter{IncludeUndone: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testSeasons(t *testing.T, s Store) {
	ctx := context.Background()

	first, err := s.CurrentSeason(ctx)
	require.NoError(t, err)
	assert.True(t, first.IsCurrent())

	var created *model.Season
	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		var err error
		created, err = l.CreateSeason(ctx, "Summer", baseTime)
		return err
	}))

	cur, err := s.CurrentSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, cur.ID)
	assert.Equal(t, "Summer", cur.Name)

	seasons, err := s.ListSeasons(ctx)
	require.NoError(t, err)
	require.Len(t, seasons, 2)
	assert.Equal(t, created.ID, seasons[0].ID)
	assert.Equal(t, first.ID, seasons[1].ID)
	assert.Equal(t, 1, seasons[1].SortOrder)

	_, err = s.GetSeason(ctx, 424242)
	assert.ErrorIs(t, err, ErrSeasonNotFound)
}

func testSeasonStats(t *testing.T, s Store) {
	ctx := context.Background()
	ps := createPlayers(t, s, "Alice")
	first, err := s.CurrentSeason(ctx)
	require.NoError(t, err)

	var second *model.Season
	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		if err := l.AddSeasonStats(ctx, model.SeasonStats{PlayerID: ps[0].ID, SeasonID: first.ID, Matches: 1, Wins: 1, RatingChange: 16}); err != nil {
			return err
		}
		var err error
		second, err = l.CreateSeason(ctx, "Two", baseTime)
		if err != nil {
			return err
		}
		return l.AddSeasonStats(ctx, model.SeasonStats{PlayerID: ps[0].ID, SeasonID: second.ID, Matches: 1, Losses: 1, RatingChange: -14})
	}))

	inFirst, err := s.ListSeasonStats(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, inFirst, 1)
	assert.Equal(t, model.SeasonStats{PlayerID: ps[0].ID, SeasonID: first.ID, Matches: 1, Wins: 1, RatingChange: 16}, inFirst[0])

	allTime, err := s.ListSeasonStats(ctx, model.AllTimeSeason)
	require.NoError(t, err)
	require.Len(t, allTime, 1)
	assert.Equal(t, model.SeasonStats{PlayerID: ps[0].ID, Matches: 2, Wins: 1, Losses: 1, RatingChange: 2}, allTime[0])

	// Decrementing back to zero removes the row from listings.
	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		return l.AddSeasonStats(ctx, model.SeasonStats{PlayerID: ps[0].ID, SeasonID: second.ID, Matches: -1, Losses: -1, RatingChange: 14})
	}))
	inSecond, err := s.ListSeasonStats(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, inSecond)
}

func testAuditLog(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(l Ledger) error {
		for i, text := range []string{"one", "two", "three"} {
			e := &model.AuditLogEntry{Timestamp: baseTime.Add(time.Duration(i) * time.Second), Text: text}
			if err := l.AppendAudit(ctx, e); err != nil {
				return err
			}
			if e.ID == 0 {
				return errors.New("audit id not assigned")
			}
		}
		return nil
	}))

	entries, err := s.ListAuditLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Text)
	assert.Equal(t, "two", entries[1].Text)
	assert.Nil(t, entries[0].RefMatchID)
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(l Ledger) error {
		if _, err := l.CreatePlayer(ctx, "Ghost", 1000, baseTime); err != nil {
			return err
		}
		if err := l.AppendAudit(ctx, &model.AuditLogEntry{Timestamp: baseTime, Text: "Player Ghost added"}); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	players, err := s.ListPlayers(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, players)

	entries, err := s.ListAuditLog(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
