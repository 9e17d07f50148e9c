package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"

	"shed-tournament/internal/model"
	"shed-tournament/internal/pkg/metrics"
	"shed-tournament/internal/rating"
	"shed-tournament/internal/repository"
)

var ignoreUpdatedAt = cmpopts.IgnoreFields(model.Player{}, "UpdatedAt")

func TestRecordAndUndo_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 0, "Alice", "Bob")
	alice, bob := ps[0].ID, ps[1].ID

	first, err := f.matches.RecordMatch(ctx, singles(alice, bob))
	require.NoError(t, err)

	want := &MatchResult{
		MatchID: first.MatchID,
		Winners: []PlayerDelta{{ID: alice, Name: "Alice", NewRating: 1016, EloChange: 16}},
		Losers:  []PlayerDelta{{ID: bob, Name: "Bob", NewRating: 984, EloChange: -16}},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("first match mismatch (-want +got):\n%s", diff)
	}

	afterFirst := []*model.Player{f.player(t, alice), f.player(t, bob)}

	f.clock.Advance(time.Minute)
	second, err := f.matches.RecordMatch(ctx, singles(alice, bob))
	require.NoError(t, err)
	assert.Equal(t, 1031, second.Winners[0].NewRating)
	assert.Equal(t, 15, second.Winners[0].EloChange)
	assert.Equal(t, 969, second.Losers[0].NewRating)

	a := f.player(t, alice)
	assert.Equal(t, model.StreakState{Type: model.StreakWin, Length: 2, CumulativeDelta: 31}, a.Streak)
	assert.Equal(t, 2, a.Wins)
	b := f.player(t, bob)
	assert.Equal(t, model.StreakState{Type: model.StreakLoss, Length: 2, CumulativeDelta: -31}, b.Streak)

	require.NoError(t, f.matches.UndoMatch(ctx, second.MatchID))

	afterUndo := []*model.Player{f.player(t, alice), f.player(t, bob)}
	if diff := cmp.Diff(afterFirst, afterUndo, ignoreUpdatedAt); diff != "" {
		t.Errorf("undo did not restore post-first-match state (-want +got):\n%s", diff)
	}

	standings, err := f.stats.ListPlayers(ctx, model.AllTimeSeason)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, 1, standings[0].Matches)
	assert.Equal(t, 16, standings[0].RatingChange)

	assert.Equal(t, []string{
		"Match undone: Alice (1016) defeated Bob (984)",
		"Match recorded: Alice (1031) defeated Bob (969)",
		"Match recorded: Alice (1016) defeated Bob (984)",
		"Player Bob added",
		"Player Alice added",
	}, f.auditTexts(t))
}

func TestRecordMatch_InvalidWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 4)
	a, b, c, d := ps[0].ID, ps[1].ID, ps[2].ID, ps[3].ID

	tests := []struct {
		name string
		req  RecordMatchRequest
	}{
		{"same player both sides", singles(a, a)},
		{"singles with two winners", RecordMatchRequest{Mode: model.ModeSingles, WinnerIDs: []int64{a, b}, LoserIDs: []int64{c}}},
		{"doubles with repeated player", RecordMatchRequest{Mode: model.ModeDoubles, WinnerIDs: []int64{a, b}, LoserIDs: []int64{b, c}}},
		{"doubles short side", RecordMatchRequest{Mode: model.ModeDoubles, WinnerIDs: []int64{a, b}, LoserIDs: []int64{d}}},
		{"unknown mode", RecordMatchRequest{Mode: "triples", WinnerIDs: []int64{a}, LoserIDs: []int64{b}}},
		{"non-positive id", singles(0, b)},
	}

	before := f.auditTexts(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.matches.RecordMatch(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidMatch)
		})
	}
	assert.Equal(t, before, f.auditTexts(t))
	assert.Equal(t, 1000, f.player(t, a).Rating)
}

func TestRecordMatch_Lookups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 3)
	a, b, c := ps[0].ID, ps[1].ID, ps[2].ID

	_, err := f.matches.RecordMatch(ctx, singles(a, 999))
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	require.NoError(t, f.players.DeletePlayer(ctx, c, adminSecret))
	_, err = f.matches.RecordMatch(ctx, singles(a, c))
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	req := singles(a, b)
	req.SeasonID = 42
	_, err = f.matches.RecordMatch(ctx, req)
	assert.ErrorIs(t, err, ErrSeasonNotFound)

	assert.Equal(t, 1000, f.player(t, a).Rating)
	assert.Equal(t, 0, f.player(t, a).TotalMatches)
}

func TestRecordMatch_Flags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 0, "Alice", "Bob")
	alice, bob := ps[0].ID, ps[1].ID

	req := singles(alice, bob)
	req.Flags = model.Flags{Pantsed: true, AwayGame: true}
	res, err := f.matches.RecordMatch(ctx, req)
	require.NoError(t, err)

	// Flags are narrative only.
	assert.Equal(t, 16, res.Winners[0].EloChange)
	assert.True(t, f.player(t, bob).RecentlyPantsed)
	assert.False(t, f.player(t, alice).RecentlyPantsed)
	assert.Equal(t, "Match recorded: Alice (1016) defeated Bob (984) [pantsed, away game]", f.auditTexts(t)[0])

	// A win leaves the flag alone; an ordinary loss clears it.
	_, err = f.matches.RecordMatch(ctx, singles(bob, alice))
	require.NoError(t, err)
	assert.True(t, f.player(t, bob).RecentlyPantsed)

	_, err = f.matches.RecordMatch(ctx, singles(alice, bob))
	require.NoError(t, err)
	assert.False(t, f.player(t, bob).RecentlyPantsed)
}

func TestRecordMatch_Doubles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 0, "Alice", "Bob", "Cara", "Dan", "Eve")

	res, err := f.matches.RecordMatch(ctx, RecordMatchRequest{
		Mode:      model.ModeDoubles,
		WinnerIDs: []int64{ps[0].ID, ps[1].ID},
		LoserIDs:  []int64{ps[2].ID, ps[3].ID},
	})
	require.NoError(t, err)
	require.Len(t, res.Winners, 2)
	require.Len(t, res.Losers, 2)

	for _, w := range res.Winners {
		assert.Equal(t, 16, w.EloChange)
	}
	for _, l := range res.Losers {
		assert.Equal(t, -16, l.EloChange)
	}

	// Non-participants are untouched.
	eve := f.player(t, ps[4].ID)
	assert.Equal(t, 1000, eve.Rating)
	assert.Equal(t, 0, eve.TotalMatches)

	assert.Equal(t, "Match recorded: Alice (1016) & Bob (1016) defeated Cara (984) & Dan (984)", f.auditTexts(t)[0])
}

func TestRecordMatch_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 2)

	req := singles(ps[0].ID, ps[1].ID)
	req.RequestID = "7f1c7a57-2a8e-4c53-9a59-1d2f0c1e2b3a"

	first, err := f.matches.RecordMatch(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := f.matches.RecordMatch(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.MatchID, again.MatchID)
	assert.Equal(t, first.Winners, again.Winners)
	assert.Equal(t, first.Losers, again.Losers)

	assert.Equal(t, 1016, f.player(t, ps[0].ID).Rating)
	matches, err := f.store.ListMatches(ctx, repository.MatchFilter{})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRecordMatch_IdempotentConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 2)

	req := singles(ps[0].ID, ps[1].ID)
	req.RequestID = "retry-storm"

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := f.matches.RecordMatch(ctx, req)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, f.player(t, ps[0].ID).TotalMatches)
}

func TestRecordMatch_RollbackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 2)

	f.store.FailOn = func(op string) error {
		if op == "AppendAudit" {
			return errBoom
		}
		return nil
	}

	_, err := f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	require.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, errBoom)

	f.store.FailOn = nil
	p := f.player(t, ps[0].ID)
	assert.Equal(t, 1000, p.Rating)
	assert.Equal(t, 0, p.TotalMatches)
	_, err = f.store.LatestMatch(ctx)
	assert.ErrorIs(t, err, repository.ErrMatchNotFound)
}

func TestRecordMatch_Busy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 2)
	f.matches.lockTimeout = 20 * time.Millisecond

	release, err := f.locks.LockAll(ctx, []int64{ps[1].ID}, time.Second)
	require.NoError(t, err)
	defer release()

	_, err = f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	assert.ErrorIs(t, err, ErrBusy)

	// The lock taken on the free player was handed back.
	unlock, err := f.locks.LockAll(ctx, []int64{ps[0].ID}, 10*time.Millisecond)
	require.NoError(t, err)
	unlock()
}

func TestRecordMatch_CallerGivesUp(t *testing.T) {
	f := newFixture(t)
	ps := f.addPlayers(t, 2)

	release, err := f.locks.LockAll(context.Background(), []int64{ps[1].ID}, time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrBusy)
	assert.Equal(t, "cancelled", kind(err))

	_, err = f.store.LatestMatch(context.Background())
	assert.ErrorIs(t, err, repository.ErrMatchNotFound)
}

func TestUndoMatch_Eligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 3)
	a, b, c := ps[0].ID, ps[1].ID, ps[2].ID

	err := f.matches.UndoMatch(ctx, 404)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	m1, err := f.matches.RecordMatch(ctx, singles(a, b))
	require.NoError(t, err)
	m2, err := f.matches.RecordMatch(ctx, singles(c, a))
	require.NoError(t, err)

	assert.ErrorIs(t, f.matches.UndoMatch(ctx, m1.MatchID), ErrNotLatest)

	require.NoError(t, f.matches.UndoMatch(ctx, m2.MatchID))
	assert.ErrorIs(t, f.matches.UndoMatch(ctx, m2.MatchID), ErrAlreadyUndone)

	// With m2 gone, m1 is the latest again.
	f.clock.Advance(12*time.Hour + time.Second)
	assert.ErrorIs(t, f.matches.UndoMatch(ctx, m1.MatchID), ErrExpired)
}

func TestUndoMatch_WindowBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 2)

	m, err := f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	require.NoError(t, err)

	f.clock.Advance(12 * time.Hour)
	assert.NoError(t, f.matches.UndoMatch(ctx, m.MatchID))
}

func TestUndoMatch_RollbackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 2)

	m, err := f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	require.NoError(t, err)

	f.store.FailOn = func(op string) error {
		if op == "MarkUndone" {
			return errBoom
		}
		return nil
	}
	require.ErrorIs(t, f.matches.UndoMatch(ctx, m.MatchID), ErrInternal)
	f.store.FailOn = nil

	assert.Equal(t, 1016, f.player(t, ps[0].ID).Rating)
	require.NoError(t, f.matches.UndoMatch(ctx, m.MatchID))
	assert.Equal(t, 1000, f.player(t, ps[0].ID).Rating)
}

func TestUndoMatch_DeletedPlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 0, "Alice", "Bob")

	m, err := f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	require.NoError(t, err)
	require.NoError(t, f.players.DeletePlayer(ctx, ps[1].ID, adminSecret))

	// The freed name goes to a new player before the undo.
	newBob := f.addPlayers(t, 0, "Bob")[0]

	require.NoError(t, f.matches.UndoMatch(ctx, m.MatchID))

	oldBob := f.player(t, ps[1].ID)
	assert.Equal(t, 1000, oldBob.Rating)
	assert.Equal(t, 0, oldBob.TotalMatches)
	assert.True(t, oldBob.Deleted)
	assert.Equal(t, 1000, f.player(t, ps[0].ID).Rating)
	assert.Equal(t, 1000, f.player(t, newBob.ID).Rating)
}

func TestConcurrentDisjointMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 8)
	const rounds = 10

	var g errgroup.Group
	for i := 0; i < len(ps); i += 2 {
		winner, loser := ps[i].ID, ps[i+1].ID
		g.Go(func() error {
			for range rounds {
				if _, err := f.matches.RecordMatch(ctx, singles(winner, loser)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < len(ps); i += 2 {
		w, l := f.player(t, ps[i].ID), f.player(t, ps[i+1].ID)
		assert.Equal(t, rounds, w.Wins)
		assert.Equal(t, rounds, l.Losses)
		assert.Equal(t, 2000, w.Rating+l.Rating)
		assert.Equal(t, rounds, w.Streak.Length)
	}
}

func TestConcurrentOverlappingMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 3)
	a, b, c := ps[0].ID, ps[1].ID, ps[2].ID
	const rounds = 15

	pairings := [][2]int64{{a, b}, {b, c}, {c, a}}
	var g errgroup.Group
	for _, pair := range pairings {
		g.Go(func() error {
			for range rounds {
				if _, err := f.matches.RecordMatch(ctx, singles(pair[0], pair[1])); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	matches, err := f.store.ListMatches(ctx, repository.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, matches, rounds*len(pairings))

	// No lost updates: every rating equals the start plus its ledger deltas.
	sum := 0
	for _, p := range ps {
		cur := f.player(t, p.ID)
		ledger := 0
		for _, m := range matches {
			ledger += m.RatingDeltas()[p.ID]
		}
		assert.Equal(t, 1000+ledger, cur.Rating)
		assert.Equal(t, 2*rounds, cur.TotalMatches)
		assert.Equal(t, cur.TotalMatches, cur.Wins+cur.Losses)
		sum += cur.Rating
	}
	assert.Equal(t, 3000, sum)
}

// gatedStore parks the next transaction before it starts, outside the
// memory store's own mutex, so only the player locks order writers.
type gatedStore struct {
	*repository.MemoryStore
	park    atomic.Bool
	parked  chan struct{}
	release chan struct{}
	txs     atomic.Int32
}

func newGatedStore(inner *repository.MemoryStore) *gatedStore {
	return &gatedStore{MemoryStore: inner, parked: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) WithTx(ctx context.Context, fn func(repository.Ledger) error) error {
	s.txs.Add(1)
	if s.park.CompareAndSwap(true, false) {
		close(s.parked)
		<-s.release
	}
	return s.MemoryStore.WithTx(ctx, fn)
}

func TestPlayerLocksOrderOverlappingMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ps := f.addPlayers(t, 0, "Alice", "Bob", "Carol", "Dave")
	alice, bob, carol, dave := ps[0].ID, ps[1].ID, ps[2].ID, ps[3].ID

	gs := newGatedStore(f.store)
	patient := NewMatchService(gs, f.locks, rating.NewCalculator(32, 0), 12*time.Hour, 5*time.Second)
	impatient := NewMatchService(gs, f.locks, rating.NewCalculator(32, 0), 12*time.Hour, 30*time.Millisecond)
	patient.SetClock(f.clock.Now)
	impatient.SetClock(f.clock.Now)

	// Alice beats Bob and stalls holding both players.
	gs.park.Store(true)
	first := make(chan error, 1)
	go func() {
		_, err := patient.RecordMatch(ctx, singles(alice, bob))
		first <- err
	}()
	<-gs.parked

	// A disjoint match commits meanwhile.
	res, err := patient.RecordMatch(ctx, singles(carol, dave))
	require.NoError(t, err)
	assert.Equal(t, 1016, res.Winners[0].NewRating)

	// An overlapping match never reaches the store and gives up.
	txs := gs.txs.Load()
	_, err = impatient.RecordMatch(ctx, singles(carol, bob))
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, txs, gs.txs.Load())

	// A patient overlapping match waits for the first to commit.
	type outcome struct {
		res *MatchResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := patient.RecordMatch(ctx, singles(carol, bob))
		second <- outcome{res, err}
	}()
	assert.Never(t, func() bool { return len(second) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, txs, gs.txs.Load())

	close(gs.release)
	require.NoError(t, <-first)
	out := <-second
	require.NoError(t, out.err)

	// Bob entered the second match at his post-first-match rating.
	m, err := f.store.GetMatch(ctx, out.res.MatchID)
	require.NoError(t, err)
	for _, part := range m.Participants {
		if part.PlayerID == bob {
			assert.Equal(t, 984, part.RatingBefore)
		}
	}
	assert.Equal(t, 984+out.res.Losers[0].EloChange, f.player(t, bob).Rating)
	assert.Equal(t, 2, f.player(t, bob).TotalMatches)
}

func TestRecordMatch_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture(t)
		ps := f.addPlayers(t, 4)

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := range steps {
			w := rapid.IntRange(0, 3).Draw(rt, "winner")
			l := rapid.IntRange(0, 3).Filter(func(x int) bool { return x != w }).Draw(rt, "loser")

			before, err := f.store.ListPlayers(ctx, false)
			require.NoError(rt, err)

			res, err := f.matches.RecordMatch(ctx, singles(ps[w].ID, ps[l].ID))
			require.NoError(rt, err)

			// Zero-sum while no one is near the floor.
			if res.Winners[0].EloChange+res.Losers[0].EloChange != 0 {
				rt.Fatalf("step %d: deltas %+v %+v are not zero-sum", i, res.Winners, res.Losers)
			}
			if res.Winners[0].EloChange < 0 {
				rt.Fatalf("step %d: winner lost rating", i)
			}

			if rapid.Bool().Draw(rt, "undo") {
				require.NoError(rt, f.matches.UndoMatch(ctx, res.MatchID))
				after, err := f.store.ListPlayers(ctx, false)
				require.NoError(rt, err)
				if diff := cmp.Diff(before, after, ignoreUpdatedAt); diff != "" {
					rt.Fatalf("step %d: undo did not restore state:\n%s", i, diff)
				}
			}
		}

		all, err := f.store.ListPlayers(ctx, false)
		require.NoError(rt, err)
		total := 0
		for _, p := range all {
			total += p.Rating
			if p.Wins+p.Losses != p.TotalMatches {
				rt.Fatalf("player %d counters out of step: %+v", p.ID, p)
			}
		}
		if total != 4000 {
			rt.Fatalf("rating total drifted to %d", total)
		}
	})
}

func TestMatchService_Metrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := metrics.New()
	f.matches.SetMetrics(m)
	ps := f.addPlayers(t, 2)

	res, err := f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[1].ID))
	require.NoError(t, err)
	require.NoError(t, f.matches.UndoMatch(ctx, res.MatchID))
	_, err = f.matches.RecordMatch(ctx, singles(ps[0].ID, ps[0].ID))
	require.Error(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				got[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, got["shed_matches_recorded_total"])
	assert.Equal(t, 1.0, got["shed_matches_undone_total"])
	assert.Equal(t, 1.0, got["shed_operation_errors_total"])
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("noop", nil))
	assert.Same(t, ErrBusy, classify("lock", ErrBusy))

	err := classify("save", errBoom)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "internal", kind(err))
	assert.Equal(t, "not_found", kind(ErrPlayerNotFound))
	assert.True(t, errors.Is(classify("get", repository.ErrMatchNotFound), ErrMatchNotFound))

	err = classify("lock", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrInternal)
}
