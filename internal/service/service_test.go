package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"shed-tournament/internal/config"
	"shed-tournament/internal/model"
	"shed-tournament/internal/pkg/lock"
	"shed-tournament/internal/rating"
	"shed-tournament/internal/repository"
)

const adminSecret = "letmein"

var errBoom = errors.New("boom")

type staticGate string

func (g staticGate) Authorize(secret string) bool { return secret == string(g) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store   *repository.MemoryStore
	locks   *lock.PlayerLock
	clock   *fakeClock
	matches *MatchService
	players *PlayerService
	seasons *SeasonService
	stats   *StatsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	locks := lock.NewPlayerLock()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)}

	f := &fixture{
		store:   store,
		locks:   locks,
		clock:   clock,
		matches: NewMatchService(store, locks, rating.NewCalculator(32, 0), 12*time.Hour, 5*time.Second),
		players: NewPlayerService(store, locks, staticGate(adminSecret), rating.DefaultRating, 5*time.Second),
		seasons: NewSeasonService(store, staticGate(adminSecret)),
		stats: NewStatsService(store, config.StatsConfig{
			Timezone:         "UTC",
			RankedMinMatches: 3,
			PricePerMatch:    3,
			MinutesPerMatch:  15,
			AuditLogLimit:    100,
			KDBoardSize:      20,
		}),
	}
	f.matches.SetClock(clock.Now)
	f.players.SetClock(clock.Now)
	f.seasons.now = clock.Now
	return f
}

// addPlayers adds named players, or n generated ones when names is empty.
func (f *fixture) addPlayers(t *testing.T, n int, names ...string) []*model.Player {
	t.Helper()
	if len(names) == 0 {
		faker := gofakeit.New(uint64(n))
		for i := range n {
			names = append(names, fmt.Sprintf("%s %d", faker.FirstName(), i))
		}
	}
	out := make([]*model.Player, 0, len(names))
	for _, name := range names {
		p, err := f.players.AddPlayer(context.Background(), name)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func (f *fixture) player(t *testing.T, id int64) *model.Player {
	t.Helper()
	p, err := f.store.GetPlayer(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) auditTexts(t *testing.T) []string {
	t.Helper()
	entries, err := f.store.ListAuditLog(context.Background(), 1000)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

func singles(winner, loser int64) RecordMatchRequest {
	return RecordMatchRequest{Mode: model.ModeSingles, WinnerIDs: []int64{winner}, LoserIDs: []int64{loser}}
}
