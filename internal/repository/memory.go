package repository

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"shed-tournament/internal/model"
)

// MemoryStore is an in-process Store. Each transaction works on a private
// copy of the state that replaces the shared state only on success, so a
// failed transaction leaves nothing behind. Transactions are serialized.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState

	// FailOn, when set, is consulted before every write made through a
	// Ledger. A non-nil error aborts the transaction.
	FailOn func(op string) error
}

type memState struct {
	players  map[int64]*model.Player
	stats    map[statsKey]model.SeasonStats
	matches  []*model.Match // ascending id
	audit    []*model.AuditLogEntry
	seasons  []*model.Season
	nextID   map[string]int64
	requests map[string]int64
}

type statsKey struct {
	player int64
	season int64
}

// NewMemoryStore creates an empty store with one current season.
func NewMemoryStore() *MemoryStore {
	st := &memState{
		players:  make(map[int64]*model.Player),
		stats:    make(map[statsKey]model.SeasonStats),
		nextID:   make(map[string]int64),
		requests: make(map[string]int64),
	}
	st.seasons = append(st.seasons, &model.Season{ID: st.id("season"), Name: "Season 1", CreatedAt: time.Now()})
	return &MemoryStore{state: st}
}

func (st *memState) id(table string) int64 {
	st.nextID[table]++
	return st.nextID[table]
}

// clone copies the state deeply enough that a transaction can mutate it.
// Matches and audit entries are immutable once stored apart from the undone
// flag, which MarkUndone replaces copy-on-write.
func (st *memState) clone() *memState {
	players := make(map[int64]*model.Player, len(st.players))
	for id, p := range st.players {
		cp := *p
		players[id] = &cp
	}
	return &memState{
		players:  players,
		stats:    maps.Clone(st.stats),
		matches:  slices.Clone(st.matches),
		audit:    slices.Clone(st.audit),
		seasons:  cloneSeasons(st.seasons),
		nextID:   maps.Clone(st.nextID),
		requests: maps.Clone(st.requests),
	}
}

func cloneSeasons(in []*model.Season) []*model.Season {
	out := make([]*model.Season, len(in))
	for i, s := range in {
		cp := *s
		out[i] = &cp
	}
	return out
}

// WithTx runs fn against a private copy and publishes it if fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	l := &memLedger{memReader: memReader{st: s.state.clone()}, failOn: s.FailOn}
	if err := fn(l); err != nil {
		return err
	}
	s.state = l.st
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// read runs fn under the read lock on the published state.
func (s *MemoryStore) read(fn func(r memReader)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(memReader{st: s.state})
}

// The Reader methods below serve the published state under the read lock.

func (s *MemoryStore) GetPlayer(ctx context.Context, id int64) (p *model.Player, err error) {
	s.read(func(r memReader) { p, err = r.GetPlayer(ctx, id) })
	return
}

func (s *MemoryStore) ListPlayers(ctx context.Context, includeDeleted bool) (ps []*model.Player, err error) {
	s.read(func(r memReader) { ps, err = r.ListPlayers(ctx, includeDeleted) })
	return
}

func (s *MemoryStore) ListSeasonStats(ctx context.Context, seasonID int64) (st []model.SeasonStats, err error) {
	s.read(func(r memReader) { st, err = r.ListSeasonStats(ctx, seasonID) })
	return
}

func (s *MemoryStore) GetMatch(ctx context.Context, id int64) (m *model.Match, err error) {
	s.read(func(r memReader) { m, err = r.GetMatch(ctx, id) })
	return
}

func (s *MemoryStore) GetMatchByRequestID(ctx context.Context, requestID string) (m *model.Match, err error) {
	s.read(func(r memReader) { m, err = r.GetMatchByRequestID(ctx, requestID) })
	return
}

func (s *MemoryStore) LatestMatch(ctx context.Context) (m *model.Match, err error) {
	s.read(func(r memReader) { m, err = r.LatestMatch(ctx) })
	return
}

func (s *MemoryStore) ListMatches(ctx context.Context, f MatchFilter) (ms []*model.Match, err error) {
	s.read(func(r memReader) { ms, err = r.ListMatches(ctx, f) })
	return
}

func (s *MemoryStore) ListAuditLog(ctx context.Context, limit int) (es []*model.AuditLogEntry, err error) {
	s.read(func(r memReader) { es, err = r.ListAuditLog(ctx, limit) })
	return
}

func (s *MemoryStore) ListSeasons(ctx context.Context) (ss []*model.Season, err error) {
	s.read(func(r memReader) { ss, err = r.ListSeasons(ctx) })
	return
}

func (s *MemoryStore) GetSeason(ctx context.Context, id int64) (season *model.Season, err error) {
	s.read(func(r memReader) { season, err = r.GetSeason(ctx, id) })
	return
}

func (s *MemoryStore) CurrentSeason(ctx context.Context) (season *model.Season, err error) {
	s.read(func(r memReader) { season, err = r.CurrentSeason(ctx) })
	return
}

// memReader answers Reader queries from one state snapshot. Every value it
// returns is a copy the caller may keep.
type memReader struct {
	st *memState
}

func copyMatch(m *model.Match) *model.Match {
	cp := *m
	cp.Participants = slices.Clone(m.Participants)
	return &cp
}

func (r memReader) GetPlayer(_ context.Context, id int64) (*model.Player, error) {
	p, ok := r.st.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memReader) ListPlayers(_ context.Context, includeDeleted bool) ([]*model.Player, error) {
	ids := slices.Sorted(maps.Keys(r.st.players))
	var out []*model.Player
	for _, id := range ids {
		p := r.st.players[id]
		if p.Deleted && !includeDeleted {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r memReader) ListSeasonStats(_ context.Context, seasonID int64) ([]model.SeasonStats, error) {
	byPlayer := make(map[int64]model.SeasonStats)
	for k, v := range r.st.stats {
		if seasonID != model.AllTimeSeason && k.season != seasonID {
			continue
		}
		acc := byPlayer[k.player]
		acc.PlayerID = k.player
		acc.SeasonID = seasonID
		acc.Add(v)
		byPlayer[k.player] = acc
	}

	out := lo.Filter(lo.Values(byPlayer), func(s model.SeasonStats, _ int) bool { return s.Matches > 0 })
	slices.SortFunc(out, func(a, b model.SeasonStats) int { return cmp.Compare(a.PlayerID, b.PlayerID) })
	return out, nil
}

func (r memReader) GetMatch(_ context.Context, id int64) (*model.Match, error) {
	i, ok := slices.BinarySearchFunc(r.st.matches, id, func(m *model.Match, id int64) int {
		return cmp.Compare(m.ID, id)
	})
	if !ok {
		return nil, ErrMatchNotFound
	}
	return copyMatch(r.st.matches[i]), nil
}

func (r memReader) GetMatchByRequestID(ctx context.Context, requestID string) (*model.Match, error) {
	id, ok := r.st.requests[requestID]
	if !ok || requestID == "" {
		return nil, ErrMatchNotFound
	}
	return r.GetMatch(ctx, id)
}

func (r memReader) LatestMatch(_ context.Context) (*model.Match, error) {
	for i := len(r.st.matches) - 1; i >= 0; i-- {
		if m := r.st.matches[i]; !m.Undone {
			return copyMatch(m), nil
		}
	}
	return nil, ErrMatchNotFound
}

func (r memReader) ListMatches(_ context.Context, f MatchFilter) ([]*model.Match, error) {
	var out []*model.Match
	for i := len(r.st.matches) - 1; i >= 0; i-- {
		m := r.st.matches[i]
		if m.Undone && !f.IncludeUndone {
			continue
		}
		if f.SeasonID != model.AllTimeSeason && m.SeasonID != f.SeasonID {
			continue
		}
		if f.PlayerID != 0 && !m.Involves(f.PlayerID) {
			continue
		}
		out = append(out, copyMatch(m))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r memReader) ListAuditLog(_ context.Context, limit int) ([]*model.AuditLogEntry, error) {
	entries := slices.Clone(r.st.audit)
	slices.SortStableFunc(entries, func(a, b *model.AuditLogEntry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*model.AuditLogEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r memReader) ListSeasons(_ context.Context) ([]*model.Season, error) {
	out := cloneSeasons(r.st.seasons)
	slices.SortStableFunc(out, compareSeasons)
	return out, nil
}

func compareSeasons(a, b *model.Season) int {
	if a.SortOrder != b.SortOrder {
		return cmp.Compare(a.SortOrder, b.SortOrder)
	}
	return cmp.Compare(b.ID, a.ID)
}

func (r memReader) GetSeason(_ context.Context, id int64) (*model.Season, error) {
	for _, s := range r.st.seasons {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSeasonNotFound
}

func (r memReader) CurrentSeason(_ context.Context) (*model.Season, error) {
	if len(r.st.seasons) == 0 {
		return nil, ErrSeasonNotFound
	}
	cur := slices.MinFunc(r.st.seasons, compareSeasons)
	cp := *cur
	return &cp, nil
}

// memLedger applies writes to the transaction's private state.
type memLedger struct {
	memReader
	failOn func(op string) error
}

func (l *memLedger) check(op string) error {
	if l.failOn == nil {
		return nil
	}
	return l.failOn(op)
}

func (l *memLedger) LockPlayers(ctx context.Context, ids []int64) ([]*model.Player, error) {
	if err := l.check("LockPlayers"); err != nil {
		return nil, err
	}
	sorted := lo.Uniq(ids)
	slices.Sort(sorted)

	out := make([]*model.Player, 0, len(sorted))
	for _, id := range sorted {
		p, err := l.GetPlayer(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (l *memLedger) liveNameTaken(name string, except int64) bool {
	for _, p := range l.st.players {
		if !p.Deleted && p.ID != except && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func (l *memLedger) CreatePlayer(_ context.Context, name string, rating int, now time.Time) (*model.Player, error) {
	if err := l.check("CreatePlayer"); err != nil {
		return nil, err
	}
	if l.liveNameTaken(name, 0) {
		return nil, ErrDuplicateName
	}
	p := &model.Player{
		ID:        l.st.id("player"),
		Name:      name,
		Rating:    rating,
		Streak:    model.NoStreak(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.st.players[p.ID] = p
	cp := *p
	return &cp, nil
}

func (l *memLedger) SavePlayer(_ context.Context, p *model.Player) error {
	if err := l.check("SavePlayer"); err != nil {
		return err
	}
	cur, ok := l.st.players[p.ID]
	if !ok {
		return ErrPlayerNotFound
	}
	// Names are unique among live players only, as in the partial index.
	if !cur.Deleted && l.liveNameTaken(p.Name, p.ID) {
		return ErrDuplicateName
	}
	cp := *p
	cp.Deleted, cp.DeletedAt, cp.CreatedAt = cur.Deleted, cur.DeletedAt, cur.CreatedAt
	l.st.players[p.ID] = &cp
	return nil
}

func (l *memLedger) SoftDeletePlayer(_ context.Context, id int64, at time.Time) error {
	if err := l.check("SoftDeletePlayer"); err != nil {
		return err
	}
	p, ok := l.st.players[id]
	if !ok || p.Deleted {
		return ErrPlayerNotFound
	}
	p.Deleted = true
	p.DeletedAt = &at
	p.UpdatedAt = at
	return nil
}

func (l *memLedger) InsertMatch(_ context.Context, m *model.Match) error {
	if err := l.check("InsertMatch"); err != nil {
		return err
	}
	if m.RequestID != "" {
		if _, dup := l.st.requests[m.RequestID]; dup {
			return ErrDuplicateRequest
		}
	}
	m.ID = l.st.id("match")
	l.st.matches = append(l.st.matches, copyMatch(m))
	if m.RequestID != "" {
		l.st.requests[m.RequestID] = m.ID
	}
	return nil
}

func (l *memLedger) MarkUndone(_ context.Context, id int64, at time.Time) error {
	if err := l.check("MarkUndone"); err != nil {
		return err
	}
	for i, m := range l.st.matches {
		if m.ID != id {
			continue
		}
		if m.Undone {
			return ErrMatchNotFound
		}
		cp := copyMatch(m)
		cp.Undone = true
		cp.UndoneAt = &at
		l.st.matches[i] = cp
		return nil
	}
	return ErrMatchNotFound
}

func (l *memLedger) AddSeasonStats(_ context.Context, d model.SeasonStats) error {
	if err := l.check("AddSeasonStats"); err != nil {
		return err
	}
	k := statsKey{player: d.PlayerID, season: d.SeasonID}
	cur := l.st.stats[k]
	cur.PlayerID, cur.SeasonID = d.PlayerID, d.SeasonID
	cur.Add(d)
	l.st.stats[k] = cur
	return nil
}

func (l *memLedger) AppendAudit(_ context.Context, e *model.AuditLogEntry) error {
	if err := l.check("AppendAudit"); err != nil {
		return err
	}
	e.ID = l.st.id("audit")
	cp := *e
	l.st.audit = append(l.st.audit, &cp)
	return nil
}

func (l *memLedger) CreateSeason(_ context.Context, name string, now time.Time) (*model.Season, error) {
	if err := l.check("CreateSeason"); err != nil {
		return nil, err
	}
	for _, s := range l.st.seasons {
		s.SortOrder++
	}
	s := &model.Season{ID: l.st.id("season"), Name: name, CreatedAt: now}
	l.st.seasons = append(l.st.seasons, s)
	cp := *s
	return &cp, nil
}
