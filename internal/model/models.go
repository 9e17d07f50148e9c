// Package model defines the data models for the match ledger and the
// player projection.
package model

import "time"

// AllTimeSeason is the virtual season aggregating every real season.
// Passed to RecordMatch it selects the current season instead.
const AllTimeSeason int64 = 0

// Mode is the match format.
type Mode string

// Match modes.
const (
	ModeSingles Mode = "singles"
	ModeDoubles Mode = "doubles"
)

// SideSize returns the number of players per side for the mode, or 0 for an
// unknown mode.
func (m Mode) SideSize() int {
	switch m {
	case ModeSingles:
		return 1
	case ModeDoubles:
		return 2
	default:
		return 0
	}
}

// Side is a participant's result in a match.
type Side string

// Match sides.
const (
	SideWinner Side = "winner"
	SideLoser  Side = "loser"
)

// StreakType is the kind of run a player is on.
type StreakType string

// Streak types.
const (
	StreakNone StreakType = "none"
	StreakWin  StreakType = "win"
	StreakLoss StreakType = "loss"
)

// StreakState is a player's current run of consecutive wins or losses.
type StreakState struct {
	Type            StreakType `json:"type"`
	Length          int        `json:"length"`
	CumulativeDelta int        `json:"cumulative_delta"`
}

// NoStreak is the zero streak of a player without matches.
func NoStreak() StreakState {
	return StreakState{Type: StreakNone}
}

// Player is the current mutable projection of one player.
// Invariant: Wins + Losses == TotalMatches.
type Player struct {
	ID              int64       `db:"id" json:"id"`
	Name            string      `db:"name" json:"name"`
	Rating          int         `db:"rating" json:"rating"`
	TotalMatches    int         `db:"total_matches" json:"total_matches"`
	Wins            int         `db:"wins" json:"wins"`
	Losses          int         `db:"losses" json:"losses"`
	Streak          StreakState `json:"current_streak"`
	RecentlyPantsed bool        `db:"recently_pantsed" json:"recently_pantsed"`
	Deleted         bool        `db:"deleted" json:"-"`
	DeletedAt       *time.Time  `db:"deleted_at" json:"-"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// SeasonStats holds one player's counters for one season.
type SeasonStats struct {
	PlayerID     int64 `db:"player_id" json:"player_id"`
	SeasonID     int64 `db:"season_id" json:"season_id"`
	Matches      int   `db:"matches" json:"matches"`
	Wins         int   `db:"wins" json:"wins"`
	Losses       int   `db:"losses" json:"losses"`
	RatingChange int   `db:"rating_change" json:"rating_change"`
}

// Add accumulates the counters of d into s.
func (s *SeasonStats) Add(d SeasonStats) {
	s.Matches += d.Matches
	s.Wins += d.Wins
	s.Losses += d.Losses
	s.RatingChange += d.RatingChange
}

// Flags are narrative tags on a match. They never affect rating math.
type Flags struct {
	Pantsed    bool `db:"is_pantsed" json:"is_pantsed"`
	AwayGame   bool `db:"is_away_game" json:"is_away_game"`
	LostByFoul bool `db:"is_lost_by_foul" json:"is_lost_by_foul"`
}

// Labels returns the human readable names of the flags that are set.
func (f Flags) Labels() []string {
	var labels []string
	if f.Pantsed {
		labels = append(labels, "pantsed")
	}
	if f.AwayGame {
		labels = append(labels, "away game")
	}
	if f.LostByFoul {
		labels = append(labels, "lost by foul")
	}
	return labels
}

// Participant is one player's row on a match. The pre-match snapshot
// (RatingBefore, StreakBefore, PantsedBefore) is what undo restores.
type Participant struct {
	PlayerID      int64       `db:"player_id" json:"player_id"`
	Side          Side        `db:"side" json:"side"`
	RatingBefore  int         `db:"rating_before" json:"rating_before"`
	RatingDelta   int         `db:"rating_delta" json:"rating_delta"`
	StreakBefore  StreakState `json:"streak_before"`
	PantsedBefore bool        `db:"pantsed_before" json:"pantsed_before"`
}

// Won reports whether the participant was on the winning side.
func (p Participant) Won() bool {
	return p.Side == SideWinner
}

// Match is an immutable ledger row. Only Undone and UndoneAt ever change.
type Match struct {
	ID           int64         `db:"id" json:"id"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	SeasonID     int64         `db:"season_id" json:"season_id"`
	Mode         Mode          `db:"mode" json:"mode"`
	Participants []Participant `json:"participants"`
	Flags        Flags         `json:"flags"`
	Undone       bool          `db:"undone" json:"undone"`
	UndoneAt     *time.Time    `db:"undone_at" json:"undone_at,omitempty"`
	RequestID    string        `db:"request_id" json:"request_id,omitempty"`
}

// Winners returns the winning player ids in participant order.
func (m *Match) Winners() []int64 {
	return m.side(SideWinner)
}

// Losers returns the losing player ids in participant order.
func (m *Match) Losers() []int64 {
	return m.side(SideLoser)
}

func (m *Match) side(s Side) []int64 {
	ids := make([]int64, 0, len(m.Participants))
	for _, p := range m.Participants {
		if p.Side == s {
			ids = append(ids, p.PlayerID)
		}
	}
	return ids
}

// PlayerIDs returns every participant id.
func (m *Match) PlayerIDs() []int64 {
	ids := make([]int64, len(m.Participants))
	for i, p := range m.Participants {
		ids[i] = p.PlayerID
	}
	return ids
}

// RatingDeltas returns the frozen rating delta per player.
func (m *Match) RatingDeltas() map[int64]int {
	deltas := make(map[int64]int, len(m.Participants))
	for _, p := range m.Participants {
		deltas[p.PlayerID] = p.RatingDelta
	}
	return deltas
}

// Participant returns the row for playerID.
func (m *Match) Participant(playerID int64) (Participant, bool) {
	for _, p := range m.Participants {
		if p.PlayerID == playerID {
			return p, true
		}
	}
	return Participant{}, false
}

// Involves reports whether playerID took part in the match.
func (m *Match) Involves(playerID int64) bool {
	_, ok := m.Participant(playerID)
	return ok
}

// AuditLogEntry is an append-only, human readable record of a mutation.
type AuditLogEntry struct {
	ID         int64     `db:"id" json:"id"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Text       string    `db:"text" json:"text"`
	RefMatchID *int64    `db:"ref_match_id" json:"ref_match_id,omitempty"`
}

// Season groups matches for standings. SortOrder 0 is the current season.
type Season struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsCurrent reports whether this is the season new matches land in.
func (s Season) IsCurrent() bool {
	return s.SortOrder == 0
}
