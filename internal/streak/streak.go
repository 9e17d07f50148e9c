// Package streak implements the streak state machine and the folds that
// derive current and longest streaks from a player's match history.
package streak

import "shed-tournament/internal/model"

// Result is one player's outcome in one match.
type Result struct {
	Won   bool
	Delta int
}

// TypeOf maps a match outcome to its streak type.
func TypeOf(won bool) model.StreakType {
	if won {
		return model.StreakWin
	}
	return model.StreakLoss
}

// Advance returns the streak after one more match. A result of the same type
// extends the run; anything else starts a new run of length 1.
func Advance(s model.StreakState, won bool, delta int) model.StreakState {
	t := TypeOf(won)
	if s.Type == t && s.Length > 0 {
		return model.StreakState{
			Type:            t,
			Length:          s.Length + 1,
			CumulativeDelta: s.CumulativeDelta + delta,
		}
	}
	return model.StreakState{Type: t, Length: 1, CumulativeDelta: delta}
}

// Current replays history, oldest first, into the current streak.
func Current(history []Result) model.StreakState {
	s := model.NoStreak()
	for _, r := range history {
		s = Advance(s, r.Won, r.Delta)
	}
	return s
}

// Run is a completed or ongoing streak of one type.
type Run struct {
	Length          int `json:"length"`
	CumulativeDelta int `json:"cumulative_delta"`
}

// Record holds a player's longest win and loss runs.
type Record struct {
	Win  Run `json:"win"`
	Loss Run `json:"loss"`
}

// Observe offers the current streak as a longest-streak candidate. Only a
// strictly longer run replaces the record, so the earliest run wins ties.
func (r *Record) Observe(s model.StreakState) bool {
	var best *Run
	switch s.Type {
	case model.StreakWin:
		best = &r.Win
	case model.StreakLoss:
		best = &r.Loss
	default:
		return false
	}
	if s.Length <= best.Length {
		return false
	}
	*best = Run{Length: s.Length, CumulativeDelta: s.CumulativeDelta}
	return true
}

// Longest scans history, oldest first, for the longest run of each type.
func Longest(history []Result) Record {
	var rec Record
	s := model.NoStreak()
	for _, r := range history {
		s = Advance(s, r.Won, r.Delta)
		rec.Observe(s)
	}
	return rec
}
