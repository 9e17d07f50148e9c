// Package stats derives leaderboards and records from the match ledger.
// Every function is a pure fold over non-undone matches ordered oldest
// first; callers filter by season or player before folding.
package stats

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"shed-tournament/internal/model"
	"shed-tournament/internal/streak"
)

// Standing is one row of the season leaderboard.
type Standing struct {
	PlayerID        int64             `json:"player_id"`
	Name            string            `json:"name"`
	Rating          int               `json:"rating"`
	Matches         int               `json:"matches_in_season"`
	Wins            int               `json:"wins"`
	Losses          int               `json:"losses"`
	RatingChange    int               `json:"rating_change"`
	Ranked          bool              `json:"ranked"`
	RecentlyPantsed bool              `json:"recently_pantsed"`
	CurrentStreak   model.StreakState `json:"current_streak"`
}

// Standings joins live players with their season counters. A player is
// ranked once they have minMatches matches in the season. Ranked players
// come first, then by rating and name.
func Standings(players []*model.Player, season []model.SeasonStats, minMatches int) []Standing {
	bySeason := lo.KeyBy(season, func(s model.SeasonStats) int64 { return s.PlayerID })

	out := make([]Standing, 0, len(players))
	for _, p := range players {
		if p.Deleted {
			continue
		}
		s := bySeason[p.ID]
		out = append(out, Standing{
			PlayerID:        p.ID,
			Name:            p.Name,
			Rating:          p.Rating,
			Matches:         s.Matches,
			Wins:            s.Wins,
			Losses:          s.Losses,
			RatingChange:    s.RatingChange,
			Ranked:          s.Matches >= minMatches,
			RecentlyPantsed: p.RecentlyPantsed,
			CurrentStreak:   p.Streak,
		})
	}

	slices.SortStableFunc(out, func(a, b Standing) int {
		if a.Ranked != b.Ranked {
			if a.Ranked {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// histories splits the ledger into per-player results, oldest first.
func histories(matches []*model.Match) map[int64][]streak.Result {
	out := make(map[int64][]streak.Result)
	for _, m := range matches {
		if m.Undone {
			continue
		}
		for _, p := range m.Participants {
			out[p.PlayerID] = append(out[p.PlayerID], streak.Result{Won: p.Won(), Delta: p.RatingDelta})
		}
	}
	return out
}

func live(players []*model.Player) []*model.Player {
	return lo.Filter(players, func(p *model.Player, _ int) bool { return !p.Deleted })
}

// ActiveStreak is a streak a player is currently on.
type ActiveStreak struct {
	PlayerID        int64            `json:"player_id"`
	Name            string           `json:"name"`
	Rating          int              `json:"rating"`
	Type            model.StreakType `json:"type"`
	Length          int              `json:"length"`
	CumulativeDelta int              `json:"cumulative_delta"`
}

// ActiveStreaks lists live players whose current streak over matches is at
// least two long. Win streaks come first, then longer, then larger swings.
func ActiveStreaks(players []*model.Player, matches []*model.Match) []ActiveStreak {
	hist := histories(matches)

	var out []ActiveStreak
	for _, p := range live(players) {
		cur := streak.Current(hist[p.ID])
		if cur.Length < 2 {
			continue
		}
		out = append(out, ActiveStreak{
			PlayerID:        p.ID,
			Name:            p.Name,
			Rating:          p.Rating,
			Type:            cur.Type,
			Length:          cur.Length,
			CumulativeDelta: cur.CumulativeDelta,
		})
	}

	slices.SortStableFunc(out, func(a, b ActiveStreak) int {
		if a.Type != b.Type {
			if a.Type == model.StreakWin {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Length, a.Length); c != 0 {
			return c
		}
		if c := cmp.Compare(abs(b.CumulativeDelta), abs(a.CumulativeDelta)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// LongestStreak is a player's record run of one type.
type LongestStreak struct {
	PlayerID        int64            `json:"player_id"`
	Name            string           `json:"name"`
	Type            model.StreakType `json:"streak_type"`
	Length          int              `json:"longest_streak"`
	CumulativeDelta int              `json:"longest_streak_delta"`
}

// LongestStreaks returns, for every live player, the longest win run and
// the longest loss run in the history. Ties keep the earliest run.
func LongestStreaks(players []*model.Player, matches []*model.Match) []LongestStreak {
	hist := histories(matches)

	var out []LongestStreak
	for _, p := range live(players) {
		rec := streak.Longest(hist[p.ID])
		if rec.Win.Length > 0 {
			out = append(out, LongestStreak{p.ID, p.Name, model.StreakWin, rec.Win.Length, rec.Win.CumulativeDelta})
		}
		if rec.Loss.Length > 0 {
			out = append(out, LongestStreak{p.ID, p.Name, model.StreakLoss, rec.Loss.Length, rec.Loss.CumulativeDelta})
		}
	}

	slices.SortStableFunc(out, func(a, b LongestStreak) int {
		if a.Type != b.Type {
			if a.Type == model.StreakWin {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Length, a.Length); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	return out
}

// KD is a player's win/loss ratio.
type KD struct {
	PlayerID int64   `json:"player_id"`
	Name     string  `json:"name"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	KD       float64 `json:"kd"`
}

// Ratio is wins / max(losses, 1) rounded to two decimals.
func Ratio(wins, losses int) float64 {
	return roundTo(float64(wins)/float64(max(losses, 1)), 2)
}

// KDs ranks live players by ratio, then wins, then fewest losses, and
// returns at most limit rows (all rows when limit <= 0).
func KDs(players []*model.Player, matches []*model.Match, limit int) []KD {
	hist := histories(matches)

	out := make([]KD, 0, len(players))
	for _, p := range live(players) {
		wins := lo.CountBy(hist[p.ID], func(r streak.Result) bool { return r.Won })
		losses := len(hist[p.ID]) - wins
		out = append(out, KD{PlayerID: p.ID, Name: p.Name, Wins: wins, Losses: losses, KD: Ratio(wins, losses)})
	}

	slices.SortStableFunc(out, func(a, b KD) int {
		if c := cmp.Compare(b.KD, a.KD); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Wins, a.Wins); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Losses, b.Losses); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DayRecord is the most matches one player played on one calendar day.
type DayRecord struct {
	PlayerID      *int64 `json:"player_id"`
	Name          string `json:"player_name,omitempty"`
	Date          string `json:"date,omitempty"`
	MatchesPlayed int    `json:"matches_played"`
}

// MostMatchesInDay finds the player and day with the most appearances, with
// days taken in loc. Ties go to the name that sorts first, then the earlier
// day. Deleted players still count; it is a historical record.
func MostMatchesInDay(players []*model.Player, matches []*model.Match, loc *time.Location) DayRecord {
	type key struct {
		player int64
		day    string
	}
	counts := make(map[key]int)
	for _, m := range matches {
		if m.Undone {
			continue
		}
		day := m.CreatedAt.In(loc).Format(time.DateOnly)
		for _, id := range m.PlayerIDs() {
			counts[key{id, day}]++
		}
	}

	names := lo.SliceToMap(players, func(p *model.Player) (int64, string) { return p.ID, p.Name })

	var (
		best  key
		found bool
		top   int
	)
	for k, n := range counts {
		better := !found || n > top ||
			(n == top && (names[k.player] < names[best.player] ||
				(names[k.player] == names[best.player] && k.day < best.day)))
		if better {
			best, top, found = k, n, true
		}
	}
	if !found {
		return DayRecord{}
	}

	id := best.player
	return DayRecord{PlayerID: &id, Name: names[id], Date: best.day, MatchesPlayed: top}
}

// Totals are light-hearted aggregate figures over the whole ledger.
type Totals struct {
	TotalMatches        int `json:"total_matches"`
	MoneySaved          int `json:"money_saved"`
	TimeWasted          int `json:"time_wasted"`
	PerPersonTimeWasted int `json:"per_person_time_wasted"`
}

// TotalStats prices every match at pricePerMatch and minutesPerMatch. Per
// person time counts every appearance.
func TotalStats(matches []*model.Match, pricePerMatch, minutesPerMatch int) Totals {
	var t Totals
	appearances := 0
	for _, m := range matches {
		if m.Undone {
			continue
		}
		t.TotalMatches++
		appearances += len(m.Participants)
	}
	t.MoneySaved = t.TotalMatches * pricePerMatch
	t.TimeWasted = t.TotalMatches * minutesPerMatch
	t.PerPersonTimeWasted = appearances * minutesPerMatch
	return t
}

// DayCount is the number of matches on one day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// MatchesPerDay counts matches per calendar day in loc, oldest day first,
// formatted dd/mm/yy. A non-zero playerID counts only that player's matches.
func MatchesPerDay(matches []*model.Match, playerID int64, loc *time.Location) []DayCount {
	counts := make(map[time.Time]int)
	for _, m := range matches {
		if m.Undone || (playerID != 0 && !m.Involves(playerID)) {
			continue
		}
		t := m.CreatedAt.In(loc)
		counts[time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)]++
	}

	days := lo.Keys(counts)
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })

	out := make([]DayCount, len(days))
	for i, d := range days {
		out[i] = DayCount{Date: d.Format("02/01/06"), Count: counts[d]}
	}
	return out
}

// HeadToHeadSide is one player's half of a head-to-head record.
type HeadToHeadSide struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinPercentage float64 `json:"win_percentage"`
	RatingGained  int     `json:"rating_gained"`
	CurrentRating int     `json:"current_rating"`
}

// HeadToHead summarizes every match two players played on opposite sides.
type HeadToHead struct {
	Player1              HeadToHeadSide `json:"player1"`
	Player2              HeadToHeadSide `json:"player2"`
	TotalMatches         int            `json:"total_matches"`
	MostFrequentDay      string         `json:"most_frequent_day,omitempty"`
	MostFrequentDayCount int            `json:"most_frequent_day_count"`
	DayBreakdown         map[string]int `json:"day_breakdown"`
}

// HeadToHeadStats folds the matches where p1 and p2 faced each other.
// Weekdays are taken in loc; the most frequent day breaks ties by first
// occurrence.
func HeadToHeadStats(p1, p2 *model.Player, matches []*model.Match, loc *time.Location) HeadToHead {
	h := HeadToHead{
		Player1:      HeadToHeadSide{ID: p1.ID, Name: p1.Name, CurrentRating: p1.Rating},
		Player2:      HeadToHeadSide{ID: p2.ID, Name: p2.Name, CurrentRating: p2.Rating},
		DayBreakdown: make(map[string]int),
	}

	var dayOrder []string
	for _, m := range matches {
		if m.Undone {
			continue
		}
		a, okA := m.Participant(p1.ID)
		b, okB := m.Participant(p2.ID)
		if !okA || !okB || a.Side == b.Side {
			continue
		}

		h.TotalMatches++
		if a.Won() {
			h.Player1.Wins++
			h.Player1.RatingGained += a.RatingDelta
		} else {
			h.Player2.Wins++
			h.Player2.RatingGained += b.RatingDelta
		}

		day := m.CreatedAt.In(loc).Weekday().String()
		if _, seen := h.DayBreakdown[day]; !seen {
			dayOrder = append(dayOrder, day)
		}
		h.DayBreakdown[day]++
	}

	h.Player1.Losses = h.Player2.Wins
	h.Player2.Losses = h.Player1.Wins
	if h.TotalMatches > 0 {
		h.Player1.WinPercentage = roundTo(float64(h.Player1.Wins)/float64(h.TotalMatches)*100, 1)
		h.Player2.WinPercentage = roundTo(float64(h.Player2.Wins)/float64(h.TotalMatches)*100, 1)
	}

	for _, day := range dayOrder {
		if n := h.DayBreakdown[day]; n > h.MostFrequentDayCount {
			h.MostFrequentDay, h.MostFrequentDayCount = day, n
		}
	}
	return h
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
