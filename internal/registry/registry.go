// Package registry applies and reverts match outcomes on the player
// projection. It is the only code that mutates rating, counters and streak
// state; the services call it inside a store transaction.
package registry

import (
	"time"

	"shed-tournament/internal/model"
	"shed-tournament/internal/streak"
)

// Outcome is one participant's result in a match being recorded. Delta is
// the final, already floor-clamped rating change.
type Outcome struct {
	Side    model.Side
	Delta   int
	Pantsed bool
}

// Apply mutates p for a recorded match and returns the participant row with
// the pre-match snapshot plus the season counter increment.
func Apply(p *model.Player, seasonID int64, o Outcome, now time.Time) (model.Participant, model.SeasonStats) {
	won := o.Side == model.SideWinner

	part := model.Participant{
		PlayerID:      p.ID,
		Side:          o.Side,
		RatingBefore:  p.Rating,
		RatingDelta:   o.Delta,
		StreakBefore:  p.Streak,
		PantsedBefore: p.RecentlyPantsed,
	}

	p.Rating += o.Delta
	p.TotalMatches++
	if won {
		p.Wins++
	} else {
		p.Losses++
		// The flag tracks the most recent loss only.
		p.RecentlyPantsed = o.Pantsed
	}
	p.Streak = streak.Advance(p.Streak, won, o.Delta)
	p.UpdatedAt = now

	return part, seasonDelta(p.ID, seasonID, won, o.Delta, 1)
}

// Revert restores p to the snapshot stored on part and returns the season
// counter decrement. It must only be applied to the player's latest match.
func Revert(p *model.Player, seasonID int64, part model.Participant, now time.Time) model.SeasonStats {
	won := part.Won()

	p.Rating -= part.RatingDelta
	p.TotalMatches--
	if won {
		p.Wins--
	} else {
		p.Losses--
	}
	p.Streak = part.StreakBefore
	p.RecentlyPantsed = part.PantsedBefore
	p.UpdatedAt = now

	return seasonDelta(p.ID, seasonID, won, part.RatingDelta, -1)
}

func seasonDelta(playerID, seasonID int64, won bool, delta, sign int) model.SeasonStats {
	s := model.SeasonStats{
		PlayerID:     playerID,
		SeasonID:     seasonID,
		Matches:      sign,
		RatingChange: sign * delta,
	}
	if won {
		s.Wins = sign
	} else {
		s.Losses = sign
	}
	return s
}
