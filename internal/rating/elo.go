// Package rating implements the ELO rating update for singles and doubles
// matches.
package rating

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"

	"shed-tournament/internal/model"
)

// ErrInvalidMatch is returned for a participant set that cannot form a match.
var ErrInvalidMatch = errors.New("invalid match")

const (
	// DefaultKFactor is the maximum rating swing per match.
	DefaultKFactor = 32
	// DefaultRating is the rating a new player starts with.
	DefaultRating = 1000
)

// Calculator computes rating deltas. K is fixed for the whole process and
// does not depend on how many matches a player has played.
type Calculator struct {
	K         int
	MinRating int
}

// NewCalculator creates a Calculator with the given K-factor and rating floor.
func NewCalculator(k, minRating int) *Calculator {
	if k <= 0 {
		k = DefaultKFactor
	}
	return &Calculator{K: k, MinRating: minRating}
}

// ExpectedScore returns the probability that a side rated winner beats a
// side rated loser.
func ExpectedScore(winner, loser float64) float64 {
	return 1 / (1 + math.Pow(10, (loser-winner)/400))
}

// Validate checks a proposed participant set.
//   - mode must be singles (1v1) or doubles (2v2)
//   - ids must be positive
//   - no player may appear twice, on the same side or across sides
func Validate(mode model.Mode, winners, losers []int64) error {
	size := mode.SideSize()
	if size == 0 {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidMatch, mode)
	}
	if len(winners) != size || len(losers) != size {
		return fmt.Errorf("%w: %s needs %d player(s) per side, got %d winner(s) and %d loser(s)",
			ErrInvalidMatch, mode, size, len(winners), len(losers))
	}

	all := append(append(make([]int64, 0, 2*size), winners...), losers...)
	if lo.ContainsBy(all, func(id int64) bool { return id <= 0 }) {
		return fmt.Errorf("%w: player ids must be positive", ErrInvalidMatch)
	}
	if both := lo.Intersect(winners, losers); len(both) > 0 {
		return fmt.Errorf("%w: player %d is on both sides", ErrInvalidMatch, both[0])
	}
	if len(lo.Uniq(all)) != len(all) {
		return fmt.Errorf("%w: %s needs %d distinct players", ErrInvalidMatch, mode, 2*size)
	}
	return nil
}

// ComputeDeltas returns the rating change of every winner and every loser, in
// input order. Each side is rated by the mean of its members and the same
// delta applies to every member of a side. A loser's loss is truncated so
// the rating never drops below MinRating.
func (c *Calculator) ComputeDeltas(mode model.Mode, winnerRatings, loserRatings []int) ([]int, []int, error) {
	size := mode.SideSize()
	if size == 0 || len(winnerRatings) != size || len(loserRatings) != size {
		return nil, nil, fmt.Errorf("%w: %s with %d winner and %d loser rating(s)",
			ErrInvalidMatch, mode, len(winnerRatings), len(loserRatings))
	}

	expected := ExpectedScore(sideRating(winnerRatings), sideRating(loserRatings))
	delta := int(math.Round(float64(c.K) * (1 - expected)))

	winnerDeltas := make([]int, len(winnerRatings))
	for i := range winnerRatings {
		winnerDeltas[i] = delta
	}

	loserDeltas := make([]int, len(loserRatings))
	for i, r := range loserRatings {
		loserDeltas[i] = -c.clampLoss(r, delta)
	}

	return winnerDeltas, loserDeltas, nil
}

// clampLoss truncates loss so that rating-loss stays at or above MinRating.
func (c *Calculator) clampLoss(rating, loss int) int {
	if rating-loss >= c.MinRating {
		return loss
	}
	return max(rating-c.MinRating, 0)
}

func sideRating(ratings []int) float64 {
	return float64(lo.Sum(ratings)) / float64(len(ratings))
}
