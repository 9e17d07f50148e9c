package service

import (
	"context"
	"errors"
	"fmt"

	"shed-tournament/internal/pkg/lock"
	"shed-tournament/internal/rating"
	"shed-tournament/internal/repository"
)

// Service errors. The transport layer maps each to a status code.
var (
	ErrInvalidMatch   = rating.ErrInvalidMatch
	ErrInvalidName    = errors.New("invalid name")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPlayerNotFound = repository.ErrPlayerNotFound
	ErrMatchNotFound  = repository.ErrMatchNotFound
	ErrSeasonNotFound = repository.ErrSeasonNotFound
	ErrDuplicateName  = repository.ErrDuplicateName
	ErrAlreadyUndone  = errors.New("match already undone")
	ErrNotLatest      = errors.New("only the most recent match can be undone")
	ErrExpired        = errors.New("undo window has passed")
	ErrBusy           = errors.New("players are busy, retry shortly")
	ErrInternal       = errors.New("internal error")
)

var known = []error{
	ErrInvalidMatch, ErrInvalidName, ErrUnauthorized,
	ErrPlayerNotFound, ErrMatchNotFound, ErrSeasonNotFound, ErrDuplicateName,
	ErrAlreadyUndone, ErrNotLatest, ErrExpired, ErrBusy, ErrInternal,
}

// classify passes service errors through and wraps anything else, such as
// a storage failure, as ErrInternal. A cancelled or expired context is the
// caller giving up, not a fault, and keeps its own identity.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	if cancelled(err) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrInternal, op, err)
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// lockError reports a lock timeout as ErrBusy.
func lockError(err error) error {
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return err
}

// kind names an error for metrics labels.
func kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMatch), errors.Is(err, ErrInvalidName):
		return "invalid"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrMatchNotFound), errors.Is(err, ErrSeasonNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrAlreadyUndone), errors.Is(err, ErrNotLatest):
		return "conflict"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrBusy):
		return "busy"
	case cancelled(err):
		return "cancelled"
	default:
		return "internal"
	}
}
