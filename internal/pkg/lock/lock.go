// Package lock provides per-player locking so that matches sharing a player
// serialize while disjoint matches run in parallel.
package lock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// PlayerLock holds one mutex per player id. Mutexes are created on first use
// and kept for the life of the process; the player pool is small.
type PlayerLock struct {
	locks sync.Map // map[int64]*sync.Mutex
}

// NewPlayerLock creates a new PlayerLock instance.
func NewPlayerLock() *PlayerLock {
	return &PlayerLock{}
}

// getLock retrieves or creates the mutex for the given player ID.
func (pl *PlayerLock) getLock(playerID int64) *sync.Mutex {
	if v, ok := pl.locks.Load(playerID); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := pl.locks.LoadOrStore(playerID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// unlock releases the lock for a player.
func (pl *PlayerLock) unlock(playerID int64) {
	if v, ok := pl.locks.Load(playerID); ok {
		v.(*sync.Mutex).Unlock()
	}
}

// acquire blocks until the lock is held or ctx is done.
func (pl *PlayerLock) acquire(ctx context.Context, playerID int64) bool {
	mu := pl.getLock(playerID)
	if mu.TryLock() {
		return true
	}

	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		// The waiter still gets the mutex eventually; hand it straight back.
		go func() {
			<-done
			mu.Unlock()
		}()
		return false
	}
}

// LockAll acquires the locks of every id in ascending order, so two
// overlapping sets can never deadlock. Duplicates are ignored. On timeout
// every lock already taken is released and ErrLockTimeout is returned.
// The returned function releases all locks.
func (pl *PlayerLock) LockAll(ctx context.Context, playerIDs []int64, timeout time.Duration) (func(), error) {
	ids := lo.Uniq(playerIDs)
	slices.Sort(ids)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	held := make([]int64, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			pl.unlock(held[i])
		}
	}

	for _, id := range ids {
		if !pl.acquire(timeoutCtx, id) {
			release()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrLockTimeout
		}
		held = append(held, id)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// WithLockContext executes fn while holding the locks of every id. Errors
// from acquiring the locks are ErrLockTimeout or the context's error.
func (pl *PlayerLock) WithLockContext(ctx context.Context, playerIDs []int64, timeout time.Duration, fn func() error) error {
	unlock, err := pl.LockAll(ctx, playerIDs, timeout)
	if err != nil {
		return err
	}
	defer unlock()

	// Check if context was cancelled while waiting for the locks
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
