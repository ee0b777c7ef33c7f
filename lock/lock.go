/*
Package lock provides per-subject advisory locks with a bounded wait.

PURPOSE:
  Guards "exactly one" invariants that are race-prone under concurrent
  requests from the same actor: two decisions on the same approval chain,
  or two check-ins for the same employee and day. Callers acquire a lock
  keyed by the subject, do their read-check-write, and release.

BOUNDED WAIT:
  Acquire never blocks indefinitely. If the lock cannot be taken within
  the wait duration it returns ErrTimeout, which callers surface as a
  retryable conflict.

IMPLEMENTATIONS:
  - Memory:   in-process, single replica deployments and tests
  - Redis:    SET NX PX with a token, released by compare-and-delete
  - Postgres: pg_try_advisory_lock on a dedicated pooled connection

USAGE:
  unlock, err := locker.Acquire(ctx, lock.Key("approval", "leave_request", id), 3*time.Second)
  if err != nil {
      return err
  }
  defer unlock()
*/
package lock

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within the wait.
var ErrTimeout = errors.New("lock not acquired: subject is busy")

// pollInterval is how often remote backends retry a contended lock.
const pollInterval = 50 * time.Millisecond

// Unlock releases a held lock. Safe to call more than once.
type Unlock func()

// Locker acquires advisory locks keyed by subject.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (Unlock, error)
}

// Key joins parts into a lock key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// IsTimeout reports whether err is a lock acquisition timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// retry polls try until it succeeds, the wait elapses, or ctx is done.
func retry(ctx context.Context, wait time.Duration, try func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
