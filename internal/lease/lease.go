// Package lease provides an exclusive, non-blocking, OS-level advisory lock
// on a file path. Cooperating processes use it to agree on a single writer;
// the kernel drops the lock if the holder exits.
package lease

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockDirPerms is used when creating the lock file's directory.
const lockDirPerms = 0o700

// Guard is proof of a held lease. Release must be called on every exit path.
type Guard struct {
	lock *flock.Flock
}

// Release drops the lock. It is safe to call more than once.
func (g *Guard) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}

	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("lease: releasing %s: %w", g.lock.Path(), err)
	}

	return nil
}

// Path returns the lock file path this guard holds.
func (g *Guard) Path() string {
	return g.lock.Path()
}

// TryAcquire attempts to take the lease on path without blocking.
// It returns (guard, true, nil) when acquired and (nil, false, nil) when
// another holder has it. The lock file is created if needed and is never
// removed, so every process locks the same inode.
func TryAcquire(path string) (*Guard, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), lockDirPerms); err != nil {
		return nil, false, fmt.Errorf("lease: creating directory for %s: %w", path, err)
	}

	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lease: locking %s: %w", path, err)
	}

	if !locked {
		return nil, false, nil
	}

	return &Guard{lock: lock}, true, nil
}

// With runs fn while holding the lease on path. acquired is false (and fn is
// not called) when the lease is contended. The lease is released before With
// returns, including when fn panics.
func With(path string, fn func() error) (acquired bool, err error) {
	guard, ok, err := TryAcquire(path)
	if err != nil || !ok {
		return false, err
	}

	defer func() {
		if relErr := guard.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return true, fn()
}

// Retry bounds WithRetry: at most Attempts tries, Backoff apart.
type Retry struct {
	Attempts int
	Backoff  time.Duration

	// Sleep waits between attempts. Nil means Sleep from this package.
	Sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry is With, retried while the lease is contended. acquired is
// false when every attempt found the lease held. Waiting stops early with
// ctx's error when ctx is canceled.
func WithRetry(ctx context.Context, path string, r Retry, fn func() error) (acquired bool, err error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	attempts := max(r.Attempts, 1)

	for attempt := 1; ; attempt++ {
		acquired, err = With(path, fn)
		if acquired || err != nil || attempt == attempts {
			return acquired, err
		}

		if err := sleep(ctx, r.Backoff); err != nil {
			return false, err
		}
	}
}

// Sleep waits for d or until ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
