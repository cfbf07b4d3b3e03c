// Package serial provides a FIFO lock that runs one task at a time.
package serial

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Lock admits tasks one at a time in arrival order.
// The zero value is not usable; call New.
type Lock struct {
	sem *semaphore.Weighted
}

// New returns an unlocked Lock.
func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Run waits for the lock, runs task, and releases the lock whether task
// returns, fails or panics. A panic is returned as an error.
func (l *Lock) Run(ctx context.Context, task func(ctx context.Context) error) (err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("serial: wait: %w", err)
	}
	defer l.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("serial: task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Do runs task under l and returns its value.
func Do[T any](ctx context.Context, l *Lock, task func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Run(ctx, func(ctx context.Context) error {
		v, err := task(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
