package types

import (
	"context"
	"time"
)

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Sleeper is a cancellable delay primitive. Backoff loops take one so tests
// can observe requested delays without real timers.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepWithContext is the production Sleeper.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
