// Package schedule runs periodic work on timers that stop with a context.
package schedule

import (
	"context"
	"time"
)

// Every waits delay, runs fn, and then runs it again interval after each
// run returns, until ctx is done. Runs never overlap. It returns ctx.Err().
func Every(ctx context.Context, delay, interval time.Duration, fn func(context.Context)) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			fn(ctx)
			timer.Reset(interval)
		}
	}
}
