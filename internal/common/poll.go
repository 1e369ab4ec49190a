package common

import (
	"context"
	"time"
)

// PollUntil repeatedly evaluates predicate at the given interval until it
// reports true, the timeout elapses, or the context is cancelled. It returns
// whether the predicate converged. An elapsed timeout is not an error: callers
// using this as an eventual-consistency wait proceed anyway.
func PollUntil(ctx context.Context, interval, timeout time.Duration, predicate func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
