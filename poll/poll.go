// Package poll provides bounded polling of a predicate.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when predicate did not become true within attempt budget.
var ErrExhausted = errors.New("polling attempts exhausted")

// Until checks ready immediately and then once every interval until it
// returns true, ctx is done or attempts checks were made.
func Until(ctx context.Context, interval time.Duration, attempts int, ready func() bool) error {
	if attempts <= 0 {
		return ErrExhausted
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ready() {
			return nil
		}
		if attempt >= attempts {
			return ErrExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
