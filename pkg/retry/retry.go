// Package retry provides a bounded fixed-delay retry combinator used around
// model calls and storage I/O.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs op up to attempts times, sleeping delay between failures. The last
// error is returned after the attempts are exhausted. Context cancellation
// stops the loop immediately.
func Do(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
