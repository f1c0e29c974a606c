package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wiretest/message"
)

// ErrTimedOut is returned when the wrapped handler does not finish in time.
var ErrTimedOut = errors.New("request timed out")

// TimeOutMiddleware bounds the rest of the chain. The deadline is also put
// on ctx so a session write below can honour it. Zero disables it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	if timeout <= 0 {
		return nil
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, env)
			}()

			select {
			case err := <-done:
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("%w after %s: %w", ErrTimedOut, timeout, err)
				}
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return fmt.Errorf("%w after %s", ErrTimedOut, timeout)
				}
				return ctx.Err()
			}
		}
	}
}
