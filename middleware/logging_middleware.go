package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wiretest/message"
)

// LoggingMiddleware logs every Envelope that passes through, at debug on
// success, info for a value the codec rejected and warn when the handler
// itself failed. A nil logger means zap.L().
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			start := time.Now()
			err := next(ctx, env)

			l := logger
			if l == nil {
				l = zap.L()
			}
			fields := []zap.Field{
				zap.Stringer("direction", env.Direction),
				zap.Int("bytes", len(env.Frame)),
				zap.Duration("duration", time.Since(start)),
			}
			if env.Value != nil {
				fields = append(fields, zap.Stringer("kind", env.Value.Kind()))
			}
			if env.Token != "" {
				fields = append(fields, zap.String("token", env.Token))
			}
			if env.Peer != nil {
				fields = append(fields, zap.Stringer("peer", env.Peer))
			}
			switch {
			case err != nil:
				l.Warn("value failed", append(fields, zap.Error(err))...)
			case env.Err != nil:
				// Already shown to the user by the printer.
				l.Info("value rejected", append(fields, zap.Error(env.Err))...)
			default:
				l.Debug("value handled", fields...)
			}
			return err
		}
	}
}
