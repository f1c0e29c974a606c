// Package middleware wraps the per-value handler on both paths.
//
// The sender runs every outbound Envelope through a chain ending in the
// session write; the receiver runs every decoded inbound Envelope through a
// chain ending in the printer. Middlewares see the Envelope before and
// after the terminal handler and may veto it by returning an error.
package middleware

import (
	"context"

	"wiretest/message"
)

type HandlerFunc func(ctx context.Context, env *message.Envelope) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
// 第一个中间件在最外层; nil entries are skipped.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if middlewares[i] == nil {
				continue
			}
			next = middlewares[i](next)
		}
		return next
	}
}
