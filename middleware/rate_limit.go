package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"xrpc/message"
	"xrpc/rpcerr"
)

// RateLimit rejects requests beyond a token bucket of r per second and the
// given burst with a system error.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return ErrorResponse(rpcerr.System("rate limit exceeded", nil))
			}
			return next(ctx, req)
		}
	}
}
