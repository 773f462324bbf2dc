package middleware

import (
	"context"
	"time"

	"xrpc/message"
	"xrpc/rpcerr"
)

// Timeout answers with a system error when next has not responded within
// timeout. next keeps running with a cancelled context; its late response is
// discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return ErrorResponse(rpcerr.System("request timed out", ctx.Err()))
			}
		}
	}
}
