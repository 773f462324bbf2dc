package middleware

import (
	"context"
	"runtime/debug"

	"xrpc/message"
	"xrpc/rpcerr"
)

// Recover turns a panic in next into a system error response.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					resp = ErrorResponse(rpcerr.System("request dispatch panicked", rpcerr.Panic(r, debug.Stack())))
				}
			}()
			return next(ctx, req)
		}
	}
}
