// Package middleware wraps request dispatch on the callee side.
//
// Chain(A, B, C)(handler) runs as A(B(C(handler))): A sees the request
// first and the response last.
package middleware

import (
	"context"

	"xrpc/message"
	"xrpc/rpcerr"
)

// HandlerFunc dispatches one request. It always returns a response; failures
// are carried in Response.Error.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// ErrorResponse returns a response carrying e.
func ErrorResponse(e *rpcerr.Error) *message.Response {
	return message.NewErrorResponse(message.LanguageGo, rpcerr.ToEnvelope(e))
}
