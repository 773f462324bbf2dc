package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"xrpc/message"
)

// Logging logs every request with its duration, and the error if the
// response carries one.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("type", req.Type),
				zap.String("method", req.Method),
				zap.Stringer("client", req.Language),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				logger.Warn("request failed", append(fields,
					zap.Int("code", resp.Error.Code),
					zap.String("error", resp.Error.Message))...)
				return resp
			}
			logger.Debug("request served", fields...)
			return resp
		}
	}
}
