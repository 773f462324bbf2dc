package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"xrpc/message"
	"xrpc/rpcerr"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return &message.Response{Version: message.Version, Result: json.RawMessage(`"ok"`)}
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, req)
}

func panicHandler(ctx context.Context, req *message.Request) *message.Response {
	panic("handler exploded")
}

func newRequest() *message.Request {
	return message.NewRequest(message.LanguageGo, "Arith", "Add", nil)
}

func TestLogging(t *testing.T) {
	handler := Logging(zaptest.NewLogger(t))(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Result) != `"ok"` {
		t.Fatalf("expect result \"ok\", got '%s'", resp.Result)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%s'", resp.Error.Message)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Message != "request timed out" || resp.Error.Code != rpcerr.CodeSystem {
		t.Fatalf("expect timeout error, got %+v", resp.Error)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimit(1, 2)(echoHandler)

	// 前 2 个应该通过（burst=2）
	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error.Message)
		}
	}

	// 第 3 个应该被限流
	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Message != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: %+v", resp.Error)
	}
}

func TestRecover(t *testing.T) {
	handler := Recover()(panicHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Code != rpcerr.CodeSystem {
		t.Fatalf("expect system error, got %+v", resp.Error)
	}
	if resp.Error.Data == nil || resp.Error.Data.Message != "handler exploded" || resp.Error.Data.StackTrace == "" {
		t.Fatalf("panic detail lost: %+v", resp.Error.Data)
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(Logging(zaptest.NewLogger(t)), Recover(), Timeout(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%s'", resp.Error.Message)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	Chain(mark("a"), mark("b"), mark("c"))(echoHandler)(context.Background(), newRequest())
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
}
