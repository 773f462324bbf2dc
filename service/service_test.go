package service

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"xrpc/convert"
	"xrpc/message"
	"xrpc/rpcerr"
)

type Args struct {
	A, B int
}

type Arith interface {
	Add(args Args) int
	Div(a, b int) (int, error)
	Swap(a, b *int)
	Crash()
	Ctx(ctx context.Context, s string) string
}

type arith struct{}

func (arith) Add(args Args) int { return args.A + args.B }

func (arith) Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("divide by zero")
	}
	return a / b, nil
}

func (arith) Swap(a, b *int) { *a, *b = *b, *a }

func (arith) Crash() {
	var m map[string]int
	m["x"] = 1
}

type ctxKey struct{}

func (arith) Ctx(ctx context.Context, s string) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v + s
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newArith(t *testing.T) *Service {
	t.Helper()
	r := NewRegistry(0)
	svc, err := Register[Arith](r, arith{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return svc
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(0)
	if _, err := Register[Arith](r, arith{}); err != nil {
		t.Fatal(err)
	}
	if _, err := Register[Arith](r, arith{}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	svc, ok := r.Lookup("Arith")
	if !ok || svc.Name() != "Arith" {
		t.Fatal("Arith not found")
	}
	if got := r.Names(); len(got) != 1 || got[0] != "Arith" {
		t.Fatalf("Names = %v", got)
	}
	if !r.Unregister("Arith") || r.Unregister("Arith") {
		t.Fatal("Unregister should succeed exactly once")
	}
	if _, ok := r.Lookup("Arith"); ok {
		t.Fatal("Arith still registered")
	}
}

type notArith struct{}

func TestRegisterRejects(t *testing.T) {
	r := NewRegistry(0)
	if _, err := r.Register(reflect.TypeOf((*Arith)(nil)).Elem(), notArith{}); err == nil {
		t.Fatal("registered a type that does not implement the interface")
	}
	if _, err := r.Register(reflect.TypeOf(0), arith{}); err == nil {
		t.Fatal("registered under a non-interface type")
	}
	if _, err := r.Register(nil, arith{}); err == nil {
		t.Fatal("registered a non-pointer without an interface")
	}
}

type Counter struct{ n int }

func (c *Counter) Incr(by int) int {
	c.n += by
	return c.n
}

func TestRegisterStruct(t *testing.T) {
	r := NewRegistry(0)
	svc, err := r.Register(nil, &Counter{})
	if err != nil {
		t.Fatal(err)
	}
	if svc.Name() != "Counter" {
		t.Fatalf("Name = %q", svc.Name())
	}
	if _, ok := svc.Method("Incr"); !ok {
		t.Fatal("Incr not registered")
	}
}

func TestResolve(t *testing.T) {
	svc := newArith(t)
	cfg := convert.Default()
	java, _ := cfg.For(message.LanguageJava)
	csharp, _ := cfg.For(message.LanguageCSharp)
	goconv, _ := cfg.For(message.LanguageGo)

	cases := []struct {
		lang   message.Language
		conv   convert.Converters
		method string
		types  []string
		want   string
	}{
		{message.LanguageJava, java, "div", []string{"long", "long"}, "Div"},
		{message.LanguageCSharp, csharp, "Div", []string{"Int64", "Int64"}, "Div"},
		{message.LanguageGo, goconv, "Div", []string{"int", "int"}, "Div"},
		{message.LanguageGo, goconv, "Add", []string{"Args"}, "Add"},
		{message.LanguageGo, goconv, "Ctx", []string{"string"}, "Ctx"},
		{message.LanguageJava, java, "div", []string{"int", "int"}, ""},
		{message.LanguageGo, goconv, "Div", []string{"int"}, ""},
		{message.LanguageGo, goconv, "div", []string{"int", "int"}, ""},
		{message.LanguageGo, goconv, "Mul", []string{"int", "int"}, ""},
	}
	for _, tc := range cases {
		// Twice, so the second lookup comes from the cache.
		for i := 0; i < 2; i++ {
			m, err := svc.Resolve(tc.lang, tc.conv, tc.method, tc.types)
			if tc.want == "" {
				if rpcerr.Code(err) != rpcerr.CodeNotFound {
					t.Errorf("Resolve(%s %v) = %v, want not found", tc.method, tc.types, err)
				}
				continue
			}
			if err != nil || m.Name != tc.want {
				t.Errorf("Resolve(%s %v) = %v, %v", tc.method, tc.types, m, err)
			}
		}
	}
}

func TestInvoke(t *testing.T) {
	svc := newArith(t)
	m, _ := svc.Method("Div")

	res, err := svc.Invoke(context.Background(), m,
		[]message.Parameter{{Type: "int", Value: raw(t, 7)}, {Type: "int", Value: raw(t, 2)}}, convert.Go)
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Value) != "3" {
		t.Fatalf("result = %s", res.Value)
	}
	if len(res.Params) != 2 || res.Params[0].Type != "int" {
		t.Fatalf("params = %+v", res.Params)
	}

	_, err = svc.Invoke(context.Background(), m,
		[]message.Parameter{{Value: raw(t, 1)}, {Value: raw(t, 0)}}, convert.Go)
	if rpcerr.Code(err) != rpcerr.CodeApplication {
		t.Fatalf("expected application error, got %v", err)
	}
	if !strings.Contains(err.Error(), "divide by zero") {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestInvokeOutParams(t *testing.T) {
	svc := newArith(t)
	m, _ := svc.Method("Swap")

	res, err := svc.Invoke(context.Background(), m,
		[]message.Parameter{{Value: raw(t, 1)}, {Value: raw(t, 2)}}, convert.Go)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != nil {
		t.Fatalf("void method returned %s", res.Value)
	}
	if string(res.Params[0].Value) != "2" || string(res.Params[1].Value) != "1" {
		t.Fatalf("out params = %s %s", res.Params[0].Value, res.Params[1].Value)
	}
}

func TestInvokePanic(t *testing.T) {
	svc := newArith(t)
	m, _ := svc.Method("Crash")

	_, err := svc.Invoke(context.Background(), m, nil, convert.Go)
	var e *rpcerr.Error
	if !errors.As(err, &e) || e.Code != rpcerr.CodeApplication {
		t.Fatalf("expected application error, got %v", err)
	}
	if e.Cause == nil || e.Cause.StackTrace == "" {
		t.Fatalf("panic stack not captured: %+v", e.Cause)
	}
}

func TestInvokeBadParam(t *testing.T) {
	svc := newArith(t)
	m, _ := svc.Method("Add")

	_, err := svc.Invoke(context.Background(), m, []message.Parameter{{Value: raw(t, "nope")}}, convert.Go)
	if rpcerr.Code(err) != rpcerr.CodeParse {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestInvokeContext(t *testing.T) {
	svc := newArith(t)
	m, _ := svc.Method("Ctx")
	ctx := context.WithValue(context.Background(), ctxKey{}, "hello ")

	res, err := svc.Invoke(ctx, m, []message.Parameter{{Value: raw(t, "world")}}, convert.Go)
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Value) != `"hello world"` {
		t.Fatalf("result = %s", res.Value)
	}
}
