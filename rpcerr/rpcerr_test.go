package rpcerr

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestChainFoldsStackWrappers(t *testing.T) {
	root := io.ErrUnexpectedEOF
	err := errors.Wrap(root, "read header")

	e := Chain(err)
	if e.Message != "read header: unexpected EOF" {
		t.Fatalf("top message = %q", e.Message)
	}
	if e.StackTrace == "" {
		t.Error("expected the pkg/errors stack to be captured")
	}
	if e.Cause == nil || e.Cause.Message != "unexpected EOF" {
		t.Fatalf("cause = %+v", e.Cause)
	}
	if e.Cause.Cause != nil {
		t.Fatalf("chain too long: %+v", e.Cause.Cause)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	orig := Application("method failed", fmt.Errorf("outer: %w", errors.New("inner")))

	back := FromEnvelope(ToEnvelope(orig))
	if back.Code != CodeApplication || back.Message != "method failed" {
		t.Fatalf("top = %+v", back)
	}
	var depth int
	for link := back.Cause; link != nil; link = link.Cause {
		depth++
	}
	if depth != 2 {
		t.Fatalf("cause depth = %d, want 2", depth)
	}
	if back.Cause.Cause.Message != "inner" {
		t.Errorf("innermost = %q", back.Cause.Cause.Message)
	}
}

func TestIsAndCode(t *testing.T) {
	var err error = MethodNotFound("IA", "GetB")
	if !errors.Is(err, ErrNotFound) {
		t.Error("MethodNotFound should match ErrNotFound")
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("MethodNotFound should not match ErrNetwork")
	}
	if Code(errors.Wrap(err, "call")) != CodeNotFound {
		t.Errorf("Code through wrap = %d", Code(err))
	}
	if Code(ErrTimeout) != 0 {
		t.Error("timeout must not carry an RPC code")
	}
	if !errors.Is(Network(), ErrNetwork) {
		t.Error("Network should match ErrNetwork")
	}
}

func TestPanic(t *testing.T) {
	e := Panic("nil map write", []byte("goroutine 1 [running]:"))
	if e.Source != "string" || e.Message != "nil map write" {
		t.Fatalf("panic link = %+v", e)
	}

	e = Panic(errors.New("bad state"), nil)
	if e.Message != "bad state" {
		t.Fatalf("panic error message = %q", e.Message)
	}
}

func TestFormatVerbose(t *testing.T) {
	e := System("dispatch failed", errors.New("disk full"))
	out := fmt.Sprintf("%+v", e)
	if !strings.Contains(out, "[-32400] dispatch failed") || !strings.Contains(out, "caused by:") {
		t.Fatalf("verbose format:\n%s", out)
	}
	if short := e.Error(); strings.Contains(short, "\n") {
		t.Fatalf("Error() should be single line: %q", short)
	}
}
