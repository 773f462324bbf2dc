// Package rpcerr defines the errors a remote call can fail with.
//
// Every failure that crosses the wire is an *Error carrying one of the
// JSON-RPC style codes below. Its Cause chain mirrors the callee's error
// chain, so a caller sees where the failure started, not just that it
// happened.
package rpcerr

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"xrpc/message"
)

// Stable error codes shared with the Java and C# runtimes.
const (
	CodeParse       = -32700 // envelope could not be decoded
	CodeNotFound    = -32601 // no such service type or method
	CodeSystem      = -32400 // runtime failure outside the service method
	CodeApplication = -32500 // the service method failed
	CodeNetwork     = -32300 // a response arrived without usable data
)

// Separator is placed between nested error messages.
var Separator = ": "

// ErrTimeout is returned when no response arrived before the wait expired.
// It is deliberately not an *Error: nothing came back from the callee.
var ErrTimeout = errors.New("rpc: timed out waiting for response")

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrParse       = &Error{Code: CodeParse}
	ErrNotFound    = &Error{Code: CodeNotFound}
	ErrSystem      = &Error{Code: CodeSystem}
	ErrApplication = &Error{Code: CodeApplication}
	ErrNetwork     = &Error{Code: CodeNetwork}
)

// Error is a structured RPC error. Cause links form the remote cause chain.
type Error struct {
	Code       int
	Message    string
	Source     string // type of the error that caused this link, if known
	StackTrace string
	Cause      *Error
}

func (e *Error) Error() string {
	b := new(strings.Builder)
	e.writeTo(b)
	return b.String()
}

func (e *Error) writeTo(b *strings.Builder) {
	if e.Code != 0 {
		fmt.Fprintf(b, "[%d] ", e.Code)
	}
	if e.Source != "" {
		b.WriteString(e.Source)
		if e.Message != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(Separator)
		e.Cause.writeTo(b)
	}
}

// Unwrap returns the next link of the cause chain.
func (e *Error) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is matches targets of type *Error by code, and by message when the
// target has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Format implements fmt.Formatter. %+v prints every link of the chain
// together with its stack trace.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			for link := e; link != nil; link = link.Cause {
				if link != e {
					io.WriteString(s, "caused by: ")
				}
				head := *link
				head.Cause = nil
				io.WriteString(s, head.Error())
				io.WriteString(s, "\n")
				if link.StackTrace != "" {
					io.WriteString(s, strings.TrimRight(link.StackTrace, "\n"))
					io.WriteString(s, "\n")
				}
			}
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Code returns the RPC code carried by err, or 0 if err is not an *Error.
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Parse reports an envelope that could not be decoded.
func Parse(err error) *Error {
	return &Error{Code: CodeParse, Message: err.Error()}
}

// TypeNotFound reports a request for a service that is not registered.
func TypeNotFound(typeName string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("no service matches %q, it may not be registered", typeName),
	}
}

// MethodNotFound reports a request no method of the service matches.
func MethodNotFound(typeName, method string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("no method of service %q matches %q", typeName, method),
	}
}

// Application reports a failure returned or raised by a service method.
func Application(msg string, cause error) *Error {
	return &Error{Code: CodeApplication, Message: msg, Cause: Chain(cause)}
}

// System reports a runtime failure outside the service method.
func System(msg string, cause error) *Error {
	return &Error{Code: CodeSystem, Message: msg, Cause: Chain(cause)}
}

// Network reports a response cycle that produced no usable data.
func Network() *Error {
	return &Error{Code: CodeNetwork, Message: "failed to receive response data, the network may be unreliable"}
}

// Panic converts a recovered panic value into an error link.
func Panic(v any, stack []byte) *Error {
	e := &Error{Source: fmt.Sprintf("%T", v), Message: fmt.Sprint(v), StackTrace: string(stack)}
	if err, ok := v.(error); ok {
		e.Message = err.Error()
		e.Cause = Chain(errors.Unwrap(err))
	}
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Chain converts a Go error chain into linked *Error values. Wrappers that
// only add a stack (as github.com/pkg/errors does) are folded into the link
// below them so messages are not repeated.
func Chain(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		cp := *e
		return &cp
	}
	var stack string
	for {
		if st, ok := err.(stackTracer); ok && stack == "" {
			stack = strings.TrimLeft(fmt.Sprintf("%+v", st.StackTrace()), "\n")
		}
		next := errors.Unwrap(err)
		if next == nil || next.Error() != err.Error() {
			break
		}
		err = next
	}
	return &Error{
		Source:     fmt.Sprintf("%T", err),
		Message:    err.Error(),
		StackTrace: stack,
		Cause:      Chain(errors.Unwrap(err)),
	}
}

// ToEnvelope converts e into the wire form.
func ToEnvelope(e *Error) *message.ResponseError {
	if e == nil {
		return nil
	}
	return &message.ResponseError{
		Code:    e.Code,
		Message: e.Message,
		Data:    toData(e.Cause),
	}
}

func toData(e *Error) *message.ErrorData {
	if e == nil {
		return nil
	}
	return &message.ErrorData{
		Code:           e.Code,
		Source:         e.Source,
		Message:        e.Message,
		StackTrace:     e.StackTrace,
		InnerException: toData(e.Cause),
	}
}

// FromEnvelope converts a wire error into an *Error chain.
func FromEnvelope(re *message.ResponseError) *Error {
	if re == nil {
		return nil
	}
	return &Error{
		Code:    re.Code,
		Message: re.Message,
		Cause:   fromData(re.Data),
	}
}

func fromData(d *message.ErrorData) *Error {
	if d == nil {
		return nil
	}
	return &Error{
		Code:       d.Code,
		Source:     d.Source,
		Message:    d.Message,
		StackTrace: d.StackTrace,
		Cause:      fromData(d.InnerException),
	}
}
