// Package proxy builds local stand-ins for remote services.
//
// Go cannot create types at run time, so a stand-in is a struct whose
// fields are functions, one per remote method:
//
//	type Calculator struct {
//		Add  func(ctx context.Context, a, b int) (int, error)
//		Name func() string `rpc:"getName"`
//	}
//
// Build fills every function field with a closure that forwards the call
// to an Invoker. A field may take a leading context.Context and may return
// nothing, an error, a value, or a value and an error. Pointer parameters
// are out parameters: the Invoker writes the callee's values back into
// them. A field without an error result panics with the error instead.
package proxy

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method identifies one remote method.
type Method struct {
	// Type is the remote service name.
	Type string
	// Name is the remote method name.
	Name string
	// In holds the parameter types, without the optional leading context.
	In []reflect.Type
	// Out is the result type, or nil when the method has none.
	Out reflect.Type
}

// Invoker performs remote calls. Invoke returns a value of m.Out, or nil
// for its zero value.
type Invoker interface {
	Invoke(ctx context.Context, m *Method, args []any) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, m *Method, args []any) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, m *Method, args []any) (any, error) {
	return f(ctx, m, args)
}

// New allocates a T and builds it. An empty typeName uses T's name.
func New[T any](typeName string, inv Invoker) (*T, error) {
	target := new(T)
	if err := Build(target, typeName, inv); err != nil {
		return nil, err
	}
	return target, nil
}

// Build fills the function fields of target, a pointer to a struct, with
// closures calling inv. An empty typeName uses the struct's name.
func Build(target any, typeName string, inv Invoker) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.Errorf("proxy: target must be a non-nil pointer to a struct, got %T", target)
	}
	if inv == nil {
		return errors.New("proxy: nil invoker")
	}
	sv := v.Elem()
	st := sv.Type()
	if typeName == "" {
		typeName = st.Name()
	}

	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if field.Type.Kind() != reflect.Func || !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("rpc"); tag != "" {
			if tag == "-" {
				continue
			}
			name = tag
		}
		fn, err := makeStub(typeName, name, field.Type, inv)
		if err != nil {
			return errors.Wrapf(err, "proxy: field %s.%s", st.Name(), field.Name)
		}
		sv.Field(i).Set(fn)
	}
	return nil
}

type shape struct {
	withCtx  bool
	valueOut int // index of the value result, -1 if none
	errOut   int // index of the error result, -1 if none
}

func analyze(ft reflect.Type) (shape, error) {
	sh := shape{valueOut: -1, errOut: -1}
	if ft.IsVariadic() {
		return sh, errors.New("variadic functions are not supported")
	}
	sh.withCtx = ft.NumIn() > 0 && ft.In(0) == contextType
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			sh.errOut = 0
		} else {
			sh.valueOut = 0
		}
	case 2:
		if ft.Out(1) != errorType {
			return sh, errors.New("second result must be error")
		}
		sh.valueOut, sh.errOut = 0, 1
	default:
		return sh, errors.New("too many results")
	}
	return sh, nil
}

func makeStub(typeName, name string, ft reflect.Type, inv Invoker) (reflect.Value, error) {
	sh, err := analyze(ft)
	if err != nil {
		return reflect.Value{}, err
	}

	m := &Method{Type: typeName, Name: name}
	first := 0
	if sh.withCtx {
		first = 1
	}
	for i := first; i < ft.NumIn(); i++ {
		m.In = append(m.In, ft.In(i))
	}
	if sh.valueOut >= 0 {
		m.Out = ft.Out(sh.valueOut)
	}

	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if sh.withCtx {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, len(in))
		for i, a := range in {
			args[i] = a.Interface()
		}

		res, err := inv.Invoke(ctx, m, args)
		if err != nil && sh.errOut < 0 {
			panic(err)
		}

		out := make([]reflect.Value, ft.NumOut())
		if sh.valueOut >= 0 {
			out[sh.valueOut] = resultValue(m.Out, res, err)
		}
		if sh.errOut >= 0 {
			ev := reflect.Zero(errorType)
			if err != nil {
				ev = reflect.ValueOf(&err).Elem()
			}
			out[sh.errOut] = ev
		}
		return out
	}), nil
}

func resultValue(t reflect.Type, res any, err error) reflect.Value {
	if err != nil || res == nil {
		return reflect.Zero(t)
	}
	v := reflect.ValueOf(res)
	switch {
	case v.Type() == t:
		return v
	case v.Type().AssignableTo(t):
		nv := reflect.New(t).Elem()
		nv.Set(v)
		return nv
	case v.Type().ConvertibleTo(t):
		return v.Convert(t)
	}
	return reflect.Zero(t)
}
