package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"xrpc/codec"
	"xrpc/convert"
	"xrpc/message"
	"xrpc/rpcerr"
)

// DefaultCacheSize is the number of method resolutions each service keeps.
const DefaultCacheSize = 128

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method is one remotely callable method of a service.
type Method struct {
	Name string
	// In holds the parameter types, without the optional leading context.
	In []reflect.Type
	// Out is the result type, or nil for methods returning only an error
	// or nothing.
	Out reflect.Type

	fn       reflect.Value // bound to the receiver
	withCtx  bool
	errIndex int // index of the error result, -1 if none
}

// Service is a registered implementation of an interface.
type Service struct {
	name    string
	iface   reflect.Type
	rcvr    reflect.Value
	methods map[string]*Method
	cache   *lru.Cache // resolution key -> *Method
}

func newService(iface reflect.Type, impl any, cacheSize int) (*Service, error) {
	rcvr := reflect.ValueOf(impl)
	if !rcvr.IsValid() {
		return nil, errors.New("service: nil implementation")
	}
	typ := rcvr.Type()

	var name string
	if iface == nil {
		// Without an interface the concrete type's exported methods are
		// the contract, as in the receiver's own method set.
		if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
			return nil, errors.Errorf("service: implementation must be a pointer to a struct, got %s", typ)
		}
		name = typ.Elem().Name()
		iface = typ
	} else {
		if iface.Kind() != reflect.Interface {
			return nil, errors.Errorf("service: %s is not an interface", iface)
		}
		if !typ.Implements(iface) {
			return nil, errors.Errorf("service: %s does not implement %s", typ, iface)
		}
		name = iface.Name()
	}
	if name == "" {
		return nil, errors.Errorf("service: %s has no name", iface)
	}

	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "service: resolution cache")
	}

	s := &Service{
		name:    name,
		iface:   iface,
		rcvr:    rcvr,
		methods: make(map[string]*Method),
		cache:   cache,
	}
	s.registerMethods()
	if len(s.methods) == 0 {
		return nil, errors.Errorf("service: %s has no callable methods", name)
	}
	return s, nil
}

// registerMethods keeps the methods whose signature can be called
// remotely:
//
//	func([ctx context.Context,] args...) [(T) | (error) | (T, error)]
func (s *Service) registerMethods() {
	for i := 0; i < s.iface.NumMethod(); i++ {
		name := s.iface.Method(i).Name
		fn := s.rcvr.MethodByName(name)
		if !fn.IsValid() {
			continue
		}
		ft := fn.Type()

		m := &Method{Name: name, fn: fn, errIndex: -1}
		in := 0
		if ft.NumIn() > 0 && ft.In(0) == contextType {
			m.withCtx = true
			in = 1
		}
		if ft.IsVariadic() {
			continue
		}
		for ; in < ft.NumIn(); in++ {
			m.In = append(m.In, ft.In(in))
		}

		switch ft.NumOut() {
		case 0:
		case 1:
			if ft.Out(0) == errorType {
				m.errIndex = 0
			} else {
				m.Out = ft.Out(0)
			}
		case 2:
			if ft.Out(1) != errorType {
				continue
			}
			m.Out, m.errIndex = ft.Out(0), 1
		default:
			continue
		}
		s.methods[name] = m
	}
}

// Name returns the name the service is registered under.
func (s *Service) Name() string {
	return s.name
}

// Type returns the interface the service implements.
func (s *Service) Type() reflect.Type {
	return s.iface
}

// Method returns the method with the given Go name.
func (s *Service) Method(name string) (*Method, bool) {
	m, ok := s.methods[name]
	return m, ok
}

// Resolve finds the method a request from lang means: the name is mapped
// through the language's method converter, then the parameter count and
// every parameter type name must match.
func (s *Service) Resolve(lang message.Language, conv convert.Converters, method string, paramTypes []string) (*Method, error) {
	key := fmt.Sprintf("%d\x00%s\x00%s", lang, method, strings.Join(paramTypes, "\x00"))
	if m, ok := s.cache.Get(key); ok {
		return m.(*Method), nil
	}

	m, ok := s.methods[conv.Method.Local(method)]
	if !ok || len(m.In) != len(paramTypes) {
		return nil, rpcerr.MethodNotFound(s.name, method)
	}
	for i, t := range m.In {
		if !conv.Type.Equal(t, paramTypes[i]) {
			return nil, rpcerr.MethodNotFound(s.name, method)
		}
	}
	s.cache.Add(key, m)
	return m, nil
}

// Result is the outcome of a successful invocation.
type Result struct {
	Value json.RawMessage
	// Params echoes every argument after the call, so pointer arguments
	// carry whatever the method wrote into them.
	Params []message.Parameter
}

// Invoke decodes params into m's argument types, calls m and encodes the
// outcome. Parameter types in the result are named with types.
//
// A method that returns an error or panics yields an application error; a
// parameter that cannot be decoded yields a parse error.
func (s *Service) Invoke(ctx context.Context, m *Method, params []message.Parameter, types convert.TypeConverter) (*Result, error) {
	if len(params) != len(m.In) {
		return nil, rpcerr.MethodNotFound(s.name, m.Name)
	}

	args := make([]reflect.Value, 0, len(m.In)+1)
	if m.withCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, t := range m.In {
		v, err := decodeArg(t, params[i].Value)
		if err != nil {
			return nil, rpcerr.Parse(errors.Wrapf(err, "parameter %d of %s.%s", i, s.name, m.Name))
		}
		args = append(args, v)
	}

	out, err := s.call(m, args)
	if err != nil {
		return nil, err
	}

	res := &Result{Params: make([]message.Parameter, len(m.In))}
	if m.Out != nil {
		if res.Value, err = encodeValue(out[0]); err != nil {
			return nil, rpcerr.System("encode result of "+s.name+"."+m.Name, err)
		}
	}
	argv := args
	if m.withCtx {
		argv = args[1:]
	}
	for i, t := range m.In {
		p := message.Parameter{Type: types.Name(t), Value: params[i].Value}
		if t.Kind() == reflect.Pointer {
			if p.Value, err = encodeValue(argv[i]); err != nil {
				return nil, rpcerr.System("encode parameter of "+s.name+"."+m.Name, err)
			}
		}
		res.Params[i] = p
	}
	return res, nil
}

func (s *Service) call(m *Method, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rpcerr.Application(
				fmt.Sprintf("service method %s.%s panicked", s.name, m.Name),
				rpcerr.Panic(r, debug.Stack()),
			)
		}
	}()

	out = m.fn.Call(args)
	if m.errIndex >= 0 && !out[m.errIndex].IsNil() {
		cause := out[m.errIndex].Interface().(error)
		return nil, rpcerr.Application(fmt.Sprintf("service method %s.%s failed", s.name, m.Name), cause)
	}
	return out, nil
}

// decodeArg returns a value of type t decoded from raw. Missing values and
// JSON null decode to the zero value; a pointer type gets a fresh target.
func decodeArg(t reflect.Type, raw json.RawMessage) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		if len(raw) > 0 && string(raw) != "null" {
			if err := codec.Default.Decode(raw, v.Interface()); err != nil {
				return reflect.Value{}, err
			}
		}
		return v, nil
	}
	v := reflect.New(t)
	if len(raw) > 0 {
		if err := codec.Default.Decode(raw, v.Interface()); err != nil {
			return reflect.Value{}, err
		}
	}
	return v.Elem(), nil
}

func encodeValue(v reflect.Value) (json.RawMessage, error) {
	data, err := codec.Default.Encode(v.Interface())
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
