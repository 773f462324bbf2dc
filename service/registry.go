// Package service keeps the services a peer exposes and invokes their
// methods through reflection.
//
// A service is registered under the simple name of the interface it
// implements. Incoming requests name the interface and the method in the
// caller's own conventions; Resolve reconciles them with the help of the
// caller language's converters.
package service

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrDuplicate is returned when a name is already registered. The earlier
// registration is kept.
var ErrDuplicate = errors.New("service: already registered")

// Registry maps service names to services. Lookups read an immutable
// snapshot and never block; registration copies the snapshot.
type Registry struct {
	mu        sync.Mutex // serializes writers
	snapshot  atomic.Pointer[map[string]*Service]
	cacheSize int
}

// NewRegistry returns an empty Registry. cacheSize is the number of method
// resolutions cached per service; zero selects DefaultCacheSize.
func NewRegistry(cacheSize int) *Registry {
	r := &Registry{cacheSize: cacheSize}
	empty := map[string]*Service{}
	r.snapshot.Store(&empty)
	return r
}

// Register exposes impl as the service iface. A nil iface exposes every
// exported method of impl, which must then be a pointer to a struct, under
// the struct's name.
func (r *Registry) Register(iface reflect.Type, impl any) (*Service, error) {
	svc, err := newService(iface, impl, r.cacheSize)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[svc.name]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "%q", svc.name)
	}
	next := make(map[string]*Service, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[svc.name] = svc
	r.snapshot.Store(&next)
	return svc, nil
}

// Register exposes impl as the service T, which must be an interface type.
func Register[T any](r *Registry, impl T) (*Service, error) {
	return r.Register(reflect.TypeOf((*T)(nil)).Elem(), impl)
}

// Unregister removes the service registered under name. It reports whether
// there was one.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[name]; !ok {
		return false
	}
	next := make(map[string]*Service, len(cur))
	for k, v := range cur {
		if k != name {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
	return true
}

// Lookup returns the service registered under name.
func (r *Registry) Lookup(name string) (*Service, bool) {
	svc, ok := (*r.snapshot.Load())[name]
	return svc, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	cur := *r.snapshot.Load()
	names := make([]string, 0, len(cur))
	for name := range cur {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
