// Package transport turns asynchronous response delivery into blocking calls.
//
// A caller registers a tag before sending its request, then parks on the
// returned Wait. The receive path hands each response to Resolve, which wakes
// only the waiter registered under that tag:
//
//	caller-1 ──Begin(tag=7)──Block──┐
//	caller-2 ──Begin(tag=9)──Block──┤        Resolve(9, data) → caller-2 wakes
//	                                 └── waits: {7: w1, 9: w2}
//
// A Block ends in one of three ways: the response data (success), a response
// cycle with no data (network error, e.g. the connection dropped), or nothing
// at all before the deadline (timeout).
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"xrpc/rpcerr"
)

// ErrTagInUse is returned by Begin when the tag already has a pending wait.
var ErrTagInUse = errors.New("transport: tag already has a pending wait")

// Wait is one pending request. It is handed out by Bridge.Begin and must be
// returned with Bridge.End.
type Wait struct {
	tag int64

	mu        sync.Mutex
	responded bool
	data      []byte
	done      chan struct{} // closed when responded
}

func newWait() *Wait {
	return &Wait{done: make(chan struct{})}
}

// Tag returns the tag the wait is registered under.
func (w *Wait) Tag() int64 {
	return w.tag
}

func (w *Wait) resolve(data []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.responded {
		return false
	}
	w.responded = true
	w.data = data
	close(w.done)
	return true
}

// reset prepares w for reuse. A goroutine still parked on the old channel
// is released and will observe no response.
func (w *Wait) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.responded {
		close(w.done)
	}
	w.tag = 0
	w.responded = false
	w.data = nil
	w.done = make(chan struct{})
}

// Block parks the caller until a response arrives, timeout elapses or ctx is
// done. A timeout of zero waits without a deadline.
//
// It returns the response data, rpcerr.ErrTimeout when nothing arrived, a
// network *rpcerr.Error when the wait was resolved without data, or the
// context's error.
func (w *Wait) Block(ctx context.Context, timeout time.Duration) ([]byte, error) {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
	case <-expired:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case !w.responded:
		return nil, rpcerr.ErrTimeout
	case len(w.data) == 0:
		return nil, rpcerr.Network()
	}
	return w.data, nil
}

// Bridge correlates responses with pending requests by tag. It is safe for
// concurrent use.
type Bridge struct {
	mu    sync.Mutex
	waits map[int64]*Wait
	pool  *waitPool
}

// NewBridge returns a Bridge whose pool holds at most poolSize waits at
// once. Zero means no bound.
func NewBridge(poolSize int) *Bridge {
	return &Bridge{
		waits: make(map[int64]*Wait),
		pool:  newWaitPool(poolSize),
	}
}

// Begin registers a wait for tag. It must be called before the request is
// sent so that a fast response cannot be missed. When the pool is bounded
// and exhausted, Begin blocks until a wait is ended or ctx is done.
func (b *Bridge) Begin(ctx context.Context, tag int64) (*Wait, error) {
	w, err := b.pool.get(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if _, ok := b.waits[tag]; ok {
		b.mu.Unlock()
		b.pool.put(w)
		return nil, errors.Wrapf(ErrTagInUse, "tag %d", tag)
	}
	w.mu.Lock()
	w.tag = tag
	w.mu.Unlock()
	b.waits[tag] = w
	b.mu.Unlock()
	return w, nil
}

// Resolve delivers data to the wait registered under tag. It reports false
// when no such wait exists or it was already resolved; the data is dropped.
func (b *Bridge) Resolve(tag int64, data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.waits[tag]
	if !ok {
		return false
	}
	return w.resolve(data)
}

// End unregisters w and returns it to the pool. w must not be used again.
func (b *Bridge) End(w *Wait) {
	b.mu.Lock()
	if cur, ok := b.waits[w.tag]; ok && cur == w {
		delete(b.waits, w.tag)
	}
	b.mu.Unlock()
	b.pool.put(w)
}

// Abort resolves every pending wait without data, so each blocked caller
// returns a network error. It is used when the connection goes away.
func (b *Bridge) Abort() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, w := range b.waits {
		if w.resolve(nil) {
			n++
		}
	}
	return n
}

// Len returns the number of registered waits.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waits)
}
