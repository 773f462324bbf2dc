package transport

import (
	"context"
	"sync"
)

// idleLimit caps the free list of an unbounded pool.
const idleLimit = 1024

// waitPool recycles Wait entries. The free list is a buffered channel:
// it is goroutine-safe and blocking on empty comes for free.
type waitPool struct {
	mu   sync.Mutex
	idle chan *Wait
	max  int // 0 means unbounded
	live int // waits created and not discarded
}

func newWaitPool(max int) *waitPool {
	size := max
	if size <= 0 {
		max, size = 0, idleLimit
	}
	return &waitPool{idle: make(chan *Wait, size), max: max}
}

// get takes an idle wait, creates one while under the limit, and otherwise
// blocks until one is returned.
func (p *waitPool) get(ctx context.Context) (*Wait, error) {
	select {
	case w := <-p.idle:
		return w, nil
	default:
	}

	p.mu.Lock()
	if p.max == 0 || p.live < p.max {
		p.live++
		p.mu.Unlock()
		return newWait(), nil
	}
	p.mu.Unlock()

	select {
	case w := <-p.idle:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// put resets w and returns it to the free list, discarding it if the list
// is full.
func (p *waitPool) put(w *Wait) {
	w.reset()
	select {
	case p.idle <- w:
	default:
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
	}
}
