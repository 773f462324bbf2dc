package fragment

import (
	"sync"

	"xrpc/message"
)

type group struct {
	chunks   [][]byte
	received int
}

func (g *group) complete() bool {
	return g.received == len(g.chunks)
}

// Assembler collects fragments until every piece of a packet has arrived.
// Fragments of different packets may interleave freely. It is safe for
// concurrent use.
type Assembler struct {
	mu     sync.Mutex
	groups map[string]*group
	ready  []string // keys of complete groups, in completion order
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{groups: make(map[string]*group)}
}

// Push records f. It reports false when f was dropped: an index outside
// the group, a total that disagrees with earlier fragments of the same
// group, or a key that does not name a packet. A repeated index replaces
// the earlier chunk without counting twice.
func (a *Assembler) Push(f Fragment) bool {
	if f.Total <= 0 || f.Index < 0 || f.Index >= f.Total {
		return false
	}
	if _, _, err := ParseKey(f.Key); err != nil {
		return false
	}
	key := string(f.Key)

	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[key]
	if !ok {
		g = &group{chunks: make([][]byte, f.Total)}
		a.groups[key] = g
	}
	if len(g.chunks) != f.Total {
		return false
	}
	if g.complete() {
		// Already waiting to be pulled; a late duplicate changes nothing.
		return true
	}
	if g.chunks[f.Index] == nil {
		g.received++
	}
	chunk := f.Chunk
	if chunk == nil {
		chunk = []byte{}
	}
	g.chunks[f.Index] = chunk
	if g.complete() {
		a.ready = append(a.ready, key)
	}
	return true
}

// Pull removes and returns a completed packet, if there is one.
func (a *Assembler) Pull() (message.Packet, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.ready) == 0 {
		return message.Packet{}, false
	}
	key := a.ready[0]
	a.ready = a.ready[1:]
	g := a.groups[key]
	delete(a.groups, key)

	kind, tag, _ := ParseKey([]byte(key))
	size := 0
	for _, c := range g.chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range g.chunks {
		data = append(data, c...)
	}
	return message.Packet{Kind: kind, Tag: tag, Data: data}, true
}

// Pending returns the number of packets with fragments still outstanding.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups) - len(a.ready)
}
