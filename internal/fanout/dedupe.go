package fanout

import (
	"sync"

	"github.com/google/uuid"
)

const defaultDedupeWindow = 512

// Deduper remembers the last N ids it has seen.
type Deduper struct {
	mu    sync.Mutex
	size  int
	ring  []uuid.UUID
	next  int
	known map[uuid.UUID]struct{}
}

// NewDeduper keeps a window of size ids (defaultDedupeWindow when size <= 0).
func NewDeduper(size int) *Deduper {
	if size <= 0 {
		size = defaultDedupeWindow
	}
	return &Deduper{
		size:  size,
		ring:  make([]uuid.UUID, size),
		known: make(map[uuid.UUID]struct{}, size),
	}
}

// Seen records id and reports whether it was already inside the window.
func (d *Deduper) Seen(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.known[id]; ok {
		return true
	}
	if evicted := d.ring[d.next]; evicted != uuid.Nil {
		delete(d.known, evicted)
	}
	d.ring[d.next] = id
	d.known[id] = struct{}{}
	d.next = (d.next + 1) % d.size
	return false
}
