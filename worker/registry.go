package worker

import (
	"fmt"
	"sync"
)

// registry maps outstanding sequence numbers to the slots their callers are waiting on.
// Many callers register and remove concurrently; only the reader goroutine delivers.
type registry struct {
	mu     sync.RWMutex
	slots  map[uint32]chan string
	closed bool
}

func newRegistry() *registry {
	return &registry{slots: map[uint32]chan string{}}
}

// register creates the single-use delivery slot for seq.
func (r *registry) register(seq uint32) (<-chan string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrChannelClosed
	}
	if _, ok := r.slots[seq]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateSequence, seq)
	}
	slot := make(chan string, 1)
	r.slots[seq] = slot
	return slot, nil
}

// deliver removes the slot for seq and hands it data without blocking.
// It returns false if nobody is waiting for seq.
func (r *registry) deliver(seq uint32, data string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[seq]
	if !ok {
		return false
	}
	delete(r.slots, seq)
	select {
	case slot <- data:
	default:
	}
	return true
}

// remove drops the slot for seq without delivering to it.
func (r *registry) remove(seq uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, seq)
}

// close closes every pending slot and rejects further registrations.
func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for seq, slot := range r.slots {
		close(slot)
		delete(r.slots, seq)
	}
}

func (r *registry) pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
