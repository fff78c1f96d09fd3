// Package epoch tracks read-side tokens against a monotonically increasing
// generation. Acquiring and releasing tokens touches only a per-slot counter
// and one rarely written shared pointer, so readers scale with the number of
// slots. Advancing the generation and waiting for the previous one to drain
// is a grace period: once it returns, every token that could have observed
// state from before the advance is gone.
package epoch

import (
	"sync"
	"sync/atomic"
)

// Tracker hands out Tokens for the current generation. The zero value is
// ready to use.
type Tracker struct {
	page atomic.Pointer[page]
	mu   sync.Mutex // serializes Advance
}

// current loads the current page, allocating generation zero on first use.
// Acquire ignores mu, so the first page has to be installed with a CAS.
func (t *Tracker) current() *page {
	if p := t.page.Load(); p != nil {
		return p
	}
	t.page.CompareAndSwap(nil, new(page))
	return t.page.Load()
}

// Acquire returns a Token for the current generation counted in the given
// slot. Callers on different cores should use different slots. It is safe to
// call concurrently with everything, and never blocks, including when the
// caller already holds Tokens of its own.
func (t *Tracker) Acquire(slot int) Token {
	slot = (slot%numSlots + numSlots) % numSlots

	p := t.current()
	for {
		ctr := &p.slots[slot].ctr
		ctr.hold()

		// an Advance that swapped pages between our load and hold would not
		// wait for us, so retry against the new page.
		next := t.page.Load()
		if next == p {
			return Token{ctr: ctr, gen: p.gen, slot: slot}
		}
		ctr.letGo()
		p = next
	}
}

// Advance moves the Tracker to the next generation and returns a Pending for
// the one it left.
func (t *Tracker) Advance() Pending {
	t.mu.Lock()
	p := t.current()
	// only Advance stores past the first page, and mu serializes it.
	t.page.Store(&page{gen: p.gen + 1})
	t.mu.Unlock()

	return Pending{page: p}
}

// Synchronize advances the generation and waits until it has drained.
func (t *Tracker) Synchronize() {
	t.Advance().Wait()
}

// Gen returns the current generation.
func (t *Tracker) Gen() uint64 {
	return t.current().gen
}

// Active returns the number of Tokens held against the current generation.
// It is a snapshot for diagnostics only.
func (t *Tracker) Active() int {
	return t.current().active()
}
