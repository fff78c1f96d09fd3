package epoch

import "unsafe"

const (
	cacheLine = 64 // typical size of a cache line
	numSlots  = 32 // padded counters per page
)

// page holds one generation and a set of sharded counters of the tokens
// acquired for it. Pages are never reused, so a page that Acquire loaded
// stays the same generation for as long as anyone can see it.
type page struct {
	gen   uint64
	_     [cacheLine - 8]byte
	slots [numSlots]struct {
		ctr counter
		_   [cacheLine - unsafe.Sizeof(counter{})%cacheLine]byte
	}
}

// active counts the tokens currently held against the page.
func (p *page) active() (n int) {
	for i := range p.slots {
		n += int(p.slots[i].ctr.held.Load())
	}
	return n
}
