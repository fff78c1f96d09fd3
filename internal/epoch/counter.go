package epoch

import (
	"sync"
	"sync/atomic"
)

// counter counts outstanding tokens in one slot of a page. hold and letGo are
// single atomic adds and never block, so a goroutine may hold the same
// counter any number of times. drain parks on a channel that the letGo taking
// the count to zero closes.
type counter struct {
	held    atomic.Int64
	waiting atomic.Bool

	mu   sync.Mutex // guards zero
	zero chan struct{}
}

// hold registers a token.
func (c *counter) hold() { c.held.Add(1) }

// letGo drops a token registered by hold.
func (c *counter) letGo() {
	n := c.held.Add(-1)
	if n < 0 {
		panic("epoch: token released more times than acquired")
	}
	if n != 0 || !c.waiting.Load() {
		return
	}
	c.mu.Lock()
	if c.zero != nil {
		close(c.zero)
		c.zero = nil
	}
	c.waiting.Store(false)
	c.mu.Unlock()
}

// idle reports whether no token is held.
func (c *counter) idle() bool {
	return c.held.Load() == 0
}

// drain blocks until the count reaches zero. Tokens taken while it waits
// delay it, so callers only drain counters that no longer hand out tokens
// for long.
func (c *counter) drain() {
	for !c.idle() {
		c.mu.Lock()
		if c.zero == nil {
			c.zero = make(chan struct{})
		}
		zero := c.zero
		// published before the count is checked again, so a letGo that takes
		// the count to zero after the check is sure to see it.
		c.waiting.Store(true)
		c.mu.Unlock()

		if c.idle() {
			return
		}
		<-zero
	}
}
