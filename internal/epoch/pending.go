package epoch

// Pending is a generation the Tracker has advanced past. Once Wait returns,
// no Token of that generation is held.
type Pending struct {
	page *page
}

// Gen returns the generation that was advanced past.
func (p Pending) Gen() uint64 { return p.page.gen }

// Wait blocks until every Token of the generation is released and returns
// the generation. It may be called any number of times from any goroutine.
func (p Pending) Wait() uint64 {
	for i := range p.page.slots {
		p.page.slots[i].ctr.drain()
	}
	return p.page.gen
}
