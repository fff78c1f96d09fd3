package smr

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of a Domain's counters.
type Stats struct {
	Rounds    uint64        // rounds completed
	Called    uint64        // callbacks run
	Slow      uint64        // rounds slower than Config.SlowRound
	Pending   int           // callbacks submitted but not run
	Readers   int           // open read sections
	LastRound time.Duration // duration of the last round
	MaxRound  time.Duration // duration of the slowest round
}

type stats struct {
	rounds atomic.Uint64
	called atomic.Uint64
	slow   atomic.Uint64
	last   atomic.Int64
	max    atomic.Int64
}

func (s *stats) record(elapsed time.Duration) {
	s.last.Store(int64(elapsed))
	for {
		prev := s.max.Load()
		if int64(elapsed) <= prev || s.max.CompareAndSwap(prev, int64(elapsed)) {
			break
		}
	}
	s.rounds.Add(1)
}

// Stats returns a snapshot of the Domain's counters. The fields are read
// independently and may be mutually inconsistent under load.
func (d *Domain) Stats() Stats {
	st := Stats{
		Rounds:    d.stats.rounds.Load(),
		Called:    d.stats.called.Load(),
		Slow:      d.stats.slow.Load(),
		LastRound: time.Duration(d.stats.last.Load()),
		MaxRound:  time.Duration(d.stats.max.Load()),
		Pending:   int(d.inflight.Load()),
	}

	d.mu.Lock()
	st.Pending += d.queue.len()
	d.mu.Unlock()

	for i := range d.shards {
		s := &d.shards[i]
		st.Pending += s.queued()
		st.Readers += s.Depth()
	}
	return st
}
