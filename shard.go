package smr

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/smr/internal/epoch"
)

const cacheLine = 64 // typical size of a cache line

// shardState is the per-core state. It is grouped so that Shard can pad it
// out to a whole number of cache lines.
type shardState struct {
	d  *Domain
	id int

	// mu guards queue, expedite and idle. It is only ever contended by the
	// coordinator sweeping the queue.
	mu       sync.Mutex
	queue    entryList
	expedite bool
	idle     bool

	// depth is the read section nesting on this shard.
	depth atomic.Int32
	// idles counts NotifyIdle calls, for the idle grace proof.
	idles atomic.Uint64
}

// Shard is one per-core queue of a Domain. Hosts with a fixed set of workers
// can bind each worker to a Shard with Domain.Shard and call it directly,
// which avoids the shard lookup of the Domain level methods.
type Shard struct {
	shardState
	_ [cacheLine - unsafe.Sizeof(shardState{})%cacheLine]byte
}

// ID returns the index of the shard in its Domain.
func (s *Shard) ID() int { return s.id }

// Call queues fn(arg) to run once a grace period has elapsed. It never blocks
// on the coordinator and never allocates. Submitting an Entry twice panics.
func (s *Shard) Call(e *Entry, fn func(any), arg any) {
	s.call(e, fn, arg, false)
}

// CallExpedite is Call, but the coordinator skips its batching pause for the
// round that picks up the entry.
func (s *Shard) CallExpedite(e *Entry, fn func(any), arg any) {
	s.call(e, fn, arg, true)
}

func (s *Shard) call(e *Entry, fn func(any), arg any, expedite bool) {
	if fn == nil {
		panic("smr: nil callback")
	}
	if e.fn != nil {
		panic("smr: entry submitted twice")
	}
	if s.d.closed.Load() {
		panic("smr: call on closed domain")
	}
	e.fn, e.arg = fn, arg

	s.mu.Lock()
	s.queue.push(e)
	first := s.queue.len() == 1
	if expedite {
		s.expedite = true
	}
	idle := s.idle
	s.mu.Unlock()

	// an idle shard may not announce idle again for a long time, so its
	// queue is handed over right away.
	switch {
	case idle:
		s.d.dispatch(s)
	case first || expedite:
		s.d.kick()
	}
}

// NotifyIdle tells the Domain that the shard ran out of work. Pending entries
// are handed to the coordinator, and the shard counts as quiescent until
// NotifyBusy.
func (s *Shard) NotifyIdle() {
	if s.d.cfg.Grace == GraceIdle && s.depth.Load() != 0 {
		panic("smr: shard idle inside a read section")
	}

	s.mu.Lock()
	s.idle = true
	n := s.queue.len()
	s.mu.Unlock()

	if n > 0 {
		s.d.dispatch(s)
	}
	s.idles.Add(1)
	s.d.quiesced()
}

// NotifyBusy tells the Domain that the shard is running work again.
func (s *Shard) NotifyBusy() {
	s.mu.Lock()
	s.idle = false
	s.mu.Unlock()
}

// Enter begins a read section on the shard. The returned Reader must be left
// exactly once. Read sections nest.
func (s *Shard) Enter() Reader {
	s.depth.Add(1)
	return Reader{shard: s, token: s.d.tracker.Acquire(s.id)}
}

// Depth returns the read section nesting on the shard.
func (s *Shard) Depth() int { return int(s.depth.Load()) }

func (s *Shard) leave() {
	if s.depth.Add(-1) < 0 {
		panic("smr: read section left more times than entered")
	}
}

// quiescedSince reports whether the shard has been idle at some point since
// its idle count was mark.
func (s *Shard) quiescedSince(mark uint64) bool {
	if s.idles.Load() != mark {
		return true
	}
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	return idle
}

// queued returns the number of entries waiting in the shard.
func (s *Shard) queued() int {
	s.mu.Lock()
	n := s.queue.len()
	s.mu.Unlock()
	return n
}

// Reader is an open read section. Memory reachable when Enter returned will
// not be finalized by the Domain before Leave.
type Reader struct {
	shard *Shard
	token epoch.Token
}

// Leave ends the read section.
func (r Reader) Leave() {
	if r.shard == nil {
		panic("smr: leave without enter")
	}
	r.shard.leave()
	r.token.Release()
}

// Shard returns the shard the read section was entered on.
func (r Reader) Shard() *Shard { return r.shard }
