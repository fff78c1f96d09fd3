package smr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/zeebo/smr/internal/epoch"
	"go.uber.org/zap"
)

// Domain is a reclamation domain. It owns the per-core queues and a single
// coordinator goroutine that proves grace periods over them. Instances must be
// created with New and released with Close.
type Domain struct {
	cfg      Config
	log      *zap.Logger
	slowLog  *catrate.Limiter
	shards   []Shard
	tracker  epoch.Tracker
	quiescer Quiescer

	// unkeyed is set when idle grace runs on the default shard key, which
	// cannot tie a read section or an idle announcement to one host worker.
	unkeyed bool

	// mu guards queue and expedite. It is held only to splice or reset.
	mu       sync.Mutex
	queue    entryList
	expedite bool

	wake      chan struct{} // cap 1, coalesces kicks
	done      chan struct{}
	closed    atomic.Bool
	stopping  atomic.Bool
	closeOnce sync.Once

	// idle grace proof waiters sleep on qcond.
	qmu      sync.Mutex
	qcond    *sync.Cond
	qwaiters atomic.Int32

	inflight atomic.Int64
	stats    stats
}

// New creates a Domain and starts its coordinator. The provided config may
// be nil.
func New(cfg *Config) (*Domain, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.applyDefaults()

	d := &Domain{
		unkeyed: c.Grace == GraceIdle && (cfg == nil || cfg.ShardKey == nil),
		cfg:     c,
		log:     c.Logger,
		slowLog: catrate.NewLimiter(map[time.Duration]int{c.SlowLogInterval: 1}),
		shards:  make([]Shard, c.Shards),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	d.qcond = sync.NewCond(&d.qmu)
	for i := range d.shards {
		d.shards[i].d = d
		d.shards[i].id = i
		// under idle grace a shard nobody drives must not hold up rounds.
		d.shards[i].idle = c.Grace == GraceIdle
	}

	switch {
	case c.Quiescer != nil:
		d.quiescer = c.Quiescer
	case c.Grace == GraceIdle:
		d.quiescer = idleQuiescer{d}
	default:
		d.quiescer = &d.tracker
	}

	go d.run()
	return d, nil
}

// Close waits until every callback submitted so far has run, then stops the
// coordinator. Calling Call once Close has begun panics.
func (d *Domain) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.stopping.Store(true)
		d.kick()
	})
	<-d.done
	return nil
}

// Shards returns the number of shards.
func (d *Domain) Shards() int { return len(d.shards) }

// Shard returns the shard with index i, modulo the number of shards.
func (d *Domain) Shard(i int) *Shard {
	n := len(d.shards)
	return &d.shards[(i%n+n)%n]
}

// shard returns the shard of the caller according to the configured key.
func (d *Domain) shard() *Shard { return d.Shard(d.cfg.ShardKey()) }

// hostShard is shard for the calls that tie the shard to the calling worker.
func (d *Domain) hostShard() *Shard {
	if d.unkeyed {
		panic("smr: idle grace needs Config.ShardKey or a Shard handle")
	}
	return d.shard()
}

// Call queues fn(arg) on the caller's shard. See Shard.Call.
func (d *Domain) Call(e *Entry, fn func(any), arg any) { d.shard().call(e, fn, arg, false) }

// CallExpedite queues fn(arg) on the caller's shard. See Shard.CallExpedite.
func (d *Domain) CallExpedite(e *Entry, fn func(any), arg any) { d.shard().call(e, fn, arg, true) }

// Enter begins a read section on the caller's shard. See Shard.Enter.
//
// Under GraceIdle the Domain level Enter, NotifyIdle and NotifyBusy panic
// unless Config.ShardKey was set: goroutines sharing a P would otherwise share
// a shard, and one of them announcing idle would cut short another's read
// section.
func (d *Domain) Enter() Reader { return d.hostShard().Enter() }

// NotifyIdle announces that the caller's shard ran out of work.
func (d *Domain) NotifyIdle() { d.hostShard().NotifyIdle() }

// NotifyBusy announces that the caller's shard is running work again.
func (d *Domain) NotifyBusy() { d.hostShard().NotifyBusy() }

// kick wakes the coordinator without blocking.
func (d *Domain) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// dispatch hands the shard's queue over to the coordinator.
func (d *Domain) dispatch(s *Shard) {
	d.mu.Lock()
	wake := d.queue.len() == 0
	s.mu.Lock()
	d.queue.concat(&s.queue)
	if s.expedite {
		d.expedite = true
		s.expedite = false
	}
	s.mu.Unlock()
	expedite := d.expedite
	d.mu.Unlock()

	if wake || expedite {
		d.kick()
	}
}

// sweepLocked moves every shard queue to the global queue, in shard order.
// d.mu must be held.
func (d *Domain) sweepLocked() {
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		d.queue.concat(&s.queue)
		if s.expedite {
			d.expedite = true
			s.expedite = false
		}
		s.mu.Unlock()
	}
}

// quiesced wakes idle grace proofs waiting on a shard.
func (d *Domain) quiesced() {
	if d.qwaiters.Load() == 0 {
		return
	}
	d.qmu.Lock()
	d.qcond.Broadcast()
	d.qmu.Unlock()
}

func (d *Domain) run() {
	defer close(d.done)
	d.log.Debug("coordinator started",
		zap.Int("shards", len(d.shards)),
		zap.Stringer("grace", d.cfg.Grace),
		zap.Duration("pause", d.cfg.Pause),
	)

	var round entryList
	for d.await() {
		d.collect(&round)
		d.reclaim(&round)
	}
	d.log.Debug("coordinator stopped", zap.Uint64("rounds", d.stats.rounds.Load()))
}

// await blocks until there is pending work, then sits out the batching pause
// unless the work asked to expedite. It returns false once the Domain is
// closing and nothing is pending.
func (d *Domain) await() bool {
	for {
		d.mu.Lock()
		d.sweepLocked()
		n, expedite := d.queue.len(), d.expedite
		d.mu.Unlock()

		if n > 0 {
			if !expedite && !d.stopping.Load() {
				d.pause()
			}
			return true
		}
		if d.stopping.Load() {
			return false
		}
		<-d.wake
	}
}

// pause waits for the pause interval, cutting it short when an expedited
// entry arrives.
func (d *Domain) pause() {
	timer := time.NewTimer(d.cfg.Pause)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return
		case <-d.wake:
			d.mu.Lock()
			d.sweepLocked()
			expedite := d.expedite
			d.mu.Unlock()
			if expedite || d.stopping.Load() {
				return
			}
		}
	}
}

// collect takes the whole global queue for one round.
func (d *Domain) collect(round *entryList) {
	d.mu.Lock()
	d.sweepLocked()
	round.concat(&d.queue)
	d.expedite = false
	d.mu.Unlock()
	d.inflight.Store(int64(round.len()))
}

// reclaim proves a grace period and then runs the round in FIFO order.
func (d *Domain) reclaim(round *entryList) {
	start := time.Now()
	d.quiescer.Synchronize()

	count := 0
	for e := round.pop(); e != nil; e = round.pop() {
		d.inflight.Add(-1)
		d.stats.called.Add(1)
		e.call()
		count++
	}

	elapsed := time.Since(start)
	d.stats.record(elapsed)
	if elapsed < d.cfg.SlowRound {
		return
	}
	d.stats.slow.Add(1)
	if _, ok := d.slowLog.Allow("slow-round"); ok {
		d.log.Warn("dispatch took too long",
			zap.Duration("elapsed", elapsed),
			zap.Int("count", count),
		)
	}
}

// Barrier blocks until every callback submitted before it has run.
func (d *Domain) Barrier() { _ = d.BarrierContext(context.Background(), false) }

// BarrierExpedite is Barrier without the batching pause.
func (d *Domain) BarrierExpedite() { _ = d.BarrierContext(context.Background(), true) }

// BarrierContext is Barrier, returning ctx.Err() if ctx is done first. It
// returns nil at once while the Domain is halted or closed, since the
// coordinator cannot be relied on then.
func (d *Domain) BarrierContext(ctx context.Context, expedite bool) error {
	if d.cfg.Halted() || d.closed.Load() {
		return nil
	}

	// the sentinel goes behind everything already queued on any shard, so
	// it runs after all of it.
	done := make(chan struct{})
	e := &Entry{fn: closeBarrier, arg: done}
	d.mu.Lock()
	d.sweepLocked()
	d.queue.push(e)
	if expedite {
		d.expedite = true
	}
	d.mu.Unlock()
	d.kick()

	// a Close racing the barrier may stop the coordinator before it sees
	// the sentinel.
	select {
	case <-done:
		return nil
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closeBarrier(arg any) { close(arg.(chan struct{})) }
