package smr

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zeebo/assert"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const waitLimit = 5 * time.Second

func newDomain(t *testing.T, cfg *Config) *Domain {
	t.Helper()
	d, err := New(cfg)
	assert.NoError(t, err)
	t.Cleanup(func() {
		// a gated round would keep Close waiting forever.
		if g, ok := cfg.Quiescer.(*gate); ok {
			g.release()
		}
		_ = d.Close()
	})
	return d
}

// gate is a Quiescer that holds its first round until opened.
type gate struct {
	rounds  atomic.Int32
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), open: make(chan struct{})}
}

func (g *gate) Synchronize() {
	if g.rounds.Add(1) == 1 {
		close(g.entered)
		<-g.open
	}
}

func (g *gate) release() { g.once.Do(func() { close(g.open) }) }

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitLimit):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func assertPanics(t *testing.T, msg string, fn func()) {
	t.Helper()
	defer func() {
		assert.Equal(t, recover(), any(msg))
	}()
	fn()
}

func TestNewValidates(t *testing.T) {
	_, err := New(&Config{Shards: -1, Pause: -time.Second, Grace: Grace(7)})
	assert.Error(t, err)
	assert.Equal(t, len(multierr.Errors(err)), 3)

	d, err := New(nil)
	assert.NoError(t, err)
	assert.That(t, d.Shards() > 0)
	assert.NoError(t, d.Close())
}

func TestShardIndexWraps(t *testing.T) {
	d := newDomain(t, &Config{Shards: 3, ShardKey: func() int { return math.MinInt }})
	assert.Equal(t, d.Shard(4).ID(), 1)
	assert.Equal(t, d.Shard(-1).ID(), 2)
	assert.Equal(t, d.Shard(math.MinInt).ID(), d.shard().ID())

	var e Entry
	ran := make(chan struct{})
	d.CallExpedite(&e, func(any) { close(ran) }, nil)
	waitFor(t, ran, "callback on a wrapped shard key")
}

func TestBarrierRunsEverything(t *testing.T) {
	d := newDomain(t, &Config{Shards: 4, Pause: time.Millisecond})

	const n = 200
	var calls [n]atomic.Int32
	entries := make([]Entry, n)
	for i := range entries {
		d.Shard(i).Call(&entries[i], func(arg any) { calls[arg.(int)].Add(1) }, i)
	}
	d.Barrier()

	for i := range calls {
		assert.Equal(t, calls[i].Load(), int32(1))
	}
	st := d.Stats()
	assert.Equal(t, st.Pending, 0)
	assert.That(t, st.Called >= n)
}

func TestBarrierWithoutSubmissions(t *testing.T) {
	d := newDomain(t, &Config{Pause: time.Millisecond})

	done := make(chan struct{})
	go func() {
		d.Barrier()
		close(done)
	}()
	waitFor(t, done, "barrier")
	assert.NoError(t, d.Close())
	assert.Equal(t, d.Stats().Rounds, uint64(1))
}

func TestCallDoesNotBlock(t *testing.T) {
	g := newGate()
	d := newDomain(t, &Config{Shards: 2, Quiescer: g})

	var first, second Entry
	ran := make(chan struct{}, 2)
	d.Shard(0).CallExpedite(&first, func(any) { ran <- struct{}{} }, nil)
	waitFor(t, g.entered, "first round")

	returned := make(chan struct{})
	go func() {
		d.Shard(1).CallExpedite(&second, func(any) { ran <- struct{}{} }, nil)
		close(returned)
	}()
	waitFor(t, returned, "call with coordinator stuck in a grace period")
	assert.Equal(t, len(ran), 0)

	g.release()
	d.Barrier()
	assert.Equal(t, len(ran), 2)
}

func TestRoundsMergeInShardOrder(t *testing.T) {
	const pause = 20 * time.Millisecond
	g := newGate()
	d := newDomain(t, &Config{Shards: 3, Quiescer: g, Pause: pause})

	type event struct {
		id int
		at time.Time
	}
	events := make(chan event, 8)
	record := func(arg any) { events <- event{arg.(int), time.Now()} }

	var warm Entry
	d.Shard(0).CallExpedite(&warm, record, -1)
	waitFor(t, g.entered, "first round")

	// the coordinator is stuck proving the first round, so these three can
	// only be collected together once it comes back around.
	var e0, e1, e2 Entry
	d.Shard(2).Call(&e2, record, 2)
	d.Shard(0).Call(&e0, record, 0)
	d.Shard(1).Call(&e1, record, 1)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, len(events), 0)
	g.release()

	d.Barrier()
	close(events)
	var got []event
	for ev := range events {
		got = append(got, ev)
	}
	assert.Equal(t, len(got), 4)
	for i, want := range []int{-1, 0, 1, 2} {
		assert.Equal(t, got[i].id, want)
	}
	// the second round sat out the pause after the first one dispatched.
	assert.That(t, got[1].at.Sub(got[0].at) >= pause)
	assert.That(t, g.rounds.Load() >= 2)
}

func TestExpediteSkipsPause(t *testing.T) {
	d := newDomain(t, &Config{Pause: time.Hour})

	var e Entry
	ran := make(chan struct{})
	d.CallExpedite(&e, func(any) { close(ran) }, nil)
	waitFor(t, ran, "expedited callback")
}

func TestPauseBatchesSubmissions(t *testing.T) {
	const pause = 50 * time.Millisecond
	d := newDomain(t, &Config{Shards: 1, Pause: pause})

	var e Entry
	ran := make(chan time.Time, 1)
	start := time.Now()
	d.Call(&e, func(any) { ran <- time.Now() }, nil)

	select {
	case at := <-ran:
		assert.That(t, at.Sub(start) >= pause)
	case <-time.After(waitLimit):
		t.Fatal("callback never ran")
	}
}

func TestBarrierHalted(t *testing.T) {
	var halted atomic.Bool
	g := newGate()
	d := newDomain(t, &Config{Quiescer: g, Halted: halted.Load})
	halted.Store(true)

	done := make(chan struct{})
	go func() {
		d.Barrier()
		close(done)
	}()
	waitFor(t, done, "halted barrier")
	assert.Equal(t, g.rounds.Load(), int32(0))
}

func TestBarrierContextCanceled(t *testing.T) {
	g := newGate()
	d := newDomain(t, &Config{Quiescer: g})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, d.BarrierContext(ctx, true), context.DeadlineExceeded)

	g.release()
	assert.NoError(t, d.BarrierContext(context.Background(), true))
}

func TestCloseRunsPending(t *testing.T) {
	d, err := New(&Config{Shards: 2, Pause: time.Hour})
	assert.NoError(t, err)

	var called atomic.Int32
	entries := make([]Entry, 10)
	for i := range entries {
		d.Shard(i).Call(&entries[i], func(any) { called.Add(1) }, nil)
	}
	assert.NoError(t, d.Close())
	assert.Equal(t, called.Load(), int32(10))
	assert.NoError(t, d.Close())

	var late Entry
	assertPanics(t, "smr: call on closed domain", func() {
		d.Call(&late, func(any) {}, nil)
	})
	d.Barrier()
}

func TestCallMisuse(t *testing.T) {
	d := newDomain(t, &Config{Pause: time.Millisecond})

	var e Entry
	assertPanics(t, "smr: nil callback", func() { d.Call(&e, nil, nil) })
	assert.That(t, !e.Pending())

	d.Call(&e, func(any) {}, nil)
	assert.That(t, e.Pending())
	assertPanics(t, "smr: entry submitted twice", func() { d.Call(&e, func(any) {}, nil) })
	d.Barrier()
}

func TestIdleShardFlushesOnCall(t *testing.T) {
	g := newGate()
	d := newDomain(t, &Config{Shards: 3, Quiescer: g})

	var warm, busy, idle Entry
	d.Shard(0).CallExpedite(&warm, func(any) {}, nil)
	waitFor(t, g.entered, "first round")

	s1, s2 := d.Shard(1), d.Shard(2)
	s1.NotifyBusy()
	s1.Call(&busy, func(any) {}, nil)
	assert.Equal(t, s1.queued(), 1)

	s2.NotifyIdle()
	s2.Call(&idle, func(any) {}, nil)
	assert.Equal(t, s2.queued(), 0)

	d.mu.Lock()
	assert.Equal(t, d.queue.len(), 1)
	d.mu.Unlock()

	s1.NotifyIdle()
	assert.Equal(t, s1.queued(), 0)
	assert.Equal(t, d.Stats().Pending, 3)

	g.release()
	d.Barrier()
	assert.Equal(t, d.Stats().Pending, 0)
}

func TestSlowRoundLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := newDomain(t, &Config{
		Logger:          zap.New(core),
		SlowRound:       time.Nanosecond,
		SlowLogInterval: time.Hour,
	})

	d.BarrierExpedite()
	d.BarrierExpedite()
	assert.NoError(t, d.Close())

	assert.Equal(t, logs.FilterMessage("dispatch took too long").Len(), 1)
	assert.That(t, d.Stats().Slow >= 2)
}

func TestStatsRounds(t *testing.T) {
	d := newDomain(t, &Config{Pause: time.Millisecond})
	for i := 0; i < 3; i++ {
		d.BarrierExpedite()
	}
	assert.NoError(t, d.Close())
	st := d.Stats()
	assert.Equal(t, st.Rounds, uint64(3))
	assert.Equal(t, st.Called, uint64(3))
	assert.That(t, st.MaxRound >= st.LastRound)
}
