package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeebo/pcg"
	"github.com/zeebo/smr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type workloadOptions struct {
	Shards   int
	Readers  int
	Writers  int
	Duration time.Duration
	Pause    time.Duration
	Grace    string
	Expedite bool
	Seed     uint64
}

type workloadResult struct {
	Reads      int64
	Writes     int64
	Violations int64
	Stats      smr.Stats
}

func (r workloadResult) String() string {
	return fmt.Sprintf("reads=%d writes=%d violations=%d rounds=%d called=%d slow=%d max-round=%v",
		r.Reads, r.Writes, r.Violations, r.Stats.Rounds, r.Stats.Called, r.Stats.Slow, r.Stats.MaxRound)
}

type value struct {
	smr.Entry
	seq   int64
	freed atomic.Bool
}

// runWorkload runs readers and writers against one shared pointer until the
// duration elapses or ctx ends. In idle mode every goroutine is bound to a
// shard and announces idle between bursts, the way a per-core scheduler would.
func runWorkload(ctx context.Context, opts workloadOptions, logger *zap.Logger) (res workloadResult, err error) {
	grace, err := smr.ParseGrace(opts.Grace)
	if err != nil {
		return res, err
	}
	if opts.Readers < 1 || opts.Writers < 1 {
		return res, fmt.Errorf("need at least one reader and one writer")
	}
	// a shard announcing idle must not have a reader of another goroutine
	// open, so idle mode gives every goroutine its own shard.
	workers := opts.Readers + opts.Writers
	if grace == smr.GraceIdle {
		if opts.Shards == 0 {
			opts.Shards = workers
		}
		if opts.Shards < workers {
			return res, fmt.Errorf("idle grace needs %d shards, have %d", workers, opts.Shards)
		}
	}

	d, err := smr.New(&smr.Config{
		Shards: opts.Shards,
		Pause:  opts.Pause,
		Grace:  grace,
		Logger: logger,
	})
	if err != nil {
		return res, err
	}

	var ptr smr.Pointer[value]
	ptr.Store(&value{})

	var reads, writes, violations atomic.Int64
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	worker := 0
	nextShard := func() *smr.Shard {
		s := d.Shard(worker)
		worker++
		return s
	}

	for i := 0; i < opts.Writers; i++ {
		s := nextShard()
		g.Go(func() error {
			for ctx.Err() == nil {
				s.NotifyBusy()
				for n := 0; n < 32; n++ {
					next := &value{seq: writes.Add(1)}
					old := ptr.Swap(next)
					if opts.Expedite {
						s.CallExpedite(&old.Entry, retire, old)
					} else {
						s.Call(&old.Entry, retire, old)
					}
				}
				s.NotifyIdle()
				time.Sleep(100 * time.Microsecond)
			}
			return nil
		})
	}

	for i := 0; i < opts.Readers; i++ {
		s := nextShard()
		rng := pcg.New(opts.Seed+uint64(i), uint64(i))
		g.Go(func() error {
			for ctx.Err() == nil {
				s.NotifyBusy()
				for n := 0; n < 64; n++ {
					r := s.Enter()
					v := ptr.Load(r)
					for spin := rng.Uint32() % 128; spin > 0; spin-- {
						if v.freed.Load() {
							violations.Add(1)
							logger.Error("read of finalized value", zap.Int64("seq", v.seq))
							break
						}
					}
					r.Leave()
					reads.Add(1)
				}
				s.NotifyIdle()
			}
			return nil
		})
	}

	err = g.Wait()
	d.Barrier()
	res = workloadResult{
		Reads:      reads.Load(),
		Writes:     writes.Load(),
		Violations: violations.Load(),
		Stats:      d.Stats(),
	}
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	logger.Info("workload finished",
		zap.Int64("reads", res.Reads),
		zap.Int64("writes", res.Writes),
		zap.Uint64("rounds", res.Stats.Rounds),
	)
	return res, err
}

func retire(arg any) { arg.(*value).freed.Store(true) }
