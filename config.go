package smr

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/zeebo/smr/internal/pin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Grace selects how a Domain proves that a grace period has elapsed.
type Grace int

const (
	// GraceReaders waits for every Reader entered before the round to leave.
	GraceReaders Grace = iota
	// GraceIdle waits for every busy shard to pass through NotifyIdle. The host
	// must drive NotifyBusy and NotifyIdle, and must never announce idle from
	// inside a read section.
	GraceIdle
)

func (g Grace) String() string {
	switch g {
	case GraceReaders:
		return "readers"
	case GraceIdle:
		return "idle"
	}
	return fmt.Sprintf("Grace(%d)", int(g))
}

// ParseGrace parses the String form of a Grace.
func ParseGrace(s string) (Grace, error) {
	switch s {
	case "readers", "":
		return GraceReaders, nil
	case "idle":
		return GraceIdle, nil
	}
	return 0, fmt.Errorf("unknown grace mode %q", s)
}

const (
	defaultPause           = 5 * time.Millisecond
	defaultSlowRound       = 2 * time.Second
	defaultSlowLogInterval = 5 * time.Minute
)

// Config models optional configuration, for New. Zero fields take defaults.
type Config struct {
	// Shards is the number of per-core queues.
	// **Defaults to GOMAXPROCS, if 0.**
	Shards int

	// ShardKey picks the shard for Domain level calls, modulo Shards.
	// **Defaults to the id of the P running the caller.**
	ShardKey func() int

	// Pause is how long the coordinator lets submissions batch up before it
	// collects a round, unless one of them asked to expedite.
	// **Defaults to 5ms, if 0.**
	Pause time.Duration

	// SlowRound is the round duration (grace wait plus dispatch) past which a
	// warning is logged.
	// **Defaults to 2s, if 0.**
	SlowRound time.Duration

	// SlowLogInterval bounds how often slow rounds are logged.
	// **Defaults to 5m, if 0.**
	SlowLogInterval time.Duration

	// Grace selects the built-in grace period proof.
	Grace Grace

	// Quiescer, if set, replaces the built-in grace period proof.
	Quiescer Quiescer

	// Halted reports that the process is in a state where the coordinator
	// cannot be relied on to run, such as while crashing. Barrier returns
	// immediately while it reports true.
	Halted func() bool

	// Logger receives coordinator diagnostics.
	// **Defaults to the package logger.**
	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Shards == 0 {
		c.Shards = runtime.GOMAXPROCS(0)
	}
	if c.ShardKey == nil {
		c.ShardKey = pin.Proc
	}
	if c.Pause == 0 {
		c.Pause = defaultPause
	}
	if c.SlowRound == 0 {
		c.SlowRound = defaultSlowRound
	}
	if c.SlowLogInterval == 0 {
		c.SlowLogInterval = defaultSlowLogInterval
	}
	if c.Halted == nil {
		c.Halted = func() bool { return false }
	}
	if c.Logger == nil {
		c.Logger = logger
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Shards < 0 {
		errs = append(errs, fmt.Errorf("shards %d is negative", c.Shards))
	}
	if c.Pause < 0 {
		errs = append(errs, fmt.Errorf("pause %v is negative", c.Pause))
	}
	if c.SlowRound < 0 {
		errs = append(errs, fmt.Errorf("slow round threshold %v is negative", c.SlowRound))
	}
	if c.SlowLogInterval < 0 {
		errs = append(errs, fmt.Errorf("slow log interval %v is negative", c.SlowLogInterval))
	}
	switch c.Grace {
	case GraceReaders, GraceIdle:
	default:
		errs = append(errs, errors.New("unknown grace mode "+c.Grace.String()))
	}
	return multierr.Combine(errs...)
}
