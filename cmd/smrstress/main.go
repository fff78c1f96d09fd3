// Command smrstress drives a reclamation domain with concurrent readers and
// writers and reports any value that was finalized while still being read.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/zeebo/smr"
	"github.com/zeebo/smr/internal/logging"
	"go.uber.org/zap"
)

var opts workloadOptions

var app = &cli.App{
	Name:  "smrstress",
	Usage: "Stress a safe memory reclamation domain.",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:        "shards",
			Usage:       "Number of shards, 0 for GOMAXPROCS.",
			Destination: &opts.Shards,
		},
		&cli.IntFlag{
			Name:        "readers",
			Usage:       "Number of reader goroutines.",
			Value:       4,
			Destination: &opts.Readers,
		},
		&cli.IntFlag{
			Name:        "writers",
			Usage:       "Number of writer goroutines.",
			Value:       1,
			Destination: &opts.Writers,
		},
		&cli.DurationFlag{
			Name:        "duration",
			Usage:       "How long to run.",
			Value:       5 * time.Second,
			Destination: &opts.Duration,
		},
		&cli.DurationFlag{
			Name:        "pause",
			Usage:       "Coordinator batching `pause`, 0 for the default.",
			Destination: &opts.Pause,
		},
		&cli.StringFlag{
			Name:        "grace",
			Usage:       "Grace period proof: readers or idle.",
			Value:       smr.GraceReaders.String(),
			Destination: &opts.Grace,
		},
		&cli.BoolFlag{
			Name:        "expedite",
			Usage:       "Submit every retirement as expedited.",
			Destination: &opts.Expedite,
		},
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "Seed of the reader jitter.",
			Value:       1,
			Destination: &opts.Seed,
		},
		&cli.StringFlag{
			Name:    "log",
			Usage:   "Log `level` (D, I, W, E).",
			Value:   "I",
			EnvVars: []string{"SMR_LOG"},
		},
	},
	Action: func(c *cli.Context) error {
		logger := logging.Named("smrstress").
			WithOptions(zap.IncreaseLevel(logging.ParseLevel(c.String("log"))))
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := runWorkload(ctx, opts, logger)
		if err != nil {
			return err
		}
		fmt.Println(res)
		if res.Violations > 0 {
			return cli.Exit(fmt.Sprintf("%d reads of finalized values", res.Violations), 1)
		}
		return nil
	},
}

func main() {
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
