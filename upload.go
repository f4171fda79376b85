// Package skarabflash implements a bulk firmware upload to one or
// more SKARAB FPGA boards over a reliable UDP transfer protocol.
// Upload is the single embedding entry point; cmd/skarabflash is a
// thin CLI wrapper around it.
package skarabflash

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ska-sa/skarabflash/internal/config"
	"github.com/ska-sa/skarabflash/internal/engine"
	"github.com/ska-sa/skarabflash/internal/firmware"
	"github.com/ska-sa/skarabflash/internal/observability"
	"github.com/ska-sa/skarabflash/internal/peertable"
	"github.com/ska-sa/skarabflash/internal/runloop"
	"github.com/ska-sa/skarabflash/internal/socketio"
	"github.com/ska-sa/skarabflash/internal/wallclock"
	"github.com/ska-sa/skarabflash/internal/wire"
)

// Exit codes follow conventional UNIX sysexits.
const (
	ExOK          = 0
	ExUsage       = 64
	ExSoftware    = 70
	ExOSErr       = 71
	ExUnavailable = 69
)

// Options configures one upload run.
type Options struct {
	ImagePath string
	Peers     []string // hostname, dotted-quad, or name:port
	ChunkSize int // default 1988, validated (65, 9000]

	RetryBurstLimit   int  // -T semantics, 0 = default (50)
	RetryBurstPerPeer bool // -t semantics: scale limit by peer count
	ProblemLimit      int  // default 10

	Verbosity int

	Metrics *observability.Metrics // optional, nil disables export
	Logger  *observability.Logger  // optional, nil logs console-formatted lines to stdout
}

func (o Options) toConfig() config.Config {
	c := config.Default()
	c.ImagePath = o.ImagePath
	c.Peers = o.Peers
	if o.ChunkSize != 0 {
		c.ChunkSize = o.ChunkSize
	}
	if o.ProblemLimit != 0 {
		c.ProblemLimit = o.ProblemLimit
	}
	if o.RetryBurstLimit != 0 {
		c.RetryBurstLimit = o.RetryBurstLimit
	}
	c.RetryBurstPerPeer = o.RetryBurstPerPeer
	return c
}

type wallclockSource struct{}

func (wallclockSource) Now() wallclock.Time { return wallclock.Now() }

// Upload runs one bulk-send transfer to completion or abort. ctx
// cancellation lets a caller interrupt an in-progress run cleanly;
// cmd/skarabflash wires signal.NotifyContext into it. Upload holds
// no state across calls, so sequential calls with fresh Options are
// safe.
func Upload(ctx context.Context, opts Options) (exitCode int, err error) {
	cfg := opts.toConfig()
	if err := cfg.Validate(); err != nil {
		return ExUsage, err
	}

	log := opts.Logger
	if log == nil {
		log = observability.NewLogger("dev", nil, false)
	}
	runID := uuid.NewString()
	log = log.WithRun(runID)

	image, err := firmware.Open(cfg.ImagePath, cfg.ChunkSize)
	if err != nil {
		return ExOSErr, fmt.Errorf("open firmware image: %w", err)
	}

	table, err := peertable.New(cfg.Peers, wire.SkarabPort)
	if err != nil {
		return ExUsage, err
	}

	sock, err := socketio.NewUnixSocket()
	if err != nil {
		return ExOSErr, fmt.Errorf("create socket: %w", err)
	}
	defer sock.Close()

	digest := image.Digest()
	log.RunStarted(cfg.ImagePath, int64(image.Len()), image.ChunkSize(), image.ChunkCount(), table.Len(), digest)
	if opts.Verbosity >= 1 {
		log.Info(fmt.Sprintf("image digest: %s", digest))
	}

	shutdownTracing, err := observability.InitTracing(ctx, "skarabflash")
	if err != nil {
		log.Error(err, "tracing init failed, continuing without it")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	spanCtx, span := observability.StartSpan(ctx, "Upload")
	defer span.End()

	e := engine.New(table, image, sock, log, opts.Metrics)

	start := time.Now()
	outcome, err := runloop.Run(spanCtx, e, sock, wallclockSource{}, cfg.RunloopOptions(), log)
	elapsed := time.Since(start)

	completed, total := e.CompleteCount(), e.PeerCount()
	log.RunCompleted(outcome.String(), completed, total, elapsed)
	if opts.Verbosity >= 2 {
		log.CounterSnapshot(
			e.Totals.Sent, e.Totals.Got, e.Totals.Weird, e.Totals.Late,
			e.Totals.Future, e.Totals.Alien, e.Totals.Misfit, e.Totals.Defer,
			e.Totals.Timeout, e.Totals.Burst, e.Totals.Problems,
		)
	}
	if opts.Metrics != nil {
		opts.Metrics.Snapshot(
			e.Totals.Sent, e.Totals.Got, e.Totals.Weird, e.Totals.Late,
			e.Totals.Future, e.Totals.Alien, e.Totals.Misfit, e.Totals.Defer,
			e.Totals.Timeout, e.Totals.Burst, e.Totals.Problems,
			completed, total,
		)
		opts.Metrics.RecordRun(outcome.String())
	}

	if err != nil {
		span.RecordError(err)
		return ExOSErr, err
	}

	switch outcome {
	case runloop.Success:
		return ExOK, nil
	case runloop.AbortCancelled:
		err := fmt.Errorf("upload: %s (%d/%d peers completed)", outcome, completed, total)
		span.RecordError(err)
		return ExUnavailable, err
	default:
		err := fmt.Errorf("upload: %s (%d/%d peers completed)", outcome, completed, total)
		span.RecordError(err)
		return ExSoftware, err
	}
}
