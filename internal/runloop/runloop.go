// Package runloop implements the outer drive loop: one bulk send, one
// bounded wait for socket readability, and at most one drained ack per
// iteration, with the timeout/problem-burst bookkeeping that decides
// when the engine aborts. It runs as a tight single-goroutine for-loop
// driving the engine via explicit method calls each tick, with no
// goroutine behind it at all: the whole transfer is single-threaded
// and cooperative.
package runloop

import (
	"context"
	"fmt"

	"github.com/ska-sa/skarabflash/internal/engine"
	"github.com/ska-sa/skarabflash/internal/observability"
	"github.com/ska-sa/skarabflash/internal/wallclock"
)

// Outcome is why the run loop stopped.
type Outcome int

const (
	// Success means every peer reached Done.
	Success Outcome = iota
	// AbortProblems means Totals.Problems exceeded its limit.
	AbortProblems
	// AbortBurst means the consecutive-timeout burst exceeded its limit.
	AbortBurst
	// AbortCancelled means ctx was cancelled (operator signal).
	AbortCancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case AbortProblems:
		return "aborted: too many send/receive problems"
	case AbortBurst:
		return "aborted: too many consecutive timeouts"
	case AbortCancelled:
		return "aborted: cancelled"
	default:
		return "unknown outcome"
	}
}

// DefaultProblemLimit and DefaultBurstLimit are the default
// termination thresholds.
const (
	DefaultProblemLimit = 10
	DefaultBurstLimit   = 50
)

// Clock abstracts wall-clock sampling so tests can drive time
// deterministically; the production Run caller supplies one backed by
// wallclock.Now. The readability wait is the separate WaitReadable
// argument to Run.
type Clock interface {
	Now() wallclock.Time
}

// Options configures abort thresholds. A zero value selects the
// package defaults.
type Options struct {
	ProblemLimit      int
	RetryBurstLimit   int
	RetryBurstPerPeer bool
}

func (o Options) problemLimit() int {
	if o.ProblemLimit > 0 {
		return o.ProblemLimit
	}
	return DefaultProblemLimit
}

func (o Options) burstLimit(peerCount int) int {
	limit := o.RetryBurstLimit
	if limit <= 0 {
		limit = DefaultBurstLimit
	}
	if o.RetryBurstPerPeer {
		limit *= peerCount
	}
	return limit
}

// WaitReadable is satisfied by socketio.Socket; accepting only this
// method keeps the loop from depending on the full socket interface.
type WaitReadable interface {
	WaitReadable(timeoutMs int) (bool, error)
}

// Run drives e to completion or abort, consulting ctx for
// cancellation at the top of every iteration. sock is the same
// socket the engine was built with; it is used only for the
// readability wait, never for send/recv (those stay inside the
// engine). Each BulkSend pass gets its own child span under whatever
// span ctx carries (a no-op unless the caller initialized tracing).
func Run(ctx context.Context, e *engine.Engine, sock WaitReadable, clock Clock, opts Options, log *observability.Logger) (Outcome, error) {
	peerCount := e.PeerCount()
	problemLimit := opts.problemLimit()
	burstLimit := opts.burstLimit(peerCount)

	now := clock.Now()
	e.Start(now)

	for {
		select {
		case <-ctx.Done():
			return AbortCancelled, nil
		default:
		}

		now = clock.Now()
		_, span := observability.StartSpan(ctx, "BulkSend")
		result, stallUntil := e.BulkSend(now)

		switch result {
		case engine.AllDone:
			span.End()
			return Success, nil
		case engine.SendError:
			span.RecordError(fmt.Errorf("runloop: bulk send reported a problem"))
			span.End()
			if e.Totals.Problems > problemLimit {
				return AbortProblems, nil
			}
		default:
			span.End()
		}

		now = clock.Now()
		waitMs := 0
		if delta, ok := wallclock.Sub(stallUntil, now); ok {
			waitMs = int(delta.Millis())
		}

		readable, err := sock.WaitReadable(waitMs)
		if err != nil {
			return AbortProblems, fmt.Errorf("runloop: wait readable: %w", err)
		}

		if !readable {
			e.Totals.Timeout++
			e.Totals.Burst++
			if log != nil {
				log.Debug("readability wait timed out")
			}
			if e.Totals.Burst > burstLimit {
				return AbortBurst, nil
			}
			continue
		}

		now = clock.Now()
		if err := e.DrainOneAck(now); err != nil {
			e.Totals.Problems++
			if log != nil {
				log.Error(err, "drain ack failed")
			}
			if e.Totals.Problems > problemLimit {
				return AbortProblems, nil
			}
		}
	}
}

