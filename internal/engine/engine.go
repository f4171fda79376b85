// Package engine implements the multi-peer reliable-send engine: the
// per-peer state machine, scheduling sends across peers against
// per-peer expiry deadlines, ack correlation/validation, and the
// counters that drive termination.
//
// Structurally this favors small, single-purpose controller types: a
// tiny struct with an explicit tick/update shape, reworked from a
// goroutine/channel fan-out idea into one synchronous, single-threaded
// call shape. The state-machine edges themselves are a direct port of
// progska.c's perform_send/perform_receive.
package engine

import (
	"fmt"

	"github.com/ska-sa/skarabflash/internal/firmware"
	"github.com/ska-sa/skarabflash/internal/observability"
	"github.com/ska-sa/skarabflash/internal/peertable"
	"github.com/ska-sa/skarabflash/internal/socketio"
	"github.com/ska-sa/skarabflash/internal/wallclock"
	"github.com/ska-sa/skarabflash/internal/wire"
)

// RetryIntervalMs is the fixed per-peer retry/pacing interval.
const RetryIntervalMs = 20

// Result is the outcome of one BulkSend scheduling pass.
type Result int

const (
	// Continue means at least one peer is still in flight and no send
	// hard-failed this pass.
	Continue Result = iota
	// AllDone means every peer has reached the terminal state.
	AllDone
	// SendError means a non-transient send failure occurred this pass;
	// BulkSend has already counted it in Totals.Problems, and the run
	// loop checks that count against its limit.
	SendError
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case AllDone:
		return "all-done"
	case SendError:
		return "error"
	default:
		return "unknown"
	}
}

// ackBufSize is sized generously above wire.HeaderSize so an
// oversized datagram is observed at its real length (and counted
// misfit) instead of being silently truncated by a HeaderSize buffer.
const ackBufSize = 64

// Engine owns the peer table, the image, the socket, and the totals
// counters for one upload run. It holds no state beyond that; nothing
// survives across separate Engine instances.
type Engine struct {
	table *peertable.Table
	image *firmware.Image
	sock  socketio.Socket

	Totals Totals

	retryInterval wallclock.Time
	datagram      []byte

	log     *observability.Logger
	metrics *observability.Metrics
}

// New builds an Engine. log and metrics may be nil.
func New(table *peertable.Table, image *firmware.Image, sock socketio.Socket, log *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		table:         table,
		image:         image,
		sock:          sock,
		retryInterval: wallclock.FromMillis(RetryIntervalMs),
		datagram:      make([]byte, wire.HeaderSize+image.ChunkSize()),
		log:           log,
		metrics:       metrics,
	}
}

// PeerCount returns the number of peers in the table.
func (e *Engine) PeerCount() int { return e.table.Len() }

// CompleteCount returns how many peers have reached the terminal
// (Done) state.
func (e *Engine) CompleteCount() int {
	n := 0
	chunkCount := e.image.ChunkCount()
	for _, p := range e.table.Peers() {
		if p.Chunk >= chunkCount {
			n++
		}
	}
	return n
}

// Start smears each peer's initial expiry across the first retry
// interval: peer i (in the order peers were passed to peertable.New,
// not sorted address order) gets now + i*(retry_interval/N), clamped
// to [1,999999]us per step, so N boards do not all receive their
// priming packet in one burst. Must be called once, before the first
// BulkSend.
func (e *Engine) Start(now wallclock.Time) {
	n := e.table.Len()

	smearUsec := int64(RetryIntervalMs*1000) / int64(n)
	if smearUsec <= 0 {
		smearUsec = 1
	} else if smearUsec >= 1_000_000 {
		smearUsec = 999_999
	}
	step := wallclock.Time{Usec: smearUsec}

	when := now
	for _, p := range e.table.PeersByInsertionOrder() {
		p.ExpiresAt = when
		when = wallclock.Add(when, step)
	}
}

// send performs the per-peer send operation unconditionally: callers
// decide *when* to call it (BulkSend gates on expires_at; DrainOneAck
// calls it unconditionally as a pipelined, ack-clocked send). done
// reports whether the peer was already in the terminal state, a check
// that is never expected to trigger given the callers' own state
// checks.
func (e *Engine) send(p *peertable.Peer, now wallclock.Time) (done bool, err error) {
	chunkCount := e.image.ChunkCount()
	if p.Chunk >= chunkCount {
		p.ExpiresAt = now
		return true, nil
	}

	p.Sequence++

	var payload []byte
	if p.Chunk < 0 {
		payload = e.image.PrimePayload()
	} else {
		payload = e.image.Chunk(p.Chunk)
	}

	header := wire.EncodeRequest(p.Sequence, uint16(p.Chunk+1), uint16(chunkCount))
	copy(e.datagram[:wire.HeaderSize], header[:])
	copy(e.datagram[wire.HeaderSize:], payload)

	wr, err := e.sock.SendTo(e.datagram, p.Addr)
	if err != nil {
		if err == socketio.ErrWouldBlock {
			e.Totals.Defer++
			return false, nil
		}
		return false, err
	}

	e.Totals.Sent++

	if wr != len(e.datagram) {
		return false, fmt.Errorf("engine: unexpected send length %d to %s (want %d)", wr, p.Addr, len(e.datagram))
	}

	p.LastSentAt = now
	p.ExpiresAt = wallclock.Add(now, e.retryInterval)
	return false, nil
}

// BulkSend is the scheduling pass: every peer not yet Done whose
// expiry has arrived gets a send; the earliest remaining expiry among
// in-flight peers becomes the deadline the run loop waits against
// next.
func (e *Engine) BulkSend(now wallclock.Time) (Result, wallclock.Time) {
	ceiling := wallclock.Add(now, e.retryInterval)
	chunkCount := e.image.ChunkCount()

	finished := 0
	hadError := false

	for _, p := range e.table.Peers() {
		if p.Chunk >= chunkCount {
			finished++
			continue
		}

		if !wallclock.Before(now, p.ExpiresAt) {
			done, err := e.send(p, now)
			switch {
			case err != nil:
				e.Totals.Problems++
				hadError = true
			case done:
				finished++
			}
		}

		if p.Chunk < chunkCount && wallclock.Before(p.ExpiresAt, ceiling) {
			ceiling = p.ExpiresAt
		}
	}

	if finished >= e.table.Len() {
		return AllDone, ceiling
	}
	if hadError {
		return SendError, ceiling
	}
	return Continue, ceiling
}

// DrainOneAck performs the receive operation: a single non-blocking
// recv, ack correlation against the peer table, and the
// validation/advance rules (future/late/mismatched-sequence/valid). A
// valid ack resets Totals.Burst and triggers an immediate pipelined
// send for the next chunk.
func (e *Engine) DrainOneAck(now wallclock.Time) error {
	buf := make([]byte, ackBufSize)
	n, from, err := e.sock.RecvFrom(buf)
	if err != nil {
		if err == socketio.ErrWouldBlock {
			e.Totals.Defer++
			return nil
		}
		return err
	}

	e.Totals.Got++

	peer, ok := e.table.Find(from.IP)
	if !ok {
		e.Totals.Alien++
		return nil
	}

	ack, err := wire.DecodeAck(buf[:n])
	if err != nil {
		if err == wire.ErrMisfit {
			e.Totals.Misfit++
		} else {
			e.Totals.Weird++
		}
		return nil
	}

	expected := peer.Chunk + 1

	switch {
	case int(ack.Chunk) > expected:
		e.Totals.Future++
		return nil

	case int(ack.Chunk) < expected:
		e.Totals.Late++
		peer.ExpiresAt = wallclock.Add(now, e.retryInterval)
		return nil

	case ack.Sequence != peer.Sequence:
		e.Totals.Weird++
		peer.ExpiresAt = wallclock.Add(now, e.retryInterval)
		return nil
	}

	peer.Chunk++
	e.Totals.Burst = 0

	if peer.Chunk < e.image.ChunkCount() {
		if _, err := e.send(peer, now); err != nil {
			return err
		}
	}
	return nil
}
