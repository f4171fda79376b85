package engine

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ska-sa/skarabflash/internal/firmware"
	"github.com/ska-sa/skarabflash/internal/peertable"
	"github.com/ska-sa/skarabflash/internal/socketio"
	"github.com/ska-sa/skarabflash/internal/wallclock"
	"github.com/ska-sa/skarabflash/internal/wire"
)

func openImage(t *testing.T, size int, chunkSize int) *firmware.Image {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	img, err := firmware.Open(path, chunkSize)
	if err != nil {
		t.Fatalf("firmware.Open: %v", err)
	}
	return img
}

func newTable(t *testing.T, n int) *peertable.Table {
	t.Helper()
	specs := make([]string, n)
	for i := range specs {
		specs[i] = net.IPv4(10, 0, 0, byte(i+1)).String()
	}
	table, err := peertable.New(specs, wire.SkarabPort)
	if err != nil {
		t.Fatalf("peertable.New: %v", err)
	}
	return table
}

// honestAck decodes a sent request and builds a correctly-formed ack
// echoing its sequence and chunk, as a well-behaved board would.
func honestAck(sent socketio.SentDatagram) []byte {
	h, err := wire.Decode(sent.Payload[:wire.HeaderSize])
	if err != nil {
		return nil
	}
	ack := wire.Encode(wire.Header{Magic: wire.AckMagic, Sequence: h.Sequence, Chunk: h.Chunk, Total: 0})
	return ack[:]
}

func honestResponder(sent socketio.SentDatagram) [][]byte {
	if ack := honestAck(sent); ack != nil {
		return [][]byte{ack}
	}
	return nil
}

// runToCompletion drives BulkSend/DrainOneAck until every peer is done
// or a step ceiling is exceeded (guards against an infinite loop if a
// test's responder is broken). Time jumps to the next deadline only on
// a step that read no ack, as when the run loop's readability wait
// times out; queued acks are drained without time passing.
func runToCompletion(t *testing.T, e *Engine, now wallclock.Time) wallclock.Time {
	t.Helper()
	for step := 0; step < 100_000; step++ {
		result, next := e.BulkSend(now)
		if result == AllDone {
			return now
		}
		if result == SendError {
			t.Fatalf("BulkSend reported an error at step %d", step)
		}
		got := e.Totals.Got
		if err := e.DrainOneAck(now); err != nil {
			t.Fatalf("DrainOneAck: %v", err)
		}
		if e.Totals.Got == got {
			now = next
		}
	}
	t.Fatalf("transfer did not complete within step budget")
	return now
}

func TestStartSmearsExpiries(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 4)
	sock := socketio.NewFake(honestResponder)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(1_000_000)
	e.Start(now)

	prev := wallclock.Time{}
	for i, p := range table.Peers() {
		if wallclock.Before(p.ExpiresAt, now) {
			t.Fatalf("peer %d expiry %v is before start time %v", i, p.ExpiresAt, now)
		}
		ceiling := wallclock.Add(now, wallclock.FromMillis(RetryIntervalMs))
		if !wallclock.Before(p.ExpiresAt, ceiling) && wallclock.Compare(p.ExpiresAt, ceiling) != 0 {
			t.Fatalf("peer %d expiry %v exceeds one retry interval past start", i, p.ExpiresAt)
		}
		if i > 0 && !wallclock.Before(prev, p.ExpiresAt) {
			t.Fatalf("peer %d expiry %v did not increase over peer %d's %v", i, p.ExpiresAt, i-1, prev)
		}
		prev = p.ExpiresAt
	}
}

// TestSingleUploadEndToEnd covers a single, perfectly cooperative
// board from priming through the terminal chunk.
func TestSingleUploadEndToEnd(t *testing.T) {
	img := openImage(t, 4000, 1988) // 3 chunks: 1988, 1988, 24
	table := newTable(t, 1)
	sock := socketio.NewFake(honestResponder)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	runToCompletion(t, e, now)

	if e.CompleteCount() != 1 {
		t.Fatalf("CompleteCount = %d, want 1", e.CompleteCount())
	}
	// priming packet + 3 data chunks = 4 sends, all acked cleanly.
	if e.Totals.Sent != 4 {
		t.Errorf("Totals.Sent = %d, want 4", e.Totals.Sent)
	}
	if e.Totals.Got != 4 {
		t.Errorf("Totals.Got = %d, want 4", e.Totals.Got)
	}
	if e.Totals.Weird != 0 || e.Totals.Late != 0 || e.Totals.Future != 0 || e.Totals.Alien != 0 || e.Totals.Misfit != 0 {
		t.Errorf("unexpected rejection counters: %+v", e.Totals)
	}
}

// TestMultiPeerConcurrentTransfer covers several cooperative boards
// streaming independently.
func TestMultiPeerConcurrentTransfer(t *testing.T) {
	img := openImage(t, 10000, 1988)
	table := newTable(t, 4)
	sock := socketio.NewFake(honestResponder)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	runToCompletion(t, e, now)

	if got := e.CompleteCount(); got != 4 {
		t.Fatalf("CompleteCount = %d, want 4", got)
	}
	wantSends := uint64(4 * (img.ChunkCount() + 1))
	if e.Totals.Sent != wantSends {
		t.Errorf("Totals.Sent = %d, want %d", e.Totals.Sent, wantSends)
	}
}

func firstPeerSequence(t *testing.T, table *peertable.Table) uint16 {
	t.Helper()
	return table.Peers()[0].Sequence
}

// TestLateAckExtendsDeadlineAndIsDiscarded covers a stale ack (chunk
// behind what the peer already advanced past) being counted, pushing
// the peer's expiry one retry interval past its arrival, and being
// discarded without advancing the peer's chunk.
func TestLateAckExtendsDeadlineAndIsDiscarded(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)

	// Prime (wire chunk 0), then ack it so expected advances to 1.
	e.BulkSend(now)
	seq := firstPeerSequence(t, table)
	ack := wire.Encode(wire.Header{Magic: wire.AckMagic, Sequence: seq, Chunk: 0, Total: 0})
	sock.InjectRecv(ack[:], table.Peers()[0].Addr)
	if err := e.DrainOneAck(now); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if table.Peers()[0].Chunk != 0 {
		t.Fatalf("peer chunk = %d, want 0 after first valid ack", table.Peers()[0].Chunk)
	}

	// Replay the now-stale priming ack (wire chunk 0, expected is 1),
	// arriving a little later so the deadline extension is observable.
	later := wallclock.FromMillis(5)
	staleSeq := table.Peers()[0].Sequence
	stale := wire.Encode(wire.Header{Magic: wire.AckMagic, Sequence: staleSeq, Chunk: 0, Total: 0})
	sock.InjectRecv(stale[:], table.Peers()[0].Addr)
	if err := e.DrainOneAck(later); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if e.Totals.Late != 1 {
		t.Errorf("Totals.Late = %d, want 1", e.Totals.Late)
	}
	wantExpiry := wallclock.Add(later, wallclock.FromMillis(RetryIntervalMs))
	if got := table.Peers()[0].ExpiresAt; got != wantExpiry {
		t.Errorf("ExpiresAt after late ack = %+v, want %+v", got, wantExpiry)
	}
	if table.Peers()[0].Chunk != 0 {
		t.Errorf("stale ack must not advance peer chunk, got %d", table.Peers()[0].Chunk)
	}
}

// TestFutureAckIsDiscarded covers an ack reporting a chunk the engine
// has not yet offered.
func TestFutureAckIsDiscarded(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	e.BulkSend(now)

	seq := firstPeerSequence(t, table)
	ack := wire.Encode(wire.Header{Magic: wire.AckMagic, Sequence: seq, Chunk: 99, Total: 0})
	sock.InjectRecv(ack[:], table.Peers()[0].Addr)
	if err := e.DrainOneAck(now); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if e.Totals.Future != 1 {
		t.Errorf("Totals.Future = %d, want 1", e.Totals.Future)
	}
	if table.Peers()[0].Chunk != -1 {
		t.Errorf("future ack must not advance peer chunk, got %d", table.Peers()[0].Chunk)
	}
}

// TestSequenceMismatchIsWeird covers an ack for the right chunk but
// the wrong sequence number.
func TestSequenceMismatchIsWeird(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	e.BulkSend(now)

	ack := wire.Encode(wire.Header{Magic: wire.AckMagic, Sequence: 0xffff, Chunk: 0, Total: 0})
	sock.InjectRecv(ack[:], table.Peers()[0].Addr)
	if err := e.DrainOneAck(now); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if e.Totals.Weird != 1 {
		t.Errorf("Totals.Weird = %d, want 1", e.Totals.Weird)
	}
}

// TestAlienSenderIsDiscarded covers a datagram from an address not in
// the peer table.
func TestAlienSenderIsDiscarded(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	e.BulkSend(now)

	ack := wire.Encode(wire.Header{Magic: wire.AckMagic, Sequence: 0, Chunk: 0, Total: 0})
	stranger := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 1), Port: wire.SkarabPort}
	sock.InjectRecv(ack[:], stranger)
	if err := e.DrainOneAck(now); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if e.Totals.Alien != 1 {
		t.Errorf("Totals.Alien = %d, want 1", e.Totals.Alien)
	}
}

// TestMisfitLengthIsDiscarded covers a datagram from a known peer that
// is the wrong length to be a header.
func TestMisfitLengthIsDiscarded(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	e.BulkSend(now)

	sock.InjectRecv([]byte{1, 2, 3}, table.Peers()[0].Addr)
	if err := e.DrainOneAck(now); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if e.Totals.Misfit != 1 {
		t.Errorf("Totals.Misfit = %d, want 1", e.Totals.Misfit)
	}
}

// TestBadMagicIsWeird covers a correctly-sized datagram that fails the
// magic/error-code validation.
func TestBadMagicIsWeird(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	e.BulkSend(now)

	bad := wire.Encode(wire.Header{Magic: 0xdead, Sequence: 0, Chunk: 0, Total: 0})
	sock.InjectRecv(bad[:], table.Peers()[0].Addr)
	if err := e.DrainOneAck(now); err != nil {
		t.Fatalf("DrainOneAck: %v", err)
	}
	if e.Totals.Weird != 1 {
		t.Errorf("Totals.Weird = %d, want 1", e.Totals.Weird)
	}
}

// TestNoReceiverNeverCompletesButNeverErrors covers a board that
// never answers: resends cause Totals.Sent to climb but no hard
// failure; termination is the run loop's responsibility via
// Totals.Problems/Burst thresholds, not the engine's.
func TestNoReceiverNeverCompletesButNeverErrors(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)

	for i := 0; i < 5; i++ {
		result, next := e.BulkSend(now)
		if result == AllDone {
			t.Fatalf("BulkSend reported AllDone with no receiver present")
		}
		if err := e.DrainOneAck(now); err != nil {
			t.Fatalf("DrainOneAck: %v", err)
		}
		now = next
	}
	if e.Totals.Sent == 0 {
		t.Errorf("expected retransmits to have been sent")
	}
	if e.CompleteCount() != 0 {
		t.Errorf("CompleteCount = %d, want 0", e.CompleteCount())
	}
}

func TestFirstBulkSendCountsOnePrimingSend(t *testing.T) {
	img := openImage(t, 4000, 1988)
	table := newTable(t, 1)
	sock := socketio.NewFake(nil)
	e := New(table, img, sock, nil, nil)

	now := wallclock.FromMillis(0)
	e.Start(now)
	e.BulkSend(now)
	if e.Totals.Sent != 1 {
		t.Fatalf("Totals.Sent = %d, want 1", e.Totals.Sent)
	}
}
