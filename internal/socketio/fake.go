package socketio

import "net"

// SentDatagram records one SendTo call, for tests that assert on what
// the engine actually put on the wire.
type SentDatagram struct {
	Addr    *net.UDPAddr
	Payload []byte
}

// Responder decides how a scripted mock receiver reacts to one
// outbound datagram: it may enqueue zero or more ack datagrams to be
// delivered on a later RecvFrom (dropped, duplicated, corrupted, or
// delayed are all expressible by returning 0, 2+, garbage, or nothing
// this round and something next round).
type Responder func(sent SentDatagram) [][]byte

// Fake is an in-memory Socket for engine tests: a mock receiver that
// "acks honestly" is just a Responder that echoes sequence/chunk back
// with AckMagic.
type Fake struct {
	Respond Responder
	Sent    []SentDatagram

	pending     [][]byte
	pendingAddr []*net.UDPAddr
	closed      bool
}

// NewFake builds a Fake driven by respond. A nil respond never enqueues
// replies, simulating a receiver that never answers.
func NewFake(respond Responder) *Fake {
	if respond == nil {
		respond = func(SentDatagram) [][]byte { return nil }
	}
	return &Fake{Respond: respond}
}

// SendTo implements Socket.
func (f *Fake) SendTo(buf []byte, addr *net.UDPAddr) (int, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	sent := SentDatagram{Addr: addr, Payload: cp}
	f.Sent = append(f.Sent, sent)

	for _, reply := range f.Respond(sent) {
		f.InjectRecv(reply, addr)
	}
	return len(buf), nil
}

// InjectRecv queues a datagram to be returned by a future RecvFrom,
// as if it arrived from addr. Used directly by tests to simulate
// spurious or alien traffic.
func (f *Fake) InjectRecv(buf []byte, addr *net.UDPAddr) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.pending = append(f.pending, cp)
	f.pendingAddr = append(f.pendingAddr, addr)
}

// RecvFrom implements Socket: one queued datagram per call, FIFO.
func (f *Fake) RecvFrom(buf []byte) (int, *net.UDPAddr, error) {
	if len(f.pending) == 0 {
		return 0, nil, ErrWouldBlock
	}
	next, addr := f.pending[0], f.pendingAddr[0]
	f.pending = f.pending[1:]
	f.pendingAddr = f.pendingAddr[1:]
	n := copy(buf, next)
	return n, addr, nil
}

// WaitReadable implements Socket: readable iff a datagram is already
// queued. Tests drive wall-clock progression explicitly, so this never
// actually blocks for timeoutMs.
func (f *Fake) WaitReadable(timeoutMs int) (bool, error) {
	return len(f.pending) > 0, nil
}

// Close implements Socket.
func (f *Fake) Close() error {
	f.closed = true
	return nil
}
