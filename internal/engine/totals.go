package engine

// Totals is the single counter set for one transfer: sent/got plus
// every rejection reason, the cumulative problem count, and the
// consecutive-timeout burst counter. All fields are plain ints — the
// engine is single-threaded and cooperative, so no synchronization is
// needed here.
type Totals struct {
	Sent    uint64
	Got     uint64
	Weird   uint64
	Late    uint64
	Future  uint64
	Alien   uint64
	Misfit  uint64
	Defer   uint64
	Timeout uint64

	// Burst counts consecutive readability timeouts with no
	// intervening valid ack; it resets to 0 on any valid ack.
	Burst int

	// Problems is a cumulative ceiling on send/receive hard failures;
	// it is never reset once incremented.
	Problems int
}
