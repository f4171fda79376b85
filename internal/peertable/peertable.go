// Package peertable implements the ordered, keyed collection of
// per-peer state records, in the style of the classic qsort-by-address,
// bsearch-to-match pattern: a build-once, sorted structure that never
// resizes once a transfer starts.
package peertable

import (
	"fmt"
	"net"
	"sort"

	"github.com/ska-sa/skarabflash/internal/netaddr"
	"github.com/ska-sa/skarabflash/internal/wallclock"
)

// SequenceFirst and SequenceStride derive peer i's initial sequence
// number: SequenceFirst + i*SequenceStride.
const (
	SequenceFirst  = 0x10
	SequenceStride = 0x10
)

// Peer is one board's transfer state. Chunk is the priming/streaming/
// done cursor: -1 is the pre-roll priming packet, 0..ChunkCount-1 are
// real chunks, ChunkCount is terminal.
type Peer struct {
	Addr       *net.UDPAddr
	key        uint32
	order      int
	Sequence   uint16
	Chunk      int
	LastSentAt wallclock.Time
	ExpiresAt  wallclock.Time
}

// Done reports whether the peer has reached the terminal state.
func (p *Peer) Done(chunkCount int) bool { return p.Chunk >= chunkCount }

// Table is a sorted, build-once collection of Peers, ordered by
// address for O(log N) lookup from inbound datagrams. The table is
// frozen the moment New returns; nothing in this package mutates the
// slice's length again.
type Table struct {
	peers []*Peer
}

// New resolves every entry in specs, rejects duplicate addresses
// rather than silently aliasing them, and returns the table sorted by
// address.
func New(specs []string, defaultPort int) (*Table, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("peertable: need at least one peer")
	}

	peers := make([]*Peer, 0, len(specs))
	seen := make(map[uint32]string, len(specs))

	for _, spec := range specs {
		addr, err := netaddr.Resolve(spec, defaultPort)
		if err != nil {
			return nil, err
		}
		key, err := netaddr.FormatKey(addr.IP)
		if err != nil {
			return nil, err
		}
		if prior, dup := seen[key]; dup {
			return nil, fmt.Errorf("peertable: duplicate peer address %s (from %q and %q)", addr.IP, prior, spec)
		}
		seen[key] = spec

		peers = append(peers, &Peer{
			Addr:     addr,
			key:      key,
			order:    len(peers),
			Chunk:    -1,
			Sequence: SequenceFirst + uint16(len(peers)*SequenceStride),
		})
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].key < peers[j].key })

	return &Table{peers: peers}, nil
}

// Peers returns the sorted slice for scheduling iteration. Callers
// must not change its length; element state is mutated in place by
// the engine as transfer proceeds.
func (t *Table) Peers() []*Peer { return t.peers }

// PeersByInsertionOrder returns a copy of the peer slice ordered by
// the sequence each address was passed to New, not by address. Used
// by the engine's initial pacing smear, which like Sequence
// assignment must track insertion order rather than post-sort address
// rank.
func (t *Table) PeersByInsertionOrder() []*Peer {
	ordered := make([]*Peer, len(t.peers))
	copy(ordered, t.peers)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })
	return ordered
}

// Len returns the number of peers in the table.
func (t *Table) Len() int { return len(t.peers) }

// Find performs a binary search for the peer whose address matches ip,
// used to correlate an inbound ack with its originating peer.
func (t *Table) Find(ip net.IP) (*Peer, bool) {
	key, err := netaddr.FormatKey(ip)
	if err != nil {
		return nil, false
	}
	i := sort.Search(len(t.peers), func(i int) bool { return t.peers[i].key >= key })
	if i < len(t.peers) && t.peers[i].key == key {
		return t.peers[i], true
	}
	return nil, false
}
