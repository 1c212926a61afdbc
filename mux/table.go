package mux

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Table maps channel identifiers to channels. It is the sole owner of the
// map: allocation (originating side, random probing) and lookup/eviction
// (both sides) all happen under its mutex, so keys are unique by
// construction and an allocated id is never handed out twice while live.
//
// BytesToPeer and BytesFromPeer are cumulative counters fed by the channels
// and driver that use this table; they exist purely for the periodic stats
// log and carry no correctness meaning.
type Table struct {
	mu       sync.Mutex
	channels map[ChannelID]*Channel
	rng      *rand.Rand

	BytesToPeer   atomic.Int64
	BytesFromPeer atomic.Int64
}

// NewTable returns an empty table with a process-seeded random source used
// for identifier allocation.
func NewTable() *Table {
	return &Table{
		channels: make(map[ChannelID]*Channel),
		rng:      rand.New(rand.NewPCG(seedUint64(), seedUint64())),
	}
}

// NewTableWithRand returns an empty table using rng for identifier
// allocation; tests use this to inject a deterministic or colliding source.
func NewTableWithRand(rng *rand.Rand) *Table {
	return &Table{channels: make(map[ChannelID]*Channel), rng: rng}
}

func seedUint64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable for process startup
		// entropy; fall back to a fixed seed rather than panic, since this
		// only affects the allocation draw and not correctness.
		return 0x9e3779b97f4a7c15
	}
	return binary.BigEndian.Uint64(b[:])
}

// Alloc draws a uniformly random identifier, probing the table and redrawing
// on collision, constructs a channel via build, and inserts it. The table
// lock is held for the entire draw-and-insert so no two callers can ever
// observe the same free id.
func (t *Table) Alloc(build func(id ChannelID) *Channel) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		id := ChannelID(t.rng.IntN(1 << 16))
		if _, exists := t.channels[id]; exists {
			continue
		}
		ch := build(id)
		t.channels[id] = ch
		return ch
	}
}

// LookupOrCreate returns the channel bound to id, creating one via build if
// none exists yet (the responding side's lazy-connect path). The second
// return reports whether the channel already existed.
func (t *Table) LookupOrCreate(id ChannelID, build func() *Channel) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.channels[id]; ok {
		return ch, true
	}
	ch := build()
	t.channels[id] = ch
	return ch, false
}

// Lookup returns the channel bound to id, if any.
func (t *Table) Lookup(id ChannelID) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[id]
	return ch, ok
}

// Len reports the number of live channels, for observability.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels)
}

// BytesToPeerValue reports the cumulative bytes framed and posted to the
// peer writer across every channel this table has ever held.
func (t *Table) BytesToPeerValue() int64 { return t.BytesToPeer.Load() }

// BytesFromPeerValue reports the cumulative body bytes the driver has read
// off the framed pipe for this table's channels.
func (t *Table) BytesFromPeerValue() int64 { return t.BytesFromPeer.Load() }

// remove evicts id from the table. Called exactly once, from Channel.Close.
func (t *Table) remove(id ChannelID) {
	t.mu.Lock()
	delete(t.channels, id)
	t.mu.Unlock()
}

// CloseAll closes every currently live channel, e.g. once the framed pipe
// itself has failed and the whole side is tearing down. It snapshots the
// map first since Channel.Close mutates it via remove.
func (t *Table) CloseAll() {
	t.mu.Lock()
	snapshot := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		snapshot = append(snapshot, ch)
	}
	t.mu.Unlock()

	for _, ch := range snapshot {
		ch.Close()
	}
}
