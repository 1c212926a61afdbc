package mux

import (
	"log"
	"net"
	"sync"
)

// State is a channel's position in its lifecycle.
type State int

const (
	// StateFresh is the responding-side-only state before connect() completes.
	StateFresh State = iota
	// StateConnected means the local socket is live but the read loop has not
	// started yet (set immediately before starting it).
	StateConnected
	// StateReading means the read loop is pumping local socket bytes to the peer.
	StateReading
	// StateClosed is terminal.
	StateClosed
)

// Channel is the state of a single multiplexed TCP stream: its identifier,
// its socket, its queued writer (for peer bytes arriving for this stream),
// and its lifecycle flags.
//
// A Channel is owned by exactly one Table entry; goroutines reading its
// socket or driving its connect hold a temporary reference that outlives
// their own completion but never outlives Close, which is the single
// idempotent teardown path everything funnels through.
type Channel struct {
	id     ChannelID
	table  *Table
	peer   *QueuedWriter // shared per-side framed-pipe writer
	writer *QueuedWriter // writer to this channel's own local socket
	logger *log.Logger
	quiet  bool

	mu     sync.Mutex
	conn   net.Conn
	state  State
	closed bool
}

// newChannel constructs a channel bound to id. conn may be nil for a
// responding-side channel that has not connected yet; the caller is
// responsible for calling Connect or StartReadSocket appropriately.
func newChannel(id ChannelID, table *Table, peer *QueuedWriter, conn net.Conn, logger *log.Logger, quiet bool) *Channel {
	c := &Channel{
		id:     id,
		table:  table,
		peer:   peer,
		logger: logger,
		quiet:  quiet,
		conn:   conn,
	}
	if conn != nil {
		c.writer = NewQueuedWriter(conn)
		c.state = StateConnected
	} else {
		c.writer = NewQueuedWriter(nil)
		c.state = StateFresh
	}
	c.writer.OnError(func(err error) {
		c.logf("channel %d: socket write error: %v", c.id, err)
		c.Close()
	})
	return c
}

// ID returns the channel's identifier.
func (c *Channel) ID() ChannelID { return c.id }

// Post forwards chunk to the channel's own queued writer, i.e. delivers
// bytes that arrived from the peer to this channel's local TCP socket.
func (c *Channel) Post(chunk []byte) {
	c.writer.Post(chunk)
}

// Connect begins an asynchronous connect to addr (responding side only). On
// success the read loop starts and the queued writer resumes draining
// whatever posts raced ahead of the connect. On failure the channel closes.
func (c *Channel) Connect(network, addr string) {
	go func() {
		conn, err := net.Dial(network, addr)
		if err != nil {
			c.logf("channel %d: connect %s failed: %v", c.id, addr, err)
			c.Close()
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()

		c.writer.SetSink(conn)
		c.StartReadSocket()
		c.writer.Resume()
	}()
}

// StartReadSocket begins a read loop on the local TCP socket. Each completed
// read (up to MaxBodySize bytes) is framed with this channel's identifier
// and posted to the peer writer. On success the read is re-issued; any
// error closes the channel.
func (c *Channel) StartReadSocket() {
	c.mu.Lock()
	conn := c.conn
	c.state = StateReading
	c.mu.Unlock()

	if conn == nil {
		return
	}

	go func() {
		for {
			buf := make([]byte, MaxBodySize)
			n, err := conn.Read(buf)
			if n > 0 {
				c.deliver(buf[:n])
			}
			if err != nil {
				if !isBenignNetError(err) {
					c.logf("channel %d: read error: %v", c.id, err)
				}
				c.Close()
				return
			}
		}
	}()
}

// deliver frames body with this channel's id and posts it to the peer
// writer, unless the channel has already begun closing. The enqueue onto the
// peer writer happens while still holding c.mu, the same mutex Close holds
// around its own sentinel enqueue: QueuedWriter.Post only appends to a FIFO
// under its own lock and never blocks on I/O, so holding c.mu across the
// call keeps the enqueue order identical to whichever of deliver/Close wins
// the race to c.mu first. That is what guarantees the sentinel frame is the
// last frame this channel ever contributes to the peer writer (the
// close-sequence invariant) without needing a single global executor thread
// to serialize them.
func (c *Channel) deliver(body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	frame := EncodeHeader(body, c.id, uint16(len(body)))
	c.peer.Post(frame)
	c.table.BytesToPeer.Add(int64(len(body)))
}

// Close is idempotent. The first call emits a zero-length sentinel frame for
// this identifier to the peer writer, closes the local socket, closes the
// channel's own queued writer, and removes the channel from its table.
// Subsequent calls are no-ops.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	conn := c.conn
	c.peer.Post(EncodeSentinel(c.id))
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.writer.Close()
	c.table.remove(c.id)

	if !c.quiet {
		c.logf("channel %d: closed", c.id)
	}
}

func (c *Channel) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
