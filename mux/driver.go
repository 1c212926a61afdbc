package mux

import (
	"io"
	"log"

	"github.com/pkg/errors"
)

// ErrFrameTooLarge is returned by Driver.Run when a received header
// announces a body longer than MaxBodySize: a peer could otherwise announce
// up to 65535 and force a 64 KiB allocation per frame.
var ErrFrameTooLarge = errors.New("mux: frame body exceeds MaxBodySize")

// Driver owns the framed pipe's read half and runs the two-phase read loop:
// read a 4-byte header, then either treat a zero length as a close sentinel
// or read exactly that many body bytes and route them to a channel.
//
// OnMissing is consulted when a non-sentinel frame names an identifier not
// currently in Table. On the originating side this is left nil, so a stray
// frame for a since-closed channel is simply dropped after its body is
// drained (to keep frame alignment); on the responding side it creates a
// channel and dials out lazily, on first sight of the id.
type Driver struct {
	R         io.Reader
	Table     *Table
	OnMissing func(id ChannelID) *Channel
	Logger    *log.Logger
}

// Run blocks reading frames until r returns an error or a header announces
// a body longer than MaxBodySize (ErrFrameTooLarge). End of input, including
// a frame cut short mid-read, is returned as io.EOF, the expected shutdown
// path when the peer or child process exits.
// The caller is responsible for tearing down the side (closing all channels)
// once Run returns.
func (d *Driver) Run() error {
	header := make([]byte, FrameHeaderSize)
	for {
		if _, err := io.ReadFull(d.R, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return io.EOF
			}
			return errors.Wrap(err, "mux: driver: read header")
		}

		id, length := DecodeHeader(header)

		if length == 0 {
			if ch, ok := d.Table.Lookup(id); ok {
				ch.Close()
			}
			continue
		}

		if length > MaxBodySize {
			return ErrFrameTooLarge
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(d.R, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return io.EOF
			}
			return errors.Wrap(err, "mux: driver: read body")
		}

		d.Table.BytesFromPeer.Add(int64(length))

		ch, ok := d.Table.Lookup(id)
		if !ok {
			if d.OnMissing == nil {
				continue
			}
			ch = d.OnMissing(id)
		}
		if ch != nil {
			ch.Post(body)
		}
	}
}
