package mux

import (
	"io"
	"log"
	"net"
)

// RunMultiplexer is the originating side's wiring: it accepts TCP
// connections on ln, allocates a fresh channel id per connection, and
// shuttles each connection's bytes over the framed pipe (peerR/peerW).
// It blocks until reading the framed pipe fails, at which point ln is
// closed and every live channel is closed before it returns; the accept
// loop ending on its own does not make it return.
// onTable, if non-nil, is handed the session's table before the accept loop
// starts, so a caller can wire it into something like a periodic stats log
// without RunMultiplexer needing to know stats exist.
func RunMultiplexer(ln net.Listener, peerR io.Reader, peerW io.WriteCloser, logger *log.Logger, quiet bool, onTable func(*Table)) error {
	table := NewTable()
	if onTable != nil {
		onTable(table)
	}
	peer := NewQueuedWriter(peerW)

	driver := &Driver{R: peerR, Table: table, Logger: logger}

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			ch := table.Alloc(func(id ChannelID) *Channel {
				return newChannel(id, table, peer, conn, logger, quiet)
			})
			if !quiet {
				logf(logger, "channel %d: accepted %s", ch.ID(), conn.RemoteAddr())
			}
			// Started only once ch is already visible in the table, so a
			// fast failure can never race Close against the insertion above.
			ch.StartReadSocket()
		}
	}()

	err := driver.Run()
	ln.Close()
	table.CloseAll()
	peer.Close()
	<-acceptDone
	return err
}

// RunRemote is the responding side's wiring: it reads channel ids off the
// framed pipe (peerR) and, on first sight of one, dials dialAddr on dialNet
// and binds the new channel to that connection; subsequent frames for an
// id already seen are just routed. It blocks until the framed pipe fails,
// at which point every live channel is closed before it returns.
func RunRemote(dialNet, dialAddr string, peerR io.Reader, peerW io.WriteCloser, logger *log.Logger, quiet bool, onTable func(*Table)) error {
	table := NewTable()
	if onTable != nil {
		onTable(table)
	}
	peer := NewQueuedWriter(peerW)

	driver := &Driver{
		R:     peerR,
		Table: table,
		OnMissing: func(id ChannelID) *Channel {
			ch, existed := table.LookupOrCreate(id, func() *Channel {
				return newChannel(id, table, peer, nil, logger, quiet)
			})
			if !existed {
				if !quiet {
					logf(logger, "channel %d: dialing %s", id, dialAddr)
				}
				// Started only once ch is already visible in the table, so a
				// fast connect failure can never race Close against the
				// insertion above.
				ch.Connect(dialNet, dialAddr)
			}
			return ch
		},
		Logger: logger,
	}

	err := driver.Run()
	table.CloseAll()
	peer.Close()
	return err
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
