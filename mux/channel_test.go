package mux

import (
	"net"
	"sync"
	"testing"
	"time"
)

func TestChannelCloseIsIdempotent(t *testing.T) {
	table := NewTable()
	peer := NewQueuedWriter(&slowSink{})
	ch := newChannel(1, table, peer, nil, nil, true)
	table.channels[1] = ch

	ch.Close()
	ch.Close()
	ch.Close()

	if _, ok := table.Lookup(1); ok {
		t.Fatal("channel should have been removed from the table")
	}
}

// TestChannelSentinelIsLastFrame drives many concurrent deliveries racing
// against a concurrent Close and checks that, whichever wins, the sentinel
// frame for this channel is never followed by a data frame for the same
// channel on the peer writer.
func TestChannelSentinelIsLastFrame(t *testing.T) {
	for i := 0; i < 200; i++ {
		sink := &recordingSink{}
		peer := NewQueuedWriter(sink)
		table := NewTable()
		ch := newChannel(7, table, peer, nil, nil, true)
		table.channels[7] = ch

		done := make(chan struct{})
		go func() {
			for j := 0; j < 20; j++ {
				ch.deliver([]byte{byte(j)})
			}
			close(done)
		}()
		ch.Close()
		<-done

		deadline := time.Now().Add(time.Second)
		for sink.count() < 1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		frames := sink.frames()
		sentinelIdx := -1
		for idx, f := range frames {
			id, length := DecodeHeader(f[:FrameHeaderSize])
			if id != 7 {
				continue
			}
			if length == 0 {
				sentinelIdx = idx
			} else if sentinelIdx != -1 {
				t.Fatalf("iteration %d: data frame at index %d arrived after sentinel at index %d", i, idx, sentinelIdx)
			}
		}
		if sentinelIdx == -1 {
			t.Fatalf("iteration %d: sentinel frame never observed", i)
		}
	}
}

func TestChannelDeliverAfterCloseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	peer := NewQueuedWriter(sink)
	table := NewTable()
	ch := newChannel(3, table, peer, nil, nil, true)
	table.channels[3] = ch

	ch.Close()
	ch.deliver([]byte("too late"))

	deadline := time.Now().Add(500 * time.Millisecond)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	frames := sink.frames()
	for _, f := range frames {
		_, length := DecodeHeader(f[:FrameHeaderSize])
		if length != 0 {
			t.Fatal("no data frame should have been posted after close")
		}
	}
}

func TestChannelConnectSuccessStartsReadLoop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	sink := &recordingSink{}
	peer := NewQueuedWriter(sink)
	table := NewTable()
	ch := newChannel(9, table, peer, nil, nil, true)
	table.channels[9] = ch

	ch.Connect("tcp", ln.Addr().String())

	var serverSide net.Conn
	select {
	case serverSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never reached listener")
	}
	defer serverSide.Close()

	serverSide.Write([]byte("hello"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	frames := sink.frames()
	if len(frames) == 0 {
		t.Fatal("expected at least one frame forwarded from the socket")
	}
	id, length := DecodeHeader(frames[0][:FrameHeaderSize])
	if id != 9 || length != 5 {
		t.Fatalf("got frame id=%d length=%d, want id=9 length=5", id, length)
	}
}

func TestChannelConnectFailureClosesChannel(t *testing.T) {
	peer := NewQueuedWriter(&slowSink{})
	table := NewTable()
	ch := newChannel(11, table, peer, nil, nil, true)
	table.channels[11] = ch

	// Port 1 on loopback has no listener: dial should fail quickly.
	ch.Connect("tcp", "127.0.0.1:1")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := table.Lookup(11); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("channel was never closed after a failed connect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// recordingSink records each Write call as a discrete frame, mirroring how
// the peer writer is always fed whole frames by EncodeHeader/EncodeSentinel.
type recordingSink struct {
	mu  sync.Mutex
	buf [][]byte
}

func (s *recordingSink) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	s.mu.Lock()
	s.buf = append(s.buf, cp)
	s.mu.Unlock()
	return len(p), nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *recordingSink) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.buf...)
}
