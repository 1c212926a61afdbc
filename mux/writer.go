package mux

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// QueuedWriter serializes concurrent writes onto one byte sink. Post never
// blocks the caller: chunks are queued and a single pump goroutine drains
// them in order, so at most one write is ever outstanding on the sink.
//
// A writer can be constructed before its sink exists (SetSink left unset)
// and started paused, so that posts racing ahead of a pending outbound
// connect are queued rather than faulting; resume is expected once the
// sink becomes available.
type QueuedWriter struct {
	mu      sync.Mutex
	sink    io.WriteCloser
	queue   [][]byte
	paused  bool
	pumping bool
	closed  bool

	// onError is invoked at most once, outside the lock, the first time a
	// write fails for a reason other than a benign shutdown.
	onError func(error)
}

// NewQueuedWriter returns a writer bound to sink, ready to post immediately.
// Pass a nil sink and call SetSink later for a writer that starts paused.
func NewQueuedWriter(sink io.WriteCloser) *QueuedWriter {
	return &QueuedWriter{sink: sink, paused: sink == nil}
}

// OnError registers a callback invoked the first time a write fails with
// something other than a benign shutdown error. Must be called before the
// writer is used from more than one goroutine.
func (w *QueuedWriter) OnError(fn func(error)) {
	w.mu.Lock()
	w.onError = fn
	w.mu.Unlock()
}

// SetSink attaches the backing sink. Callers typically pair this with Resume
// once an asynchronous connect succeeds.
func (w *QueuedWriter) SetSink(sink io.WriteCloser) {
	w.mu.Lock()
	w.sink = sink
	w.mu.Unlock()
}

// Post appends chunk to the FIFO. If the writer is neither paused nor
// already pumping, a pump goroutine is started. Post never blocks.
func (w *QueuedWriter) Post(chunk []byte) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, chunk)
	start := !w.paused && !w.pumping
	if start {
		w.pumping = true
	}
	w.mu.Unlock()

	if start {
		go w.pump()
	}
}

// Pause forbids starting new writes. A write already in flight is not aborted.
func (w *QueuedWriter) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume permits writes again and, if the queue is non-empty, starts the pump.
func (w *QueuedWriter) Resume() {
	w.mu.Lock()
	w.paused = false
	start := !w.pumping && len(w.queue) > 0 && !w.closed
	if start {
		w.pumping = true
	}
	w.mu.Unlock()

	if start {
		go w.pump()
	}
}

// Close closes the underlying sink, if one is attached, before returning; a
// write already in flight is not waited for. Subsequent posts are dropped;
// pending queued chunks are discarded. Close is idempotent.
func (w *QueuedWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.queue = nil
	sink := w.sink
	w.mu.Unlock()

	if sink != nil {
		sink.Close()
	}
}

// pump drains the queue one chunk at a time until it empties, the writer
// pauses, or an error closes it. Only ever one pump goroutine runs per
// writer: Post/Resume only start one while w.pumping is false.
func (w *QueuedWriter) pump() {
	for {
		w.mu.Lock()
		if w.closed || w.paused || len(w.queue) == 0 {
			w.pumping = false
			w.mu.Unlock()
			return
		}
		chunk := w.queue[0]
		w.queue = w.queue[1:]
		sink := w.sink
		w.mu.Unlock()

		if sink == nil {
			// Nothing to write to yet; treat as paused until SetSink+Resume.
			w.mu.Lock()
			w.pumping = false
			w.mu.Unlock()
			return
		}

		if _, err := sink.Write(chunk); err != nil {
			w.handleWriteError(err)
			return
		}
	}
}

func (w *QueuedWriter) handleWriteError(err error) {
	w.Close()
	if !isBenignShutdown(err) {
		if onErr := w.errorHandler(); onErr != nil {
			onErr(errors.Wrap(err, "queued writer: write"))
		}
	}
}

func (w *QueuedWriter) errorHandler() func(error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.onError
}

// isBenignShutdown reports whether err is an expected end-of-stream /
// already-closed condition that should close the channel silently rather
// than being logged at error severity.
func isBenignShutdown(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return isBenignNetError(err)
}
