package mux

import (
	"errors"
	"net"
	"strings"
)

// isBenignNetError reports whether err is the kind of network error produced
// by reading or writing a socket that the local side (or its peer) already
// closed cleanly. These are expected shutdown paths, not failures worth
// logging at error severity.
func isBenignNetError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	// net.OpError wraps a syscall error whose message varies by platform;
	// matching on text is unfortunately how the standard library itself
	// recommends detecting "use of closed network connection" pre-Go 1.16
	// callers, kept here for portability across the error shapes a custom
	// net.Conn might return.
	if strings.Contains(err.Error(), "use of closed network connection") {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err != nil && strings.Contains(opErr.Err.Error(), "closed")
	}
	return false
}
