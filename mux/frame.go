package mux

import "encoding/binary"

// ChannelID identifies one multiplexed TCP stream.
type ChannelID uint16

const (
	// FrameHeaderSize is the fixed 4-byte header: 2 bytes channel id, 2 bytes length.
	FrameHeaderSize = 4

	// MaxBodySize is the largest body a frame may carry: a conventional 4096-byte
	// transfer unit minus the 4-byte header.
	MaxBodySize = 4096 - FrameHeaderSize
)

// EncodeHeader prepends a 4-byte big-endian header to body and returns the
// resulting frame. length must equal len(body), except for the sentinel case
// where body is empty and length is 0.
func EncodeHeader(body []byte, channel ChannelID, length uint16) []byte {
	frame := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(channel))
	binary.BigEndian.PutUint16(frame[2:4], length)
	copy(frame[FrameHeaderSize:], body)
	return frame
}

// EncodeSentinel returns the 4-byte close-channel frame for id: length zero, no body.
func EncodeSentinel(channel ChannelID) []byte {
	return EncodeHeader(nil, channel, 0)
}

// DecodeHeader reads a 4-byte header previously produced by EncodeHeader.
// Callers must pass exactly FrameHeaderSize bytes; decode is pure and
// non-failing, since the caller only ever hands it a fixed-size read result.
func DecodeHeader(header []byte) (channel ChannelID, length uint16) {
	channel = ChannelID(binary.BigEndian.Uint16(header[0:2]))
	length = binary.BigEndian.Uint16(header[2:4])
	return
}
