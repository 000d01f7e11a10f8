// Package msgstream implements the length-prefix message stream of
// spec.md §4.M: a compact framing where the first byte packs a 2-bit type
// code and a 3-bit "length bytes minus one" field, followed by that many
// big-endian length bytes, followed by the payload.
package msgstream

import (
	"encoding/binary"
	"errors"

	"coroserver/mpwriter"
	"coroserver/stream"
)

// MessageType is the 2-bit type code of spec.md §4.M.
type MessageType byte

const (
	Ping MessageType = iota
	Pong
	Text
	Binary
)

// Message is one decoded frame.
type Message struct {
	Type    MessageType
	Payload []byte
}

// ErrInvalidFrame is returned for a malformed header or truncated payload.
var ErrInvalidFrame = errors.New("msgstream: invalid frame")

// Stream is the message-oriented stream of spec.md §4.M, layered over an
// underlying byte stream via the multi-producer writer (J) for writes,
// mirroring the WebSocket stream's (L) ping/pong/close handling.
type Stream struct {
	under    stream.Stream
	writer   *mpwriter.Writer
	pingSent bool
	closed   bool
}

// New wraps under.
func New(under stream.Stream) *Stream {
	return &Stream{under: under, writer: mpwriter.New(under)}
}

// Read decodes the next message. On the underlying stream's first
// consecutive read timeout it sends a Ping and retries; on a second
// consecutive timeout it surfaces io.EOF-shaped closure by returning a
// zero Message and reporting the stream closed via Closed().
func (s *Stream) Read() (Message, error) {
	if s.closed {
		return Message{}, nil
	}
	hdr, err := stream.ReadBlock(s.under, 1)
	if err != nil {
		return Message{}, err
	}
	if len(hdr) == 0 {
		if s.under.IsReadTimeout() {
			return s.handleTimeout()
		}
		s.closed = true
		return Message{}, nil
	}
	s.pingSent = false

	typeCode := MessageType((hdr[0] >> 6) & 0x03)
	lenBytes := int(hdr[0]&0x07) + 1

	lenBuf, err := stream.ReadBlock(s.under, lenBytes)
	if err != nil {
		return Message{}, err
	}
	if len(lenBuf) < lenBytes {
		return Message{}, ErrInvalidFrame
	}
	length := decodeLength(lenBuf)

	var payload []byte
	if length > 0 {
		payload, err = stream.ReadBlock(s.under, int(length))
		if err != nil {
			return Message{}, err
		}
		if uint64(len(payload)) < length {
			return Message{}, ErrInvalidFrame
		}
	}

	switch typeCode {
	case Ping:
		s.writer.Write(encodeFrame(Pong, payload))
		return Message{Type: Ping, Payload: payload}, nil
	default:
		return Message{Type: typeCode, Payload: payload}, nil
	}
}

// Closed reports whether Read has observed a terminal close (EOF or two
// consecutive timeouts).
func (s *Stream) Closed() bool { return s.closed }

func (s *Stream) handleTimeout() (Message, error) {
	if s.pingSent {
		s.closed = true
		return Message{}, nil
	}
	s.pingSent = true
	s.writer.Write(encodeFrame(Ping, nil))
	return s.Read()
}

// Write encodes and sends one message.
func (s *Stream) Write(t MessageType, payload []byte) (bool, error) {
	return s.writer.Write(encodeFrame(t, payload))
}

// WriteEOF shuts down the writer.
func (s *Stream) WriteEOF() (bool, error) {
	return s.writer.WriteEOF()
}

// lenBytesFor reports the minimal number of big-endian bytes (1-8) needed
// to encode n.
func lenBytesFor(n int) int {
	for nb := 1; nb <= 8; nb++ {
		if uint64(n) < (uint64(1) << (8 * uint(nb))) {
			return nb
		}
	}
	return 8
}

func encodeFrame(t MessageType, payload []byte) []byte {
	nb := lenBytesFor(len(payload))
	out := make([]byte, 1+nb+len(payload))
	out[0] = byte(t)<<6 | byte(nb-1)
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], uint64(len(payload)))
	copy(out[1:1+nb], full[8-nb:])
	copy(out[1+nb:], payload)
	return out
}

func decodeLength(b []byte) uint64 {
	var full [8]byte
	copy(full[8-len(b):], b)
	return binary.BigEndian.Uint64(full[:])
}
