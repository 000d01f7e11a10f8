// Package ws implements the RFC 6455 WebSocket frame codec (spec.md §4.K)
// and the message-oriented stream layered over it (§4.L), using
// github.com/gorilla/websocket only for its close-code constants and
// close-payload helpers, not its Conn/Upgrader.
package ws

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/gorilla/websocket"

	"coroserver/stream"
)

// Opcode is the RFC 6455 frame opcode.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// MessageType is the logical type surfaced by Stream.Read, after
// continuation opcodes have been folded back into their originating type.
type MessageType int

const (
	Text MessageType = iota
	Binary
	Ping
	Pong
	Close
)

// Message is a decoded WebSocket message (or fragment, if the stream is
// configured to preserve fragmentation).
type Message struct {
	Type      MessageType
	Payload   []byte
	Fin       bool
	CloseCode int
}

// ErrOversizedFrame is returned when a frame's declared or accumulated
// payload exceeds the parser's configured maximum message size.
var ErrOversizedFrame = errors.New("ws: frame exceeds maximum message size")

// ErrInvalidFrame is returned for structurally invalid frame headers (RSV
// bits set, fragmented control frame, bad opcode sequencing).
var ErrInvalidFrame = errors.New("ws: invalid frame")

const (
	DefaultMaxMessageSize = 1 << 20

	// Close codes re-exported from gorilla/websocket's table (spec.md
	// §6 "Close codes standardized").
	CloseNormalClosure           = websocket.CloseNormalClosure
	CloseGoingAway               = websocket.CloseGoingAway
	CloseProtocolError           = websocket.CloseProtocolError
	CloseUnsupportedData         = websocket.CloseUnsupportedData
	CloseNoStatusReceived        = websocket.CloseNoStatusReceived
	CloseAbnormalClosure         = websocket.CloseAbnormalClosure
	CloseInvalidFramePayloadData = websocket.CloseInvalidFramePayloadData
	ClosePolicyViolation         = websocket.ClosePolicyViolation
	CloseMessageTooBig           = websocket.CloseMessageTooBig
	CloseMandatoryExtension      = websocket.CloseMandatoryExtension
	CloseInternalServerErr       = websocket.CloseInternalServerErr
	CloseServiceRestart          = websocket.CloseServiceRestart
	CloseTryAgainLater           = websocket.CloseTryAgainLater
	CloseTLSHandshake            = websocket.CloseTLSHandshake
)

// FormatClosePayload builds a close-frame payload carrying code and text,
// delegating to gorilla/websocket's wire format.
func FormatClosePayload(code int, text string) []byte {
	return websocket.FormatCloseMessage(code, text)
}

// ParseClosePayload extracts the close code and text from a received
// close-frame payload.
func ParseClosePayload(data []byte) (int, string) {
	return websocket.ParseCloseMessage(data)
}

func opcodeToType(op Opcode) MessageType {
	switch op {
	case OpText:
		return Text
	case OpBinary:
		return Binary
	case OpPing:
		return Ping
	case OpPong:
		return Pong
	case OpClose:
		return Close
	default:
		return Binary
	}
}

func typeToOpcode(t MessageType) Opcode {
	switch t {
	case Text:
		return OpText
	case Binary:
		return OpBinary
	case Ping:
		return OpPing
	case Pong:
		return OpPong
	case Close:
		return OpClose
	default:
		return OpBinary
	}
}

func isControl(op Opcode) bool {
	return op == OpClose || op == OpPing || op == OpPong
}

// rawFrame is one wire-level frame before fragment reassembly.
type rawFrame struct {
	fin     bool
	opcode  Opcode
	payload []byte
}

// readRawFrame is the "Parser" of spec.md §4.K: a state machine over the
// frame header (first byte, second byte, extended length, optional mask)
// followed by the payload, reading across underlying fragment boundaries
// via (I)'s read_block. Returns ErrOversizedFrame if the declared length
// exceeds maxSize (0 means unlimited).
func readRawFrame(s stream.Stream, maxSize int) (rawFrame, bool, error) {
	hdr, err := stream.ReadBlock(s, 2)
	if err != nil {
		return rawFrame{}, false, err
	}
	if len(hdr) < 2 {
		return rawFrame{}, false, nil // EOF/timeout: caller checks s.IsReadTimeout()
	}
	fin := hdr[0]&0x80 != 0
	rsv := hdr[0] & 0x70
	opcode := Opcode(hdr[0] & 0x0f)
	if rsv != 0 {
		return rawFrame{}, false, ErrInvalidFrame
	}
	masked := hdr[1]&0x80 != 0
	length := uint64(hdr[1] & 0x7f)

	switch length {
	case 126:
		ext, err := stream.ReadBlock(s, 2)
		if err != nil || len(ext) < 2 {
			return rawFrame{}, false, firstErr(err, ErrInvalidFrame)
		}
		length = uint64(binary.BigEndian.Uint16(ext))
	case 127:
		ext, err := stream.ReadBlock(s, 8)
		if err != nil || len(ext) < 8 {
			return rawFrame{}, false, firstErr(err, ErrInvalidFrame)
		}
		length = binary.BigEndian.Uint64(ext)
	}

	if isControl(opcode) && (length > 125 || !fin) {
		return rawFrame{}, false, ErrInvalidFrame
	}
	if maxSize > 0 && length > uint64(maxSize) {
		return rawFrame{}, false, ErrOversizedFrame
	}

	var maskKey []byte
	if masked {
		var err error
		maskKey, err = stream.ReadBlock(s, 4)
		if err != nil || len(maskKey) < 4 {
			return rawFrame{}, false, firstErr(err, ErrInvalidFrame)
		}
	}

	var payload []byte
	if length > 0 {
		var err error
		payload, err = stream.ReadBlock(s, int(length))
		if err != nil {
			return rawFrame{}, false, err
		}
		if len(payload) < int(length) {
			return rawFrame{}, false, ErrInvalidFrame
		}
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return rawFrame{fin: fin, opcode: opcode, payload: payload}, true, nil
}

func firstErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

// buildFrame is the "Builder" of spec.md §4.K: a pure encode function for
// one wire frame, choosing the 7/16/64-bit length encoding by payload
// size and masking on the fly with a fresh random key for masked==true
// (clients mask, servers don't).
func buildFrame(fin bool, opcode Opcode, payload []byte, masked bool) ([]byte, error) {
	var out []byte
	first := byte(opcode)
	if fin {
		first |= 0x80
	}
	out = append(out, first)

	maskBit := byte(0)
	if masked {
		maskBit = 0x80
	}
	n := len(payload)
	switch {
	case n < 126:
		out = append(out, maskBit|byte(n))
	case n <= 0xffff:
		out = append(out, maskBit|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		out = append(out, ext[:]...)
	default:
		out = append(out, maskBit|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		out = append(out, ext[:]...)
	}

	if !masked {
		return append(out, payload...), nil
	}

	var maskKey [4]byte
	if _, err := rand.Read(maskKey[:]); err != nil {
		return nil, err
	}
	out = append(out, maskKey[:]...)
	maskedPayload := make([]byte, n)
	for i, b := range payload {
		maskedPayload[i] = b ^ maskKey[i%4]
	}
	return append(out, maskedPayload...), nil
}
