package ws

import (
	"sync"

	"coroserver/mpwriter"
	"coroserver/stream"
)

// FragmentMode selects whether Stream.Read surfaces each WebSocket frame
// as it arrives or reassembles a full logical message before returning,
// per spec.md §4.K "need_fragmented".
type FragmentMode int

const (
	// MergeFragments reassembles a complete message before Read returns
	// (need_fragmented == false).
	MergeFragments FragmentMode = iota
	// PreserveFragments surfaces every frame individually with Fin set
	// on the terminal one.
	PreserveFragments
)

// Role selects client-side masking (masked frames) vs server-side
// (unmasked), per RFC 6455.
type Role int

const (
	Server Role = iota
	Client
)

// Option configures a Stream at construction.
type Option func(*Stream)

// WithFragmentMode overrides the default MergeFragments behavior.
func WithFragmentMode(m FragmentMode) Option {
	return func(s *Stream) { s.fragMode = m }
}

// WithMaxMessageSize overrides DefaultMaxMessageSize.
func WithMaxMessageSize(n int) Option {
	return func(s *Stream) { s.maxSize = n }
}

// Stream is the WebSocket message-oriented stream of spec.md §4.L,
// layered over an underlying stream.Stream via the frame codec (K) for
// reads and the multi-producer writer (J) for writes.
type Stream struct {
	under    stream.Stream
	role     Role
	fragMode FragmentMode
	maxSize  int

	writer *mpwriter.Writer

	mu          sync.Mutex
	pingSent    bool // first consecutive read-timeout already provoked a Ping
	readClosed  bool
	writeClosed bool
}

// New wraps under. role determines whether outbound frames are masked
// (Client) or not (Server).
func New(under stream.Stream, role Role, opts ...Option) *Stream {
	s := &Stream{
		under:   under,
		role:    role,
		maxSize: DefaultMaxMessageSize,
		writer:  mpwriter.New(under),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the next complete message (or fragment, under
// PreserveFragments), auto-handling ping/pong/close per spec.md §4.L:
//
//   - On underlying timeout, the first occurrence sends a Ping and retries;
//     a second consecutive timeout surfaces a synthetic abnormal Close.
//   - A received Ping is answered with a Pong carrying the same payload,
//     and the Ping is then surfaced to the caller.
//   - A received Close is answered with Close(normal), the reader is
//     marked closed, and the Close is surfaced to the caller.
func (s *Stream) Read() (Message, error) {
	s.mu.Lock()
	closed := s.readClosed
	s.mu.Unlock()
	if closed {
		return Message{Type: Close, CloseCode: CloseNoStatusReceived}, nil
	}

	var assembled []byte
	var assembledType MessageType
	haveAssembled := false

	for {
		frame, ok, err := readRawFrame(s.under, s.maxSize)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			if s.under.IsReadTimeout() {
				return s.handleTimeout()
			}
			return Message{}, nil // terminal EOF
		}
		s.mu.Lock()
		s.pingSent = false
		s.mu.Unlock()

		switch frame.opcode {
		case OpPing:
			s.writer.Write(mustBuildFrame(true, OpPong, frame.payload, s.role == Client))
			return Message{Type: Ping, Payload: frame.payload, Fin: true}, nil
		case OpPong:
			return Message{Type: Pong, Payload: frame.payload, Fin: true}, nil
		case OpClose:
			code, _ := ParseClosePayload(frame.payload)
			s.mu.Lock()
			s.readClosed = true
			s.mu.Unlock()
			s.writer.Write(mustBuildFrame(true, OpClose, FormatClosePayload(CloseNormalClosure, ""), s.role == Client))
			return Message{Type: Close, Payload: frame.payload, Fin: true, CloseCode: code}, nil
		case OpText, OpBinary:
			mt := opcodeToType(frame.opcode)
			if s.fragMode == PreserveFragments {
				return Message{Type: mt, Payload: frame.payload, Fin: frame.fin}, nil
			}
			if frame.fin {
				if haveAssembled {
					return Message{}, ErrInvalidFrame
				}
				return Message{Type: mt, Payload: frame.payload, Fin: true}, nil
			}
			assembled = append(assembled, frame.payload...)
			assembledType = mt
			haveAssembled = true
		case OpContinuation:
			if !haveAssembled && s.fragMode == MergeFragments {
				return Message{}, ErrInvalidFrame
			}
			if s.fragMode == PreserveFragments {
				return Message{Type: assembledType, Payload: frame.payload, Fin: frame.fin}, nil
			}
			assembled = append(assembled, frame.payload...)
			if frame.fin {
				return Message{Type: assembledType, Payload: assembled, Fin: true}, nil
			}
		default:
			return Message{}, ErrInvalidFrame
		}
	}
}

func (s *Stream) handleTimeout() (Message, error) {
	s.mu.Lock()
	already := s.pingSent
	s.pingSent = true
	s.mu.Unlock()

	if already {
		s.mu.Lock()
		s.readClosed = true
		s.mu.Unlock()
		return Message{Type: Close, CloseCode: CloseAbnormalClosure}, nil
	}
	s.writer.Write(mustBuildFrame(true, OpPing, nil, s.role == Client))
	return s.Read()
}

// Write sends a complete, unfragmented message. Writing a Close message
// transitions the stream to closing; subsequent writes return false.
func (s *Stream) Write(t MessageType, payload []byte) (bool, error) {
	s.mu.Lock()
	if s.writeClosed {
		s.mu.Unlock()
		return false, nil
	}
	if t == Close {
		s.writeClosed = true
	}
	s.mu.Unlock()

	frame, err := buildFrame(true, typeToOpcode(t), payload, s.role == Client)
	if err != nil {
		return false, err
	}
	return s.writer.Write(frame)
}

// WriteEOF synthesizes a Close frame via (J)'s EOF path and shuts down the
// underlying writer.
func (s *Stream) WriteEOF() (bool, error) {
	s.mu.Lock()
	already := s.writeClosed
	s.writeClosed = true
	s.mu.Unlock()
	if already {
		return false, nil
	}
	frame, err := buildFrame(true, OpClose, FormatClosePayload(CloseNormalClosure, ""), s.role == Client)
	if err != nil {
		return false, err
	}
	if ok, err := s.writer.Write(frame); !ok || err != nil {
		return ok, err
	}
	return s.writer.WriteEOF()
}

func mustBuildFrame(fin bool, op Opcode, payload []byte, masked bool) []byte {
	f, err := buildFrame(fin, op, payload, masked)
	if err != nil {
		return nil
	}
	return f
}
