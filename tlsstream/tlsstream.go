// Package tlsstream implements the TLS record-layer wrapping described in
// spec.md §6 "TLS" and §9 "Dynamic dispatch": it "drives an inner stream
// asynchronously until handshake completes, encrypts writes, decrypts
// reads", delegating all cryptography to stdlib crypto/tls (spec.md §1
// lists TLS cryptographic primitives as an out-of-scope external
// collaborator; only the record-layer state machine wrapping another
// stream is in scope).
//
// Grounded on the teacher's (badu-http) tport/tls_handshake_timeout_error.go
// (the timeout-error shape kept here) and src/http/transport.go's TLS
// dialing path; since crypto/tls only speaks net.Conn, connAdapter below
// is the minimal net.Conn shim spec.md's "Dynamic dispatch" note calls
// for when wrapping a non-native stream.
package tlsstream

import (
	"crypto/tls"
	"errors"
	"net"
	"time"

	"coroserver/stream"
)

// ErrHandshakeTimeout mirrors the teacher's tport.tlsHandshakeTimeoutError.
var ErrHandshakeTimeout = errors.New("tlsstream: TLS handshake timeout")

// connAdapter exposes a stream.Stream as a net.Conn, the only shape
// crypto/tls's Conn knows how to drive. Reads/writes block within the
// stream's own timeout discipline; SetDeadline et al. translate into
// stream.Timeouts so the reactor's per-op deadlines still apply.
type connAdapter struct {
	s        stream.Stream
	leftover []byte
}

func (c *connAdapter) Read(p []byte) (int, error) {
	if len(c.leftover) == 0 {
		b, err := c.s.Read()
		if err != nil {
			return 0, err
		}
		if len(b) == 0 {
			if c.s.IsReadTimeout() {
				return 0, errTimeout{}
			}
			return 0, errEOF{}
		}
		c.leftover = b
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

func (c *connAdapter) Write(p []byte) (int, error) {
	ok, err := c.s.Write(p)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errEOF{}
	}
	return len(p), nil
}

func (c *connAdapter) Close() error { return c.s.Shutdown() }

// CloseWrite satisfies crypto/tls's closeWriter interface, letting
// (*tls.Conn).CloseWrite shut down only the write half, as spec.md §4.E's
// WriteEOF requires.
func (c *connAdapter) CloseWrite() error {
	_, err := c.s.WriteEOF()
	return err
}
func (c *connAdapter) LocalAddr() net.Addr                { return nil }
func (c *connAdapter) RemoteAddr() net.Addr               { return nil }
func (c *connAdapter) SetDeadline(t time.Time) error      { return c.setTimeouts(t, t) }
func (c *connAdapter) SetReadDeadline(t time.Time) error  { return c.setTimeouts(t, time.Time{}) }
func (c *connAdapter) SetWriteDeadline(t time.Time) error { return c.setTimeouts(time.Time{}, t) }

func (c *connAdapter) setTimeouts(read, write time.Time) error {
	to := c.s.Timeouts()
	if !read.IsZero() {
		to.Expiration = read
	}
	if !write.IsZero() {
		to.Expiration = write
	}
	c.s.SetTimeouts(to)
	return nil
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "tlsstream: read timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

type errEOF struct{}

func (errEOF) Error() string { return "tlsstream: peer closed" }

// Stream wraps an inner stream.Stream with a *tls.Conn, satisfying
// stream.Stream itself so TLS composes transparently with every other
// adapter in package stream.
type Stream struct {
	conn            *tls.Conn
	buf             []byte
	lastReadTimeout bool
}

// Client performs (lazily, on first Read/Write) a TLS client handshake
// over under.
func Client(under stream.Stream, cfg *tls.Config) *Stream {
	return &Stream{conn: tls.Client(&connAdapter{s: under}, cfg)}
}

// Server performs (lazily) a TLS server handshake over under.
func Server(under stream.Stream, cfg *tls.Config) *Stream {
	return &Stream{conn: tls.Server(&connAdapter{s: under}, cfg)}
}

// Handshake drives the handshake to completion (or failure) synchronously;
// callers may also let Read/Write trigger it implicitly, per crypto/tls's
// own contract.
func (s *Stream) Handshake() error { return s.conn.Handshake() }

var _ stream.Stream = (*Stream)(nil)

func (s *Stream) Read() ([]byte, error) {
	if len(s.buf) > 0 {
		b := s.buf
		s.buf = nil
		return b, nil
	}
	buf := make([]byte, 32*1024)
	n, err := s.conn.Read(buf)
	if err != nil {
		if errors.As(err, new(errTimeout)) {
			s.lastReadTimeout = true
			return nil, nil
		}
		s.lastReadTimeout = false
		if errors.As(err, new(errEOF)) || err.Error() == "EOF" {
			return nil, nil
		}
		return nil, err
	}
	s.lastReadTimeout = false
	return buf[:n], nil
}

func (s *Stream) ReadNB() []byte { return nil }

func (s *Stream) PutBack(b []byte) { s.buf = b }

func (s *Stream) IsReadTimeout() bool { return s.lastReadTimeout }

func (s *Stream) Write(p []byte) (bool, error) {
	n, err := s.conn.Write(p)
	if err != nil {
		if errors.As(err, new(errEOF)) {
			return false, nil
		}
		return false, err
	}
	return n == len(p), nil
}

func (s *Stream) WriteEOF() (bool, error) {
	return true, s.conn.CloseWrite()
}

func (s *Stream) Shutdown() error { return s.conn.Close() }

func (s *Stream) Timeouts() stream.Timeouts { return stream.Timeouts{} }

func (s *Stream) SetTimeouts(stream.Timeouts) {}
