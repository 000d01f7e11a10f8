package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"coroserver/aio"
	"coroserver/reactor"
)

// minReadBuf is the smallest buffer SocketStream ever allocates, chosen to
// match the teacher's (badu-http conn_reader.go) starting bufio size.
const minReadBuf = 4096

// SocketStream is the concrete stream over an *aio.Handle described in
// spec.md §4.F: a growable read buffer whose next capacity is 1.5x the
// last fully-filled size, shrinking back on partial fills.
type SocketStream struct {
	h *aio.Handle

	timeoutsMu sync.Mutex
	timeouts   Timeouts

	// reader state — touched only by the single reader goroutine, except
	// for the fields explicitly guarded below.
	readBuf     []byte
	readLen     int
	readPos     int
	putback     []byte
	lastWasFull bool
	readTimeout bool
	readEOF     bool

	// writer state — touched only by the single writer goroutine.
	writeEOFSent bool
	writerDone   bool

	readBytes  atomic.Int64
	writeBytes atomic.Int64
}

// NewSocketStream wraps h, ready for immediate use.
func NewSocketStream(h *aio.Handle) *SocketStream {
	return &SocketStream{h: h, readBuf: make([]byte, minReadBuf)}
}

func (s *SocketStream) Timeouts() Timeouts {
	s.timeoutsMu.Lock()
	defer s.timeoutsMu.Unlock()
	return s.timeouts
}

func (s *SocketStream) SetTimeouts(t Timeouts) {
	s.timeoutsMu.Lock()
	s.timeouts = t
	s.timeoutsMu.Unlock()
}

func (s *SocketStream) IsReadTimeout() bool { return s.readTimeout }

// PutBack stashes bytes for the next Read, overwriting any prior putback.
func (s *SocketStream) PutBack(b []byte) {
	s.putback = b
}

// ReadNB returns only already-buffered bytes, never suspending.
func (s *SocketStream) ReadNB() []byte {
	if len(s.putback) > 0 {
		b := s.putback
		s.putback = nil
		return b
	}
	if s.readPos < s.readLen {
		b := s.readBuf[s.readPos:s.readLen]
		s.readPos = s.readLen
		return b
	}
	return nil
}

// Read performs one suspending read, per spec.md §4.F.
func (s *SocketStream) Read() ([]byte, error) {
	s.readTimeout = false
	if len(s.putback) > 0 {
		b := s.putback
		s.putback = nil
		return b, nil
	}
	if s.readEOF {
		return nil, nil
	}
	s.growForNextRead()
	for {
		n, err := unix.Read(s.h.FD(), s.readBuf)
		if err == nil {
			if n == 0 {
				s.readEOF = true
				return nil, nil
			}
			s.readLen = n
			s.readPos = n
			s.lastWasFull = n == len(s.readBuf)
			s.readBytes.Add(int64(n))
			return s.readBuf[:n], nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			deadline := s.Timeouts().readDeadline(time.Now())
			outcome, werr := s.h.Wait(reactor.Read, deadline)
			if werr != nil {
				return nil, werr
			}
			switch outcome {
			case reactor.Timeout:
				s.readTimeout = true
				return nil, nil
			case reactor.Closed:
				s.readEOF = true
				return nil, nil
			default:
				continue
			}
		}
		if err == unix.EINTR {
			continue
		}
		return nil, err
	}
}

func (s *SocketStream) growForNextRead() {
	if s.lastWasFull {
		next := len(s.readBuf) + len(s.readBuf)/2
		s.readBuf = make([]byte, next)
	} else if len(s.readBuf) > minReadBuf && s.readLen < len(s.readBuf)/2 {
		shrink := len(s.readBuf) / 2
		if shrink < minReadBuf {
			shrink = minReadBuf
		}
		s.readBuf = make([]byte, shrink)
	}
}

// Write loops non-blocking send across p until it is fully written, the
// peer closes (EPIPE), or a write times out.
func (s *SocketStream) Write(p []byte) (bool, error) {
	if len(p) == 0 {
		return true, nil
	}
	if s.writeEOFSent || s.writerDone {
		return false, nil
	}
	for len(p) > 0 {
		n, err := unix.Write(s.h.FD(), p)
		if err == nil {
			s.writeBytes.Add(int64(n))
			p = p[n:]
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			deadline := s.Timeouts().writeDeadline(time.Now())
			outcome, werr := s.h.Wait(reactor.Write, deadline)
			if werr != nil {
				return false, werr
			}
			switch outcome {
			case reactor.Timeout, reactor.Closed:
				s.writerDone = true
				return false, nil
			default:
				continue
			}
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EPIPE {
			s.writerDone = true
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WriteEOF shuts down the write half of the underlying fd.
func (s *SocketStream) WriteEOF() (bool, error) {
	if s.writeEOFSent {
		return false, nil
	}
	s.writeEOFSent = true
	if err := unix.Shutdown(s.h.FD(), unix.SHUT_WR); err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown unblocks pending reads/writes via the reactor.
func (s *SocketStream) Shutdown() error {
	return s.h.Shutdown()
}

// Close releases the underlying handle.
func (s *SocketStream) Close() error {
	return s.h.Close()
}

// BytesRead / BytesWritten are the cumulative counters from spec.md §4.F.
func (s *SocketStream) BytesRead() int64    { return s.readBytes.Load() }
func (s *SocketStream) BytesWritten() int64 { return s.writeBytes.Load() }
