// Package aio implements the async I/O handle from spec.md §4.C: a
// move-only (by convention — Go has no move semantics, so this is enforced
// by discipline: a Handle must not be used from two goroutines as if it
// were two handles) wrapper around a file descriptor and a shared
// *reactor.Reactor reference.
package aio

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"coroserver/reactor"
)

// Handle owns fd and exposes timed wait(op) built on the reactor.
type Handle struct {
	re *reactor.Reactor

	mu     sync.Mutex
	fd     int
	closed bool
}

// Own constructs an owning Handle: dropping it (Close) closes fd.
func Own(re *reactor.Reactor, fd int) *Handle {
	return &Handle{re: re, fd: fd}
}

// View wraps an already-owned fd (e.g. one just returned by accept(2))
// with the same reactor, per spec.md §4.C's two construction idioms. It
// behaves identically to Own: the returned Handle still owns fd and closes
// it, the distinction is purely about call-site provenance.
func View(re *reactor.Reactor, fd int) *Handle {
	return Own(re, fd)
}

// FD returns the underlying descriptor. Valid until Close.
func (h *Handle) FD() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fd
}

// Wait delegates to the reactor for (fd, op) with the given absolute
// deadline, which may be the zero Time for "no deadline".
func (h *Handle) Wait(op reactor.Op, deadline time.Time) (reactor.Outcome, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return reactor.Closed, nil
	}
	fd := h.fd
	h.mu.Unlock()
	return h.re.Wait(fd, op, deadline)
}

// Shutdown calls mark_closing on all of this handle's fd slots, unblocking
// any pending reads/writes with Closed, without closing the fd itself.
func (h *Handle) Shutdown() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	fd := h.fd
	h.mu.Unlock()
	return h.re.MarkClosing(fd)
}

// Close detaches fd from the reactor and closes it via the OS. Idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	fd := h.fd
	h.closed = true
	h.mu.Unlock()

	if err := h.re.MarkClosing(fd); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("aio: close fd=%d: %w", fd, err)
	}
	return unix.Close(fd)
}
