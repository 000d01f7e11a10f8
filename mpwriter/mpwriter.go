// Package mpwriter implements the multi-producer writer of spec.md §4.J:
// many goroutines may call Write concurrently; exactly one underlying
// write is ever in flight, writes preserve append order, and
// WaitForFlush/WaitForIdle give producers a way to observe backpressure
// without blocking on the write itself.
package mpwriter

import (
	"sync"

	"coroserver/stream"
)

// Writer serializes writes onto one underlying stream.Stream half-duplex
// send direction.
type Writer struct {
	under stream.Stream

	mu        sync.Mutex
	prepared  []byte
	inFlight  bool
	closed    bool // terminal: an underlying write failed
	rejectNew bool // Close() was called: no new writes accepted
	eofQueued bool
	lastErr   error

	flushWaiters []chan struct{}
	idleWaiters  []chan struct{}
}

// New wraps under; under must not be written to by any other caller.
func New(under stream.Stream) *Writer {
	return &Writer{under: under}
}

// Write appends p to the prepared buffer and, if no write is currently in
// flight, launches one. It returns false if the writer is closed (either
// by Close or by a prior underlying write error, retrievable via Err).
func (w *Writer) Write(p []byte) (bool, error) {
	w.mu.Lock()
	if w.closed || w.rejectNew {
		err := w.lastErr
		w.mu.Unlock()
		return false, err
	}
	w.prepared = append(w.prepared, p...)
	w.launchLocked()
	w.mu.Unlock()
	return true, nil
}

// WriteEOF queues an EOF to be sent once all currently-prepared and
// currently-in-flight bytes have been written. Idempotent.
func (w *Writer) WriteEOF() (bool, error) {
	w.mu.Lock()
	if w.closed || w.eofQueued {
		err := w.lastErr
		w.mu.Unlock()
		return false, err
	}
	w.eofQueued = true
	w.launchLocked()
	w.mu.Unlock()
	return true, nil
}

// Close marks the writer closing: no further Write calls are accepted, but
// data already buffered or in flight still drains normally.
func (w *Writer) Close() {
	w.mu.Lock()
	w.rejectNew = true
	w.mu.Unlock()
}

// Err returns the error (if any) that closed the writer.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// launchLocked must be called with w.mu held. If no write is in flight and
// there is work to do, it swaps prepared into the in-flight slot and
// starts the pump goroutine.
func (w *Writer) launchLocked() {
	if w.inFlight || w.closed {
		return
	}
	if len(w.prepared) == 0 && !w.eofQueued {
		return
	}
	pending := w.prepared
	w.prepared = nil
	eofNow := false
	if len(pending) == 0 && w.eofQueued {
		eofNow = true
		w.eofQueued = false
	}
	w.inFlight = true
	flushWaiters := w.flushWaiters
	w.flushWaiters = nil
	go w.pump(pending, eofNow, flushWaiters)
}

func (w *Writer) pump(data []byte, eof bool, flushWaiters []chan struct{}) {
	var ok = true
	var err error
	if len(data) > 0 {
		ok, err = w.under.Write(data)
	}
	for _, ch := range flushWaiters {
		close(ch)
	}
	if err == nil && ok && eof {
		ok, err = w.under.WriteEOF()
	}

	w.mu.Lock()
	w.inFlight = false
	if err != nil || !ok {
		w.closed = true
		if w.lastErr == nil {
			w.lastErr = err
		}
	} else {
		w.launchLocked()
	}
	var idleWaiters []chan struct{}
	if !w.inFlight && len(w.prepared) == 0 && !w.eofQueued {
		idleWaiters = w.idleWaiters
		w.idleWaiters = nil
	}
	w.mu.Unlock()
	for _, ch := range idleWaiters {
		close(ch)
	}
}

// WaitForFlush returns a channel closed once the bytes currently sitting
// in the prepared buffer (at the time of this call) have entered the
// underlying write — not necessarily completed.
func (w *Writer) WaitForFlush() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.prepared) == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	w.flushWaiters = append(w.flushWaiters, ch)
	return ch
}

// WaitForIdle returns a channel closed once all buffers are drained and no
// write is in flight.
func (w *Writer) WaitForIdle() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inFlight && len(w.prepared) == 0 && !w.eofQueued {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	w.idleWaiters = append(w.idleWaiters, ch)
	return ch
}
