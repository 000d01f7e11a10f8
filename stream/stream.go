// Package stream implements the abstract bidirectional byte stream
// contract from spec.md §4.E along with the concrete and adapter streams
// layered on it (§4.F–§4J): socket/pipe streams, limited and chunked
// framing adapters, a streaming KMP substring search, read_until/read_block
// helpers, and the multi-producer writer lives in the sibling package
// mpwriter to avoid an import cycle with this package's chunked writer.
package stream

import "time"

// Timeouts bundles the read/write durations and the absolute hard
// expiration described in spec.md §3 "Stream" and §5 "Timeouts". The
// effective per-operation deadline is min(now+duration, Expiration).
type Timeouts struct {
	Read       time.Duration
	Write      time.Duration
	Expiration time.Time // zero means "no hard expiration"
}

func (t Timeouts) readDeadline(now time.Time) time.Time {
	return effectiveDeadline(now, t.Read, t.Expiration)
}

func (t Timeouts) writeDeadline(now time.Time) time.Time {
	return effectiveDeadline(now, t.Write, t.Expiration)
}

func effectiveDeadline(now time.Time, dur time.Duration, expiration time.Time) time.Time {
	var d time.Time
	if dur > 0 {
		d = now.Add(dur)
	}
	if !expiration.IsZero() {
		if d.IsZero() || expiration.Before(d) {
			d = expiration
		}
	}
	return d
}

// Stream is the polymorphic contract of spec.md §4.E, implemented by
// socket/pipe streams and every framing adapter (limited, chunked,
// websocket, length-prefix message, TLS). At most one reader and one
// writer may operate concurrently; they are otherwise independent, so a
// reader goroutine and a writer goroutine need no synchronization between
// themselves.
type Stream interface {
	// Read returns the next chunk of borrowed bytes, valid until the next
	// Read call. An empty, non-error result means either a recoverable
	// timeout (IsReadTimeout() true, retry by calling Read again) or a
	// terminal EOF (IsReadTimeout() false).
	Read() ([]byte, error)
	// ReadNB returns immediately-available buffered bytes without
	// suspending; it never fails and returns an empty slice if nothing is
	// buffered.
	ReadNB() []byte
	// PutBack stashes bytes (not copied) to be returned by the very next
	// Read of the same reader. It overwrites any previous putback and may
	// only be called by the reader between Read calls.
	PutBack(b []byte)
	// IsReadTimeout reports whether the most recent empty Read result was
	// a recoverable timeout rather than a terminal EOF.
	IsReadTimeout() bool

	// Write returns true if progress was made, false if the peer closed
	// or the write timed out terminally (see adapter docs for exact
	// semantics — the base socket stream returns false on EPIPE, on a
	// write timeout, once the reactor has closed the fd, and after
	// WriteEOF).
	Write(p []byte) (bool, error)
	// WriteEOF shuts down the write direction; true if accepted. After
	// WriteEOF, Write always returns false.
	WriteEOF() (bool, error)

	// Shutdown unblocks any pending reads/writes, which then return
	// empty/false rather than raising an error.
	Shutdown() error

	Timeouts() Timeouts
	SetTimeouts(Timeouts)
}
