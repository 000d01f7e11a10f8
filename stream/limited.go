package stream

import "errors"

// ShortWriteMode resolves the open question in spec.md §9: the limited
// stream's behavior when write_eof is called before the declared write
// limit has been reached. The spec refuses to guess between padding and
// raising an incomplete-body error, so both are implemented and the
// caller opts in via the WithShortWriteMode option.
type ShortWriteMode int

const (
	// PadShortWrite zero-pads the remainder before closing, matching the
	// literal spec.md wording "pad to length".
	PadShortWrite ShortWriteMode = iota
	// ErrorShortWrite surfaces ErrIncompleteBody instead of padding.
	ErrorShortWrite
)

// ErrIncompleteBody is returned by WriteEOF under ErrorShortWrite mode
// when fewer than the declared limit of bytes were written.
var ErrIncompleteBody = errors.New("stream: write_eof before declared length reached")

// Limited is the length-limited adapter of spec.md §4.G, parameterized by
// independent read and write counters.
type Limited struct {
	under Stream

	readRemaining  int64
	writeRemaining int64
	hasReadLimit   bool
	hasWriteLimit  bool

	shortWriteMode  ShortWriteMode
	writeEOFDone    bool
	closeUnderlying bool
}

// LimitedOption configures a Limited stream at construction.
type LimitedOption func(*Limited)

// WithShortWriteMode selects pad-vs-error behavior for WriteEOF, see
// ShortWriteMode.
func WithShortWriteMode(m ShortWriteMode) LimitedOption {
	return func(l *Limited) { l.shortWriteMode = m }
}

// WithoutUnderlyingCloseOnEOF opts out of spec.md §4.G's default WriteEOF
// behavior of closing the underlying stream's write direction once the
// declared limit is satisfied. Callers that multiplex several Limited
// bodies over one long-lived connection — e.g. HTTP/1.1 keep-alive, where
// the Content-Length framing itself marks the body's end and the
// connection is reused for the next request/response — construct with
// this option so one body's WriteEOF doesn't shut down the shared
// connection's write half out from under the next one.
func WithoutUnderlyingCloseOnEOF() LimitedOption {
	return func(l *Limited) { l.closeUnderlying = false }
}

// NewLimited wraps under with a read limit and/or a write limit; a
// negative limit means "unlimited" for that direction.
func NewLimited(under Stream, readLimit, writeLimit int64, opts ...LimitedOption) *Limited {
	l := &Limited{under: under, closeUnderlying: true}
	if readLimit >= 0 {
		l.hasReadLimit = true
		l.readRemaining = readLimit
	}
	if writeLimit >= 0 {
		l.hasWriteLimit = true
		l.writeRemaining = writeLimit
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limited) Timeouts() Timeouts        { return l.under.Timeouts() }
func (l *Limited) SetTimeouts(t Timeouts)    { l.under.SetTimeouts(t) }
func (l *Limited) IsReadTimeout() bool       { return l.under.IsReadTimeout() }
func (l *Limited) Shutdown() error           { return l.under.Shutdown() }
func (l *Limited) PutBack(b []byte)          { l.under.PutBack(b); l.readRemaining += int64(len(b)) }

// Remaining reports the number of unread bytes still permitted.
func (l *Limited) Remaining() int64 { return l.readRemaining }

func (l *Limited) clip(b []byte) []byte {
	if !l.hasReadLimit {
		return b
	}
	if int64(len(b)) > l.readRemaining {
		extra := b[l.readRemaining:]
		b = b[:l.readRemaining]
		if len(extra) > 0 {
			l.under.PutBack(extra)
		}
	}
	l.readRemaining -= int64(len(b))
	return b
}

func (l *Limited) Read() ([]byte, error) {
	if l.hasReadLimit && l.readRemaining <= 0 {
		return nil, nil // EOF, not timeout
	}
	b, err := l.under.Read()
	if err != nil || len(b) == 0 {
		return b, err
	}
	return l.clip(b), nil
}

func (l *Limited) ReadNB() []byte {
	if l.hasReadLimit && l.readRemaining <= 0 {
		return nil
	}
	return l.clip(l.under.ReadNB())
}

func (l *Limited) Write(p []byte) (bool, error) {
	if l.writeEOFDone {
		return false, nil
	}
	if len(p) == 0 {
		return true, nil
	}
	if l.hasWriteLimit {
		if int64(len(p)) > l.writeRemaining {
			return false, nil
		}
	}
	ok, err := l.under.Write(p)
	if ok && l.hasWriteLimit {
		l.writeRemaining -= int64(len(p))
	}
	return ok, err
}

// WriteEOF implements the open-question behavior of spec.md §9: under
// PadShortWrite it zero-pads to the declared write limit before closing
// the underlying stream's write direction; under ErrorShortWrite it
// surfaces ErrIncompleteBody instead. Per spec.md §4.G, once the limit is
// satisfied it closes the underlying stream's write direction, unless
// constructed with WithoutUnderlyingCloseOnEOF.
func (l *Limited) WriteEOF() (bool, error) {
	if l.writeEOFDone {
		return false, nil
	}
	l.writeEOFDone = true
	if l.hasWriteLimit && l.writeRemaining > 0 {
		if l.shortWriteMode == ErrorShortWrite {
			return false, ErrIncompleteBody
		}
		pad := make([]byte, l.writeRemaining)
		if ok, err := l.under.Write(pad); !ok || err != nil {
			return ok, err
		}
		l.writeRemaining = 0
	}
	if l.closeUnderlying {
		return l.under.WriteEOF()
	}
	return true, nil
}
