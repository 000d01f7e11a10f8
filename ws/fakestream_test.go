package ws

import "coroserver/stream"

// fakeStream is a minimal stream.Stream test double: a queue of byte
// fragments to read (optionally punctuated by timeouts), a putback slot,
// and a captured write log — the same shape as the stream package's own
// memStream test double.
type fakeStream struct {
	frags   [][]byte
	pos     int
	putback []byte
	timeout bool

	written    [][]byte
	eofWritten bool
}

// timeoutMarker is a sentinel fragment: when encountered, Read reports a
// recoverable timeout instead of data.
var timeoutMarker = []byte(nil)

func newFakeStream(frags ...[]byte) *fakeStream {
	return &fakeStream{frags: frags}
}

func (f *fakeStream) Read() ([]byte, error) {
	f.timeout = false
	if len(f.putback) > 0 {
		b := f.putback
		f.putback = nil
		return b, nil
	}
	if f.pos >= len(f.frags) {
		return nil, nil
	}
	next := f.frags[f.pos]
	f.pos++
	if next == nil {
		f.timeout = true
		return nil, nil
	}
	return next, nil
}

func (f *fakeStream) ReadNB() []byte {
	if len(f.putback) > 0 {
		b := f.putback
		f.putback = nil
		return b
	}
	return nil
}

func (f *fakeStream) PutBack(b []byte)    { f.putback = b }
func (f *fakeStream) IsReadTimeout() bool { return f.timeout }

func (f *fakeStream) Write(p []byte) (bool, error) {
	f.written = append(f.written, append([]byte(nil), p...))
	return true, nil
}

func (f *fakeStream) WriteEOF() (bool, error) {
	if f.eofWritten {
		return false, nil
	}
	f.eofWritten = true
	return true, nil
}

func (f *fakeStream) Shutdown() error             { return nil }
func (f *fakeStream) Timeouts() stream.Timeouts   { return stream.Timeouts{} }
func (f *fakeStream) SetTimeouts(stream.Timeouts) {}

func (f *fakeStream) allWritten() []byte {
	var out []byte
	for _, w := range f.written {
		out = append(out, w...)
	}
	return out
}
