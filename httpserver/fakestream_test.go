package httpserver

import "coroserver/stream"

// fakeStream is the same minimal stream.Stream test double used across
// this module's packages (see ws/fakestream_test.go), reading from a
// single preloaded byte buffer and capturing every Write call.
type fakeStream struct {
	data    []byte
	pos     int
	putback []byte

	written    [][]byte
	eofWritten bool
}

func newFakeStream(data string) *fakeStream {
	return &fakeStream{data: []byte(data)}
}

func (f *fakeStream) Read() ([]byte, error) {
	if len(f.putback) > 0 {
		b := f.putback
		f.putback = nil
		return b, nil
	}
	if f.pos >= len(f.data) {
		return nil, nil
	}
	// Return everything remaining in one chunk; readers that need
	// smaller increments use PutBack to return the unconsumed tail.
	b := f.data[f.pos:]
	f.pos = len(f.data)
	return b, nil
}

func (f *fakeStream) ReadNB() []byte { return nil }

func (f *fakeStream) PutBack(b []byte)    { f.putback = b }
func (f *fakeStream) IsReadTimeout() bool { return false }

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
