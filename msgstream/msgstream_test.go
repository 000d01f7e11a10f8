package msgstream

import (
	"testing"

	"coroserver/stream"
)

// fakeStream mirrors the stream.Stream test doubles used by the stream and
// ws packages: a queue of read fragments (nil meaning a recoverable
// timeout), a putback slot, and a captured write log.
type fakeStream struct {
	frags   [][]byte
	pos     int
	putback []byte
	timeout bool
	written [][]byte
}

func newFakeStream(frags ...[]byte) *fakeStream { return &fakeStream{frags: frags} }

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

func (f *fakeStream) WriteEOF() (bool, error) { return true, nil }
func (f *fakeStream) Shutdown() error         { return nil }

func (f *fakeStream) Timeouts() stream.Timeouts   { return stream.Timeouts{} }
func (f *fakeStream) SetTimeouts(stream.Timeouts) {}

func (f *fakeStream) allWritten() []byte {
	var out []byte
	for _, w := range f.written {
		out = append(out, w...)
	}
	return out
}

func TestEncodeDecodeRoundTripShortPayload(t *testing.T) {
	frame := encodeFrame(Text, []byte("hi"))
	under := newFakeStream(frame)
	s := New(under)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Text || string(msg.Payload) != "hi" {
		t.Fatalf("got %+v", msg)
	}
}

func TestEncodeFrameHeaderByteMatchesWireFormat(t *testing.T) {
	// spec.md §6: byte 0 is TTLLLLLL_b where bits[7:6]=type,
	// bits[5:3]=reserved(0), bits[2:0]=len_bytes-1. A Text (type 10) frame
	// with a 1-byte length must emit 0b10_000_000 = 0x80.
	frame := encodeFrame(Text, []byte("h"))
	if frame[0] != 0x80 {
		t.Fatalf("header byte = %#02x, want 0x80", frame[0])
	}

	frame = encodeFrame(Ping, []byte("h"))
	if frame[0] != 0x00 {
		t.Fatalf("header byte = %#02x, want 0x00", frame[0])
	}

	frame = encodeFrame(Pong, []byte("h"))
	if frame[0] != 0x40 {
		t.Fatalf("header byte = %#02x, want 0x40", frame[0])
	}

	// Binary (type 11) with a two-byte length field (len_bytes-1 = 1).
	frame = encodeFrame(Binary, make([]byte, 256))
	if frame[0] != 0xC1 {
		t.Fatalf("header byte = %#02x, want 0xC1", frame[0])
	}
}

func TestLenBytesForBoundaries(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 1},
		{255, 1},
		{256, 2},
		{65535, 2},
		{65536, 3},
	}
	for _, c := range cases {
		if got := lenBytesFor(c.n); got != c.want {
			t.Fatalf("lenBytesFor(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestEncodeDecodeRoundTripAcrossFragments(t *testing.T) {
	frame := encodeFrame(Binary, []byte("a longer payload spanning a two-byte length field"))
	var frags [][]byte
	for _, b := range frame {
		frags = append(frags, []byte{b})
	}
	under := newFakeStream(frags...)
	s := New(under)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Binary || string(msg.Payload) != "a longer payload spanning a two-byte length field" {
		t.Fatalf("got %+v", msg)
	}
}

func TestPingAutoRepliesWithPong(t *testing.T) {
	ping := encodeFrame(Ping, []byte("keepalive"))
	under := newFakeStream(ping)
	s := New(under)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Ping || string(msg.Payload) != "keepalive" {
		t.Fatalf("got %+v", msg)
	}
	<-s.writer.WaitForIdle()

	reply := decodeOne(t, under.allWritten())
	if reply.Type != Pong || string(reply.Payload) != "keepalive" {
		t.Fatalf("expected Pong echo, got %+v", reply)
	}
}

func TestTimeoutSendsPingThenCloses(t *testing.T) {
	under := newFakeStream(nil, nil)
	s := New(under)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != 0 || !s.Closed() {
		t.Fatalf("expected synthetic close after two consecutive timeouts, got %+v closed=%v", msg, s.Closed())
	}
	<-s.writer.WaitForIdle()

	reply := decodeOne(t, under.allWritten())
	if reply.Type != Ping {
		t.Fatalf("expected a Ping to have been sent, got %+v", reply)
	}
}

func TestTimeoutRecoversOnData(t *testing.T) {
	frame := encodeFrame(Text, []byte("back"))
	under := newFakeStream(nil, frame)
	s := New(under)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Text || string(msg.Payload) != "back" {
		t.Fatalf("expected recovery after a single timeout, got %+v", msg)
	}
}

func decodeOne(t *testing.T, wire []byte) Message {
	t.Helper()
	under := newFakeStream(wire)
	s := New(under)
	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}
