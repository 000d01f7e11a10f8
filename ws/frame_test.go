package ws

import "testing"

// TestLengthEncodingBoundaries is spec.md §8's boundary case: payload
// lengths 125, 126, 127, 65535, 65536 select the 7-, 16-, 16-, 16-, and
// 64-bit length encodings respectively.
func TestLengthEncodingBoundaries(t *testing.T) {
	cases := []struct {
		n       int
		wantLen int // header bytes before mask/payload
	}{
		{125, 2},
		{126, 4},
		{127, 4},
		{65535, 4},
		{65536, 10},
	}
	for _, c := range cases {
		payload := make([]byte, c.n)
		frame, err := buildFrame(true, OpBinary, payload, false)
		if err != nil {
			t.Fatalf("n=%d: %v", c.n, err)
		}
		if len(frame) != c.wantLen+c.n {
			t.Fatalf("n=%d: header length = %d, want %d", c.n, len(frame)-c.n, c.wantLen)
		}
	}
}

func TestBuildParseRoundTripUnmasked(t *testing.T) {
	payload := []byte("hello websocket")
	frame, err := buildFrame(true, OpText, payload, false)
	if err != nil {
		t.Fatal(err)
	}
	under := newFakeStream(frame)
	got, ok, err := readRawFrame(under, 0)
	if err != nil || !ok {
		t.Fatalf("readRawFrame = %v, %v, %v", got, ok, err)
	}
	if string(got.payload) != string(payload) || got.opcode != OpText || !got.fin {
		t.Fatalf("got %+v", got)
	}
}

func TestBuildParseRoundTripMasked(t *testing.T) {
	payload := []byte("client payload")
	frame, err := buildFrame(true, OpBinary, payload, true)
	if err != nil {
		t.Fatal(err)
	}
	under := newFakeStream(frame)
	got, ok, err := readRawFrame(under, 0)
	if err != nil || !ok {
		t.Fatalf("readRawFrame = %v, %v, %v", got, ok, err)
	}
	if string(got.payload) != string(payload) {
		t.Fatalf("got %q, want %q", got.payload, payload)
	}
}

func TestParseAcrossFragmentBoundaries(t *testing.T) {
	frame, err := buildFrame(true, OpText, []byte("split across reads"), false)
	if err != nil {
		t.Fatal(err)
	}
	// Split the wire bytes into single-byte fragments to exercise
	// read_block buffering.
	var frags [][]byte
	for _, b := range frame {
		frags = append(frags, []byte{b})
	}
	under := newFakeStream(frags...)
	got, ok, err := readRawFrame(under, 0)
	if err != nil || !ok {
		t.Fatalf("readRawFrame = %v, %v, %v", got, ok, err)
	}
	if string(got.payload) != "split across reads" {
		t.Fatalf("got %q", got.payload)
	}
}

func TestFragmentedControlFrameRejected(t *testing.T) {
	// A non-FIN ping is invalid per RFC 6455.
	frame, err := buildFrame(false, OpPing, []byte("x"), false)
	if err != nil {
		t.Fatal(err)
	}
	under := newFakeStream(frame)
	_, _, err = readRawFrame(under, 0)
	if err != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	frame, err := buildFrame(true, OpBinary, make([]byte, 100), false)
	if err != nil {
		t.Fatal(err)
	}
	under := newFakeStream(frame)
	_, _, err = readRawFrame(under, 10)
	if err != ErrOversizedFrame {
		t.Fatalf("expected ErrOversizedFrame, got %v", err)
	}
}
