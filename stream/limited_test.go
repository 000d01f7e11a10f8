package stream

import "testing"

func TestLimitedReadEOFAtBoundary(t *testing.T) {
	under := newMemStream("hello world")
	l := NewLimited(under, 5, -1)

	b, err := l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("got %q, want %q", b, "hello")
	}

	b, err = l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 0 {
		t.Fatalf("expected EOF after limit reached, got %q", b)
	}
	if l.IsReadTimeout() {
		t.Fatal("expected terminal EOF, not timeout")
	}

	// The remainder must have been handed back to the underlying stream.
	tail, err := under.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(tail) != " world" {
		t.Fatalf("expected putback tail %q, got %q", " world", tail)
	}
}

func TestLimitedWriteRefusesBeyondLimit(t *testing.T) {
	under := newMemStream()
	l := NewLimited(under, -1, 4)
	ok, err := l.Write([]byte("abcde"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected write beyond limit to return false")
	}
}

func TestLimitedWriteEOFPads(t *testing.T) {
	under := newMemStream()
	l := NewLimited(under, -1, 10)
	if ok, _ := l.Write([]byte("abc")); !ok {
		t.Fatal("write failed")
	}
	if ok, err := l.WriteEOF(); !ok || err != nil {
		t.Fatalf("write_eof = %v, %v", ok, err)
	}
	got := under.allWritten()
	want := append([]byte("abc"), make([]byte, 7)...)
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLimitedWriteEOFErrorsWhenRequested(t *testing.T) {
	under := newMemStream()
	l := NewLimited(under, -1, 10, WithShortWriteMode(ErrorShortWrite))
	if ok, _ := l.Write([]byte("abc")); !ok {
		t.Fatal("write failed")
	}
	if _, err := l.WriteEOF(); err != ErrIncompleteBody {
		t.Fatalf("expected ErrIncompleteBody, got %v", err)
	}
}

func TestLimitedWriteEOFClosesUnderlyingDirection(t *testing.T) {
	under := newMemStream()
	l := NewLimited(under, -1, 3)
	if ok, _ := l.Write([]byte("abc")); !ok {
		t.Fatal("write failed")
	}
	if ok, err := l.WriteEOF(); !ok || err != nil {
		t.Fatalf("write_eof = %v, %v", ok, err)
	}
	if !under.eofWritten {
		t.Fatal("expected WriteEOF to close the underlying stream's write direction")
	}
}

func TestLimitedWriteEOFCanSkipUnderlyingClose(t *testing.T) {
	under := newMemStream()
	l := NewLimited(under, -1, 3, WithoutUnderlyingCloseOnEOF())
	if ok, _ := l.Write([]byte("abc")); !ok {
		t.Fatal("write failed")
	}
	if ok, err := l.WriteEOF(); !ok || err != nil {
		t.Fatalf("write_eof = %v, %v", ok, err)
	}
	if under.eofWritten {
		t.Fatal("expected underlying stream's write direction to stay open")
	}
}

func TestZeroLengthWriteIsNoop(t *testing.T) {
	under := newMemStream()
	l := NewLimited(under, -1, 10)
	ok, err := l.Write(nil)
	if !ok || err != nil {
		t.Fatalf("zero-length write should succeed without touching the wire: %v %v", ok, err)
	}
	if len(under.written) != 0 {
		t.Fatalf("expected no bytes written to the wire")
	}
}
