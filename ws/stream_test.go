package ws

import "testing"

func TestReadTextMessage(t *testing.T) {
	frame, _ := buildFrame(true, OpText, []byte("hi"), false)
	under := newFakeStream(frame)
	s := New(under, Server)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Text || string(msg.Payload) != "hi" {
		t.Fatalf("got %+v", msg)
	}
}

func TestFragmentedMessageMerged(t *testing.T) {
	f1, _ := buildFrame(false, OpText, []byte("hello "), false)
	f2, _ := buildFrame(true, OpContinuation, []byte("world"), false)
	under := newFakeStream(append(f1, f2...))
	s := New(under, Server)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Text || string(msg.Payload) != "hello world" || !msg.Fin {
		t.Fatalf("got %+v", msg)
	}
}

func TestFragmentedMessagePreserved(t *testing.T) {
	f1, _ := buildFrame(false, OpText, []byte("hello "), false)
	f2, _ := buildFrame(true, OpContinuation, []byte("world"), false)
	under := newFakeStream(append(f1, f2...))
	s := New(under, Server, WithFragmentMode(PreserveFragments))

	first, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if first.Fin || string(first.Payload) != "hello " {
		t.Fatalf("got %+v", first)
	}
	second, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !second.Fin || second.Type != Text || string(second.Payload) != "world" {
		t.Fatalf("got %+v", second)
	}
}

func TestPingIsAutoAnsweredWithPong(t *testing.T) {
	ping, _ := buildFrame(true, OpPing, []byte("ping-data"), false)
	textFrame, _ := buildFrame(true, OpText, []byte("after"), false)
	under := newFakeStream(ping, textFrame)
	s := New(under, Server)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Ping || string(msg.Payload) != "ping-data" {
		t.Fatalf("got %+v", msg)
	}
	<-s.writer.WaitForIdle()

	got, _, err := readRawFrame(newFakeStream(under.allWritten()), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.opcode != OpPong || string(got.payload) != "ping-data" {
		t.Fatalf("expected auto Pong echoing payload, got %+v", got)
	}
}

func TestCloseHandshake(t *testing.T) {
	closeFrame, _ := buildFrame(true, OpClose, FormatClosePayload(CloseGoingAway, "bye"), false)
	under := newFakeStream(closeFrame)
	s := New(under, Server)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Close || msg.CloseCode != CloseGoingAway {
		t.Fatalf("got %+v", msg)
	}
	<-s.writer.WaitForIdle()

	reply, _, err := readRawFrame(newFakeStream(under.allWritten()), 0)
	if err != nil {
		t.Fatal(err)
	}
	if reply.opcode != OpClose {
		t.Fatalf("expected a Close reply, got %+v", reply)
	}
	code, _ := ParseClosePayload(reply.payload)
	if code != CloseNormalClosure {
		t.Fatalf("expected normal close code in reply, got %d", code)
	}

	// Reading again after a Close must not block or re-read the wire.
	again, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if again.Type != Close {
		t.Fatalf("expected subsequent reads to keep surfacing Close, got %+v", again)
	}
}

func TestTimeoutSendsPingThenAbnormalClose(t *testing.T) {
	under := newFakeStream(timeoutMarker, timeoutMarker)
	s := New(under, Server)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Close || msg.CloseCode != CloseAbnormalClosure {
		t.Fatalf("expected synthetic abnormal close after second timeout, got %+v", msg)
	}
	<-s.writer.WaitForIdle()

	// Exactly one Ping should have been written after the first timeout.
	pingFrame, _, err := readRawFrame(newFakeStream(under.allWritten()), 0)
	if err != nil {
		t.Fatal(err)
	}
	if pingFrame.opcode != OpPing {
		t.Fatalf("expected a Ping to have been sent, got opcode %v", pingFrame.opcode)
	}
}

func TestTimeoutRecoversOnData(t *testing.T) {
	textFrame, _ := buildFrame(true, OpText, []byte("recovered"), false)
	under := newFakeStream(timeoutMarker, textFrame)
	s := New(under, Server)

	msg, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != Text || string(msg.Payload) != "recovered" {
		t.Fatalf("expected the stream to recover after one timeout, got %+v", msg)
	}
}

func TestWriteCloseTransitionsToClosing(t *testing.T) {
	under := newFakeStream()
	s := New(under, Server)

	ok, err := s.Write(Close, FormatClosePayload(CloseNormalClosure, ""))
	if !ok || err != nil {
		t.Fatalf("write(Close) = %v, %v", ok, err)
	}
	ok, err = s.Write(Text, []byte("too late"))
	if ok {
		t.Fatal("expected writes after Close to return false")
	}
	_ = err
}

func TestClientFramesAreMasked(t *testing.T) {
	under := newFakeStream()
	s := New(under, Client)
	s.Write(Text, []byte("hi"))
	<-s.writer.WaitForIdle()

	wire := under.allWritten()
	if len(wire) < 2 {
		t.Fatal("expected a frame to be written")
	}
	if wire[1]&0x80 == 0 {
		t.Fatal("expected client frames to set the mask bit")
	}
}
