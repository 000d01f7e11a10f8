package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestWaitReadCompletesOnData(t *testing.T) {
	rx, tx := newPipe(t)
	re, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer re.Stop()

	done := make(chan Outcome, 1)
	go func() {
		o, _ := re.Wait(rx, Read, time.Now().Add(2*time.Second))
		done <- o
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := unix.Write(tx, []byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case o := <-done:
		if o != Complete {
			t.Fatalf("expected Complete, got %v", o)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reactor result")
	}
}

func TestWaitTimesOut(t *testing.T) {
	rx, _ := newPipe(t)
	re, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer re.Stop()

	o, _ := re.Wait(rx, Read, time.Now().Add(30*time.Millisecond))
	if o != Timeout {
		t.Fatalf("expected Timeout, got %v", o)
	}
}

func TestMarkClosingResolvesClosed(t *testing.T) {
	rx, _ := newPipe(t)
	re, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer re.Stop()

	done := make(chan Outcome, 1)
	go func() {
		o, _ := re.Wait(rx, Read, time.Now().Add(5*time.Second))
		done <- o
	}()
	time.Sleep(20 * time.Millisecond)
	if err := re.MarkClosing(rx); err != nil {
		t.Fatal(err)
	}
	select {
	case o := <-done:
		if o != Closed {
			t.Fatalf("expected Closed, got %v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	// Subsequent waits resolve Closed without touching the poller.
	o, _ := re.Wait(rx, Read, time.Now().Add(time.Second))
	if o != Closed {
		t.Fatalf("expected Closed on already-closing fd, got %v", o)
	}
}

func TestSleepAndCancel(t *testing.T) {
	re, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer re.Stop()

	id, ch := re.Sleep(time.Now().Add(5 * time.Second))
	if !re.CancelSleep(id) {
		t.Fatal("expected cancel to succeed")
	}
	select {
	case res := <-ch:
		if res.Outcome != Complete {
			t.Fatalf("expected Complete on cancel, got %v", res.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	if re.CancelSleep(id) {
		t.Fatal("expected second cancel to fail")
	}
}

func TestSleepFires(t *testing.T) {
	re, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer re.Stop()

	_, ch := re.Sleep(time.Now().Add(20 * time.Millisecond))
	select {
	case res := <-ch:
		if res.Outcome != Timeout {
			t.Fatalf("expected Timeout, got %v", res.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

type constDepth int

func (c constDepth) QueueDepth() int { return int(c) }

func TestBackpressureZeroTimeoutPoll(t *testing.T) {
	re, err := New(nil, constDepth(1))
	if err != nil {
		t.Fatal(err)
	}
	defer re.Stop()
	if ms := re.pollTimeoutMillis(); ms != 0 {
		t.Fatalf("expected zero-timeout poll under backpressure, got %d", ms)
	}
}
