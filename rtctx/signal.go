package rtctx

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"coroserver/aio"
	"coroserver/stream"
)

// SignalStream turns delivery of sigs into a readable stream.Stream: one
// byte (the signal number, truncated to a byte) per received signal,
// per spec.md §5's "signal-delivery state — a single writer-end file
// descriptor shared among signal handlers; initialized once per process,
// torn down when the runtime context drops". Go's os/signal.Notify
// channel stands in for the original's signal-handler-writes-to-pipe
// mechanism; the write end is bridged into the pipe here so the reader
// side is, from the stream contract's point of view, just another
// descriptor the reactor can wait on.
func (c *Context) SignalStream(sigs ...os.Signal) (stream.Stream, error) {
	fds, err := unix.Pipe2(unix.O_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("rtctx: signal pipe: %w", err)
	}
	if err := setNonblocking(fds[0]); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}

	c.mu.Lock()
	c.signalFD = fds[1]
	c.mu.Unlock()

	ch := make(chan os.Signal, 16)
	signal.Notify(ch, sigs...)
	go func() {
		for s := range ch {
			num := signalNumber(s)
			_, _ = unix.Write(fds[1], []byte{byte(num)})
		}
	}()

	h := aio.Own(c.re, fds[0])
	return stream.NewSocketStream(h), nil
}

func signalNumber(s os.Signal) int {
	if sn, ok := s.(syscall.Signal); ok {
		return int(sn)
	}
	return 0
}
