package rtctx

import (
	"fmt"

	"golang.org/x/sys/unix"

	"coroserver/aio"
	"coroserver/stream"
)

// Pipe creates an anonymous, non-blocking pipe and returns it as a
// (read, write) pair of streams, per SPEC_FULL.md §4's supplemented
// `context.cpp` pipe() factory. Bytes written to w are readable from r.
func (c *Context) Pipe() (r, w stream.Stream, err error) {
	fds, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	if err != nil {
		return nil, nil, fmt.Errorf("rtctx: pipe2: %w", err)
	}
	r = newSocketStream(c, fds[0])
	w = newSocketStream(c, fds[1])
	return r, w, nil
}

// Stdio wraps file descriptors 0, 1, and 2 as streams, per
// SPEC_FULL.md §4's supplemented `context.cpp` stdio() factory. The
// caller is responsible for not also letting the OS-level stdio be used
// non-cooperatively elsewhere in the process.
func (c *Context) Stdio() (stdin, stdout, stderr stream.Stream, err error) {
	fds := [3]int{unix.Stdin, unix.Stdout, unix.Stderr}
	for _, fd := range fds {
		if err := setNonblocking(fd); err != nil {
			return nil, nil, nil, fmt.Errorf("rtctx: set stdio nonblocking: %w", err)
		}
	}
	h0 := aio.Own(c.re, fds[0])
	h1 := aio.Own(c.re, fds[1])
	h2 := aio.Own(c.re, fds[2])
	return stream.NewSocketStream(h0), stream.NewSocketStream(h1), stream.NewSocketStream(h2), nil
}
