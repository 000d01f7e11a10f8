// Package rtctx implements the runtime context of spec.md §4.D: it binds
// a reactor.Reactor to the ambient goroutine scheduler (there is no
// separate task-executor to build — Go's own scheduler fills that role,
// per SPEC_FULL.md §3) and is the one factory for every concrete
// stream.Stream this module produces: listening/connecting sockets,
// anonymous pipes, stdio, and the signal stream.
package rtctx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"coroserver/aio"
	"coroserver/reactor"
	"coroserver/stream"
)

// Option configures a Context at construction, the same functional-options
// idiom used by ws.Option and stream.LimitedOption.
type Option func(*Context)

// WithLogger overrides the default standard-logger entry.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Context) { c.log = log }
}

// Context owns one Reactor and is the sole entry point for constructing
// streams, per spec.md §4.D.
type Context struct {
	log *logrus.Entry
	re  *reactor.Reactor

	queued atomic.Int64 // QueueDepth: caller-reported in-flight task count

	mu       sync.Mutex
	signalFD int // write end shared by signal handlers, spec.md §5
	closed   bool
}

// QueueDepth implements reactor.QueueDepther; callers that track their own
// executor backlog can feed it via IncQueued/DecQueued, defaulting to 0
// (always block in epoll_wait) when unused.
func (c *Context) QueueDepth() int { return int(c.queued.Load()) }

// IncQueued/DecQueued let an embedding executor report backlog so the
// reactor polls with a zero timeout under backpressure (spec.md §4.B).
func (c *Context) IncQueued() { c.queued.Add(1) }
func (c *Context) DecQueued() { c.queued.Add(-1) }

// New constructs a Context and starts its reactor immediately (spec.md §3
// "reactor started at context construction").
func New(opts ...Option) (*Context, error) {
	c := &Context{log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(c)
	}
	re, err := reactor.New(c.log, c)
	if err != nil {
		return nil, err
	}
	c.re = re
	return c, nil
}

// Reactor exposes the bound reactor for components (ws, httpserver, ...)
// that need to build streams directly from an *aio.Handle.
func (c *Context) Reactor() *reactor.Reactor { return c.re }

// Sleep suspends until deadline, d, or ctx cancellation, whichever is
// first, returning the reactor outcome. This is one of the suspension
// points named by spec.md §5.
func (c *Context) Sleep(ctx context.Context, d time.Duration) (reactor.Outcome, error) {
	id, ch := c.re.Sleep(time.Now().Add(d))
	select {
	case res := <-ch:
		return res.Outcome, res.Err
	case <-ctx.Done():
		c.re.CancelSleep(id)
		return reactor.Closed, ctx.Err()
	}
}

// Close tears down the reactor and the signal-delivery fd, aggregating
// per-resource failures per spec.md §5 "Global mutable state".
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fd := c.signalFD
	c.signalFD = 0
	c.mu.Unlock()

	var result *multierror.Error
	if fd != 0 {
		if err := unix.Close(fd); err != nil {
			result = multierror.Append(result, fmt.Errorf("rtctx: close signal fd: %w", err))
		}
	}
	if err := c.re.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("rtctx: stop reactor: %w", err))
	}
	return result.ErrorOrNil()
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func newSocketStream(c *Context, fd int) *stream.SocketStream {
	h := aio.Own(c.re, fd)
	return stream.NewSocketStream(h)
}
