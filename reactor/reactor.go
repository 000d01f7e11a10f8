// Package reactor implements the epoll-based readiness multiplexer and
// deadline scheduler described in spec.md §4.B. A single worker goroutine
// owns the epoll descriptor and a mutex guarding the fd-map and the
// deadline heap; callers register at most one waiter per (fd, op) slot,
// and Wait blocks until that slot's outcome is known, standing in for the
// spec's future<outcome> (Sleep returns a channel instead).
//
// Grounded on golang.org/x/sys/unix (wired per SPEC_FULL.md's domain
// stack) the way docker-compose's go.mod pulls in golang.org/x/sys for its
// own low-level process/fd plumbing.
package reactor

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Op is the async operation tag from spec.md §3.
type Op int

const (
	Read Op = iota
	Write
	Accept
	Connect
	numOps
)

func (o Op) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	case Accept:
		return "accept"
	case Connect:
		return "connect"
	default:
		return "?"
	}
}

// Outcome is the wait-outcome tri-plus-error state from spec.md §3.
type Outcome int

const (
	Complete Outcome = iota
	Timeout
	Closed
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Timeout:
		return "timeout"
	case Closed:
		return "closed"
	default:
		return "?"
	}
}

// Result is delivered on a waiter's channel exactly once.
type Result struct {
	Outcome Outcome
	Err     error
}

// waiter is one of the four fixed per-descriptor slots (spec.md §3).
type waiter struct {
	deadline time.Time
	ch       chan Result
	armed    bool
}

type fdEntry struct {
	fd      int
	slots   [numOps]waiter
	mask    uint32 // currently-registered epoll event mask; 0 == detached
	closing bool
}

// SleepID is the opaque cancellation handle returned by Sleep.
type SleepID uint64

type timerEntry struct {
	id       SleepID
	deadline time.Time
	ch       chan Result
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// QueueDepther lets the worker cooperate with an executor: if it reports a
// non-zero queue depth, the worker polls with a zero timeout rather than
// blocking, per spec.md §4.B "Backpressure".
type QueueDepther interface {
	QueueDepth() int
}

// Reactor is the single-instance readiness multiplexer for a Context.
type Reactor struct {
	log *logrus.Entry

	epfd   int
	wakeFD int

	mu       sync.Mutex
	fds      map[int]*fdEntry
	timers   timerHeap
	timerIdx map[SleepID]*timerEntry
	nextID   SleepID

	stopped bool
	depther QueueDepther

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Reactor and starts its worker goroutine immediately
// (spec.md §3 "Lifecycles: reactor started at context construction").
func New(log *logrus.Entry, depther QueueDepther) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Reactor{
		log:      log.WithField("component", "reactor"),
		epfd:     epfd,
		wakeFD:   wakeFD,
		fds:      make(map[int]*fdEntry),
		timerIdx: make(map[SleepID]*timerEntry),
		depther:  depther,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakeFD)
		return nil, fmt.Errorf("reactor: register wake fd: %w", err)
	}
	go r.run()
	return r, nil
}

func (r *Reactor) wake() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(r.wakeFD, buf[:])
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

// Wait registers exactly one waiter for (fd, op) and blocks until it
// resolves. Registering over a live waiter is a contract violation and
// panics, matching spec.md §4.B.
func (r *Reactor) Wait(fd int, op Op, deadline time.Time) (Outcome, error) {
	ch := make(chan Result, 1)
	if err := r.register(fd, op, deadline, ch); err != nil {
		return Closed, err
	}
	res := <-ch
	return res.Outcome, res.Err
}

func (r *Reactor) register(fd int, op Op, deadline time.Time, ch chan Result) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		ch <- Result{Outcome: Closed}
		return nil
	}
	e, ok := r.fds[fd]
	if !ok {
		e = &fdEntry{fd: fd}
		r.fds[fd] = e
	}
	if e.closing {
		r.mu.Unlock()
		ch <- Result{Outcome: Closed}
		return nil
	}
	if e.slots[op].armed {
		r.mu.Unlock()
		panic(fmt.Sprintf("reactor: duplicate waiter for fd=%d op=%s", fd, op))
	}
	e.slots[op] = waiter{deadline: deadline, ch: ch, armed: true}
	mask := r.effectiveMask(e)
	changed := mask != e.mask
	if changed {
		if err := r.rearm(e, mask); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.mu.Unlock()
	r.wake()
	return nil
}

func (r *Reactor) effectiveMask(e *fdEntry) uint32 {
	var mask uint32
	if e.slots[Read].armed || e.slots[Accept].armed {
		mask |= unix.EPOLLIN
	}
	if e.slots[Write].armed || e.slots[Connect].armed {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (r *Reactor) rearm(e *fdEntry, mask uint32) error {
	ev := &unix.EpollEvent{Events: mask | unix.EPOLLERR | unix.EPOLLHUP, Fd: int32(e.fd)}
	var err error
	switch {
	case mask == 0 && e.mask != 0:
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	case e.mask == 0 && mask != 0:
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, e.fd, ev)
		if err == unix.EEXIST {
			err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, e.fd, ev)
		}
	case mask != 0:
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, e.fd, ev)
		if err == unix.ENOENT {
			err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, e.fd, ev)
		}
	}
	if err != nil {
		return fmt.Errorf("reactor: epoll_ctl fd=%d: %w", e.fd, err)
	}
	e.mask = mask
	return nil
}

// Sleep registers a deadline-only wait with no associated fd, returning the
// SleepID needed to cancel it.
func (r *Reactor) Sleep(deadline time.Time) (SleepID, <-chan Result) {
	ch := make(chan Result, 1)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		ch <- Result{Outcome: Closed}
		return 0, ch
	}
	r.nextID++
	id := r.nextID
	t := &timerEntry{id: id, deadline: deadline, ch: ch}
	heap.Push(&r.timers, t)
	r.timerIdx[id] = t
	r.mu.Unlock()
	r.wake()
	return id, ch
}

// CancelSleep cancels a pending Sleep, resolving it with Complete (spec.md
// §4.B: "cancel succeeded" is reported as Complete, distinct from Timeout).
func (r *Reactor) CancelSleep(id SleepID) bool {
	r.mu.Lock()
	t, ok := r.timerIdx[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	heap.Remove(&r.timers, t.index)
	delete(r.timerIdx, id)
	r.mu.Unlock()
	t.ch <- Result{Outcome: Complete}
	return true
}

// MarkClosing atomically detaches fd from the poller, resolves all pending
// waiters Closed, and makes future Wait calls on fd resolve Closed without
// touching the poller.
func (r *Reactor) MarkClosing(fd int) error {
	r.mu.Lock()
	e, ok := r.fds[fd]
	if !ok {
		e = &fdEntry{fd: fd}
		r.fds[fd] = e
	}
	var resolved []chan Result
	for op := Op(0); op < numOps; op++ {
		if e.slots[op].armed {
			resolved = append(resolved, e.slots[op].ch)
			e.slots[op] = waiter{}
		}
	}
	var err error
	if e.mask != 0 {
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		e.mask = 0
	}
	e.closing = true
	r.mu.Unlock()
	for _, ch := range resolved {
		ch <- Result{Outcome: Closed}
	}
	if err != nil {
		return fmt.Errorf("reactor: mark_closing fd=%d: %w", fd, err)
	}
	return nil
}

// MarkClosingAll detaches every registered fd and drains the timer
// scheduler, per spec.md §4.B.
func (r *Reactor) MarkClosingAll() error {
	r.mu.Lock()
	fds := make([]int, 0, len(r.fds))
	for fd, e := range r.fds {
		if !e.closing {
			fds = append(fds, fd)
		}
	}
	timers := r.timers
	r.timers = nil
	r.timerIdx = make(map[SleepID]*timerEntry)
	r.mu.Unlock()

	var result *multierror.Error
	for _, fd := range fds {
		if err := r.MarkClosing(fd); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, t := range timers {
		t.ch <- Result{Outcome: Closed}
	}
	return result.ErrorOrNil()
}

// Stop terminates the worker goroutine and resolves every outstanding
// waiter Closed. It is safe to call more than once.
func (r *Reactor) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stopCh)
	r.wake()
	<-r.doneCh
	err := r.MarkClosingAll()
	_ = unix.Close(r.wakeFD)
	_ = unix.Close(r.epfd)
	return err
}

const maxEvents = 256

func (r *Reactor) run() {
	defer close(r.doneCh)
	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		timeout := r.pollTimeoutMillis()
		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.log.WithError(err).Error("epoll_wait failed, reactor terminating")
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			_ = r.MarkClosingAll()
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == r.wakeFD {
				r.drainWake()
				continue
			}
			r.handleEvent(int(ev.Fd), ev.Events)
		}
		r.handleExpired(time.Now())
	}
}

func (r *Reactor) handleEvent(fd int, events uint32) {
	r.mu.Lock()
	e, ok := r.fds[fd]
	if !ok || e.closing {
		r.mu.Unlock()
		return
	}
	var toResolve []struct {
		ch  chan Result
		res Result
	}
	resolve := func(op Op, res Result) {
		if e.slots[op].armed {
			toResolve = append(toResolve, struct {
				ch  chan Result
				res Result
			}{e.slots[op].ch, res})
			e.slots[op] = waiter{}
		}
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		cause := fmt.Errorf("reactor: fd=%d readiness error (events=%#x)", fd, events)
		for op := Op(0); op < numOps; op++ {
			resolve(op, Result{Outcome: Complete, Err: cause})
		}
	} else {
		if events&unix.EPOLLIN != 0 {
			resolve(Accept, Result{Outcome: Complete})
			resolve(Read, Result{Outcome: Complete})
		}
		if events&unix.EPOLLOUT != 0 {
			resolve(Connect, Result{Outcome: Complete})
			resolve(Write, Result{Outcome: Complete})
		}
	}
	mask := r.effectiveMask(e)
	if mask != e.mask {
		_ = r.rearm(e, mask)
	}
	r.mu.Unlock()
	for _, x := range toResolve {
		x.ch <- x.res
	}
}

func (r *Reactor) handleExpired(now time.Time) {
	r.mu.Lock()
	var toResolve []chan Result
	for _, e := range r.fds {
		if e.closing {
			continue
		}
		for op := Op(0); op < numOps; op++ {
			s := e.slots[op]
			if s.armed && !s.deadline.IsZero() && !now.Before(s.deadline) {
				toResolve = append(toResolve, s.ch)
				e.slots[op] = waiter{}
			}
		}
		if mask := r.effectiveMask(e); mask != e.mask {
			_ = r.rearm(e, mask)
		}
	}
	for r.timers.Len() > 0 && !now.Before(r.timers[0].deadline) {
		t := heap.Pop(&r.timers).(*timerEntry)
		delete(r.timerIdx, t.id)
		toResolve = append(toResolve, t.ch)
	}
	r.mu.Unlock()
	for _, ch := range toResolve {
		ch <- Result{Outcome: Timeout}
	}
}

func (r *Reactor) pollTimeoutMillis() int {
	if r.depther != nil && r.depther.QueueDepth() > 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var deadline time.Time
	for _, e := range r.fds {
		if e.closing {
			continue
		}
		for op := Op(0); op < numOps; op++ {
			s := e.slots[op]
			if s.armed && !s.deadline.IsZero() {
				if deadline.IsZero() || s.deadline.Before(deadline) {
					deadline = s.deadline
				}
			}
		}
	}
	if r.timers.Len() > 0 {
		if deadline.IsZero() || r.timers[0].deadline.Before(deadline) {
			deadline = r.timers[0].deadline
		}
	}
	if deadline.IsZero() {
		return -1
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(1<<31-1) {
		return 1 << 31 - 1
	}
	return int(ms)
}
