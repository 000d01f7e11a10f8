package rtctx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"coroserver/aio"
	"coroserver/peer"
	"coroserver/reactor"
	"coroserver/stream"
)

// ErrConnectFailed is spec.md §7's ConnectFailed: no address in a
// connect-list produced a live socket.
var ErrConnectFailed = errors.New("rtctx: no address in the list connected")

// Listener is a bound, listening, non-blocking socket registered with the
// Context's reactor.
type Listener struct {
	c    *Context
	h    *aio.Handle
	name peer.Name
	gid  peer.GroupID
}

// Listen binds and listens on name (TCP or Unix per its Kind), per
// spec.md §4.D "listen helper". For Unix sockets, the path's configured
// permission mode (peer.Name.Perms) is applied via chmod after bind.
func (c *Context) Listen(name peer.Name, backlog int) (*Listener, error) {
	if cause, ok := name.IsError(); ok {
		return nil, cause
	}
	sockFD, sa, err := socketAndAddrFor(name)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(sockFD, sa); err != nil {
		_ = unix.Close(sockFD)
		return nil, fmt.Errorf("rtctx: bind: %w", err)
	}
	if name.Kind() == peer.KindUnix && name.Perms() != 0 {
		if err := unix.Chmod(name.Path(), name.Perms()); err != nil {
			_ = unix.Close(sockFD)
			return nil, fmt.Errorf("rtctx: chmod unix socket: %w", err)
		}
	}
	if backlog <= 0 {
		backlog = 128
	}
	if err := unix.Listen(sockFD, backlog); err != nil {
		_ = unix.Close(sockFD)
		return nil, fmt.Errorf("rtctx: listen: %w", err)
	}
	if err := setNonblocking(sockFD); err != nil {
		_ = unix.Close(sockFD)
		return nil, fmt.Errorf("rtctx: set nonblocking: %w", err)
	}
	h := aio.Own(c.re, sockFD)
	gid := peer.GroupID(name.Hash())
	return &Listener{c: c, h: h, name: name.WithGroup(gid), gid: gid}, nil
}

// Name returns the bound address this listener was constructed with.
func (l *Listener) Name() peer.Name { return l.name }

// Addr resolves the listener's actual bound address via getsockname(2),
// needed when Name was constructed with an ephemeral ("*") port.
func (l *Listener) Addr() (peer.Name, error) {
	sa, err := unix.Getsockname(l.h.FD())
	if err != nil {
		return peer.Name{}, fmt.Errorf("rtctx: getsockname: %w", err)
	}
	return nameFromSockaddr(sa, l.name.Kind()), nil
}

// Accept suspends until a connection arrives, deadline passes, or the
// listener is closed, returning the accepted stream and the peer's Name
// tagged with this listener's group id (spec.md §3 "group_id"). A passed
// deadline or a closed listener yields a nil stream and a nil error. ctx
// is checked only when the listener wakes without a connection, so
// canceling ctx does not by itself end a pending Accept.
func (l *Listener) Accept(ctx context.Context, deadline time.Time) (stream.Stream, peer.Name, error) {
	for {
		childFD, sa, err := unix.Accept4(l.h.FD(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			name := nameFromSockaddr(sa, l.name.Kind()).WithGroup(l.gid)
			h := aio.View(l.c.re, childFD)
			return stream.NewSocketStream(h), name, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			outcome, werr := l.h.Wait(reactor.Accept, deadline)
			if werr != nil {
				return nil, peer.Name{}, werr
			}
			switch outcome {
			case reactor.Timeout:
				return nil, peer.Name{}, nil
			case reactor.Closed:
				return nil, peer.Name{}, nil
			default:
				select {
				case <-ctx.Done():
					return nil, peer.Name{}, ctx.Err()
				default:
				}
				continue
			}
		}
		if err == unix.EINTR {
			continue
		}
		return nil, peer.Name{}, fmt.Errorf("rtctx: accept: %w", err)
	}
}

// Close shuts down the listening socket.
func (l *Listener) Close() error {
	return l.h.Close()
}

// Connect tries each address in targets in order until one connects, per
// spec.md §7's ConnectFailed semantics (no address in a connect-list
// produced a live socket) — used for the "try each configured peer name"
// pattern ahead of an HTTP client request.
func (c *Context) Connect(ctx context.Context, targets []peer.Name, deadline time.Time) (stream.Stream, error) {
	var lastErr error
	for _, target := range targets {
		s, err := c.connectOne(ctx, target, deadline)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
	}
	return nil, ErrConnectFailed
}

func (c *Context) connectOne(ctx context.Context, name peer.Name, deadline time.Time) (stream.Stream, error) {
	if cause, ok := name.IsError(); ok {
		return nil, cause
	}
	sockFD, sa, err := socketAndAddrFor(name)
	if err != nil {
		return nil, err
	}
	if err := setNonblocking(sockFD); err != nil {
		_ = unix.Close(sockFD)
		return nil, err
	}
	h := aio.Own(c.re, sockFD)

	err = unix.Connect(sockFD, sa)
	if err == nil {
		return stream.NewSocketStream(h), nil
	}
	if err != unix.EINPROGRESS {
		_ = h.Close()
		return nil, fmt.Errorf("rtctx: connect: %w", err)
	}

	outcome, werr := h.Wait(reactor.Connect, deadline)
	if werr != nil {
		_ = h.Close()
		return nil, werr
	}
	switch outcome {
	case reactor.Complete:
		if serr, gerr := unix.GetsockoptInt(sockFD, unix.SOL_SOCKET, unix.SO_ERROR); gerr != nil || serr != 0 {
			_ = h.Close()
			if gerr != nil {
				return nil, gerr
			}
			return nil, fmt.Errorf("rtctx: connect: %w", unix.Errno(serr))
		}
		return stream.NewSocketStream(h), nil
	default:
		_ = h.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return nil, fmt.Errorf("rtctx: connect did not complete (%v)", outcome)
	}
}

func socketAndAddrFor(name peer.Name) (int, unix.Sockaddr, error) {
	switch name.Kind() {
	case peer.KindIPv4:
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			return 0, nil, fmt.Errorf("rtctx: socket: %w", err)
		}
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		var sa unix.SockaddrInet4
		sa.Port = int(name.Port())
		copy(sa.Addr[:], name.IP().To4())
		return fd, &sa, nil
	case peer.KindIPv6:
		fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
		if err != nil {
			return 0, nil, fmt.Errorf("rtctx: socket: %w", err)
		}
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		var sa unix.SockaddrInet6
		sa.Port = int(name.Port())
		copy(sa.Addr[:], name.IP().To16())
		return fd, &sa, nil
	case peer.KindUnix:
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			return 0, nil, fmt.Errorf("rtctx: socket: %w", err)
		}
		return fd, &unix.SockaddrUnix{Name: name.Path()}, nil
	default:
		return 0, nil, fmt.Errorf("rtctx: unsupported peer kind %v", name.Kind())
	}
}

func nameFromSockaddr(sa unix.Sockaddr, listenKind peer.Kind) peer.Name {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		n, _ := peer.Parse(fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port), 0)
		return n
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		n, _ := peer.Parse(fmt.Sprintf("[%s]:%d", ip.String(), v.Port), 0)
		return n
	case *unix.SockaddrUnix:
		n, _ := peer.Parse("unix:"+v.Name, 0)
		return n
	default:
		return peer.Error(fmt.Errorf("rtctx: unrecognized sockaddr %T from accept on %v", sa, listenKind))
	}
}

