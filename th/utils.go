// Package th is a test harness that spins up a real listener backed by
// the async runtime (rtctx + reactor) and a dispatch.Dispatcher, for
// client/server round-trip tests across httpserver/httpclient/dispatch.
//
// Grounded on the teacher's (badu-http) th/utils.go net/http/httptest-style
// NewServer/NewUnstartedServer harness; generalized (per SPEC_FULL.md §1
// "Test tooling") to drive this module's own async server instead of
// net/http.Server, since the original's http.Server/http.Handler types no
// longer exist in this codebase.
package th

import (
	"context"
	"fmt"
	"time"

	"coroserver/dispatch"
	"coroserver/httpclient"
	"coroserver/httpcommon"
	"coroserver/peer"
	"coroserver/rtctx"
	"coroserver/stream"
)

// TestServer owns a live listener driven by a Dispatcher on an ephemeral
// loopback port, started in NewServer and torn down by Close.
type TestServer struct {
	Ctx        *rtctx.Context
	Dispatcher *dispatch.Dispatcher
	Listener   *rtctx.Listener
	URL        string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer starts a TestServer with d already populated with routes.
func NewServer(d *dispatch.Dispatcher) (*TestServer, error) {
	c, err := rtctx.New()
	if err != nil {
		return nil, err
	}
	name, err := peer.Parse("127.0.0.1:0", 0)
	if err != nil {
		c.Close()
		return nil, err
	}
	l, err := c.Listen(name, 128)
	if err != nil {
		c.Close()
		return nil, err
	}
	addr, err := l.Addr()
	if err != nil {
		l.Close()
		c.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &TestServer{
		Ctx:        c,
		Dispatcher: d,
		Listener:   l,
		URL:        fmt.Sprintf("http://%s", addr.Address()),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(ts.done)
		d.Serve(ctx, l)
	}()
	return ts, nil
}

// Close stops accepting, cancels in-flight Accept calls, and tears down
// the runtime context (reactor included).
func (ts *TestServer) Close() {
	ts.cancel()
	ts.Listener.Close()
	<-ts.done
	ts.Ctx.Close()
}

// Get issues a bare-bones GET over a freshly dialed connection, rather
// than reaching for net/http (which no longer exists in this module's
// client stack) — exercises httpclient end to end.
func (ts *TestServer) Get(path string) (status int, body []byte, err error) {
	return ts.Do(httpcommon.MethodGet, path, nil)
}

// Do dials the test server, sends one request via package httpclient, and
// reads the full response body.
func (ts *TestServer) Do(method httpcommon.Method, path string, reqBody []byte) (int, []byte, error) {
	name, err := ts.Listener.Addr()
	if err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := ts.Ctx.Connect(ctx, []peer.Name{name}, time.Now().Add(5*time.Second))
	if err != nil {
		return 0, nil, err
	}
	defer s.Shutdown()

	return doRequest(s, method, path, reqBody)
}

func doRequest(s stream.Stream, method httpcommon.Method, path string, reqBody []byte) (int, []byte, error) {
	req := httpclient.New(s, method, "test", path, "th-test-client", "")
	if len(reqBody) > 0 {
		req.SetHeader("Content-Length", fmt.Sprintf("%d", len(reqBody)))
		body, err := req.BeginBody()
		if err != nil {
			return 0, nil, err
		}
		if body != nil {
			if _, err := body.Write(reqBody); err != nil {
				return 0, nil, err
			}
			body.WriteEOF()
		}
	}
	if err := req.Send(); err != nil {
		return 0, nil, err
	}
	respBody := req.Body()
	var out []byte
	if respBody != nil {
		for {
			b, err := respBody.Read()
			if err != nil {
				return req.Status, out, err
			}
			if len(b) == 0 {
				break
			}
			out = append(out, b...)
		}
	}
	return req.Status, out, nil
}
