// Package dispatch implements spec.md §4.Q, the HTTP server dispatcher:
// the accept loop, per-connection request loop, longest-prefix routing,
// 404/405 synthesis, and open/load/finish/close/exception tracing hooks.
//
// Grounded on the teacher's (badu-http) server.go Serve/ServeHTTP accept
// and per-connection loop shape, rewritten over rtctx.Listener and
// httpserver.Request/Response instead of net.Listener/net/http. Per
// SPEC_FULL.md §2, the longest-prefix routing table itself is
// gorilla/mux.Router (spec.md §1 explicitly names "a prefix map for HTTP
// routing dispatch details" as an out-of-scope external collaborator);
// mux.Router.Match is driven with a throwaway *http.Request built purely
// to carry method+path, since this runtime's own Request never touches
// net/http.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"coroserver/httpcommon"
	"coroserver/httpserver"
	"coroserver/rtctx"
	"coroserver/stream"
)

// Handler answers one HTTP request, using req to inspect the request and
// req.Response() to build the reply.
type Handler func(req *httpserver.Request) error

// ErrorHandler customizes the synthesized error page for a given status
// code; registered under the synthetic path "error_<code>", per spec.md
// §4.Q.
type ErrorHandler func(req *httpserver.Request, code int) error

// Tracer receives the open/load/finish/close/exception hooks spec.md
// §4.Q calls for. The default tracer (NewLogTracer) logs structurally via
// logrus, per SPEC_FULL.md §1 "Ambient stack / Logging".
type Tracer interface {
	Open(connID uint64, peer string)
	Load(connID uint64, method, path string)
	Finish(connID uint64, status int)
	Close(connID uint64)
	Exception(connID uint64, err error)
}

// LogTracer is the default Tracer.
type LogTracer struct{ Log *logrus.Entry }

func NewLogTracer(log *logrus.Entry) *LogTracer { return &LogTracer{Log: log} }

func (t *LogTracer) Open(id uint64, peer string) {
	t.Log.WithFields(logrus.Fields{"conn": id, "peer": peer}).Debug("connection opened")
}
func (t *LogTracer) Load(id uint64, method, path string) {
	t.Log.WithFields(logrus.Fields{"conn": id, "method": method, "path": path}).Debug("request loaded")
}
func (t *LogTracer) Finish(id uint64, status int) {
	t.Log.WithFields(logrus.Fields{"conn": id, "status": status}).Debug("request finished")
}
func (t *LogTracer) Close(id uint64) {
	t.Log.WithFields(logrus.Fields{"conn": id}).Debug("connection closed")
}
func (t *LogTracer) Exception(id uint64, err error) {
	t.Log.WithFields(logrus.Fields{"conn": id, "err": err}).Warn("request exception")
}

// noopHandler is the http.Handler every mux.Route carries; it is never
// invoked — dispatch looks the real Handler up from routeHandlers by
// *mux.Route identity once Match picks a route.
type noopHandler struct{}

func (noopHandler) ServeHTTP(http.ResponseWriter, *http.Request) {}

type routeEntry struct {
	method  httpcommon.Method
	path    string
	handler Handler
}

// Dispatcher owns a prefix map from path to method->handler table, per
// spec.md §4.Q.
type Dispatcher struct {
	log    *logrus.Entry
	tracer Tracer

	entries       []routeEntry
	router        *mux.Router
	routeHandlers map[*mux.Route]Handler

	errors map[int]ErrorHandler

	nextConnID uint64
}

// New constructs an empty dispatcher. log is threaded through from
// rtctx.Context per SPEC_FULL.md's ambient logging choice.
func New(log *logrus.Entry) *Dispatcher {
	d := &Dispatcher{
		log:           log,
		errors:        make(map[int]ErrorHandler),
		router:        mux.NewRouter(),
		routeHandlers: make(map[*mux.Route]Handler),
	}
	d.tracer = NewLogTracer(log)
	return d
}

// SetTracer overrides the default log-based tracer.
func (d *Dispatcher) SetTracer(t Tracer) { d.tracer = t }

// Handle registers handler for method at the given path prefix. Routes
// are matched longest-prefix-first, per spec.md §4.Q; since gorilla/mux
// matches registration order, the whole table is rebuilt in
// descending-prefix-length order on every registration (expected to
// happen at startup, not per-request).
func (d *Dispatcher) Handle(method httpcommon.Method, path string, handler Handler) {
	d.entries = append(d.entries, routeEntry{method: method, path: path, handler: handler})
	sort.SliceStable(d.entries, func(i, j int) bool { return len(d.entries[i].path) > len(d.entries[j].path) })

	d.router = mux.NewRouter()
	d.routeHandlers = make(map[*mux.Route]Handler, len(d.entries))
	for _, e := range d.entries {
		route := d.router.PathPrefix(e.path).Methods(e.method.String()).Handler(noopHandler{})
		d.routeHandlers[route] = e.handler
	}
}

// HandleError registers a custom handler for a response status code,
// under the synthetic path "error_<code>" of spec.md §4.Q.
func (d *Dispatcher) HandleError(code int, handler ErrorHandler) {
	d.errors[code] = handler
}

// longestPrefix returns the longest registered prefix of path across all
// methods, and the methods registered at that exact prefix — used to
// build the 405 Allow header.
func (d *Dispatcher) longestPrefix(path string) (string, []string) {
	best := ""
	for _, e := range d.entries {
		if strings.HasPrefix(path, e.path) && len(e.path) > len(best) {
			best = e.path
		}
	}
	if best == "" {
		return "", nil
	}
	var methods []string
	seen := make(map[string]bool)
	for _, e := range d.entries {
		if e.path == best && !seen[e.method.String()] {
			seen[e.method.String()] = true
			methods = append(methods, e.method.String())
		}
	}
	return best, methods
}

// Serve runs the accept loop described in spec.md §4.Q: for every accepted
// connection it spawns a per-connection goroutine which repeatedly loads
// a request, dispatches it, and keeps the connection alive or closes it.
// Serve blocks until Accept returns a terminal error (listener closed).
func (d *Dispatcher) Serve(ctx context.Context, l *rtctx.Listener) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s, peerName, err := l.Accept(ctx, time.Time{})
		if err != nil {
			return err
		}
		if s == nil {
			continue // Accept timed out/closed with no connection; keep looping
		}
		connID := atomic.AddUint64(&d.nextConnID, 1)
		d.tracer.Open(connID, peerName.String())
		go d.serveConn(connID, s)
	}
}

func (d *Dispatcher) serveConn(connID uint64, s stream.Stream) {
	defer func() {
		if r := recover(); r != nil {
			d.tracer.Exception(connID, fmt.Errorf("panic: %v", r))
		}
		s.Shutdown()
		d.tracer.Close(connID)
	}()

	for {
		req, err := httpserver.Load(s)
		if err != nil {
			d.writeRawErrorPage(s, parseErrorStatus(err))
			return
		}
		if req == nil {
			return // peer closed or idle-timed-out between requests
		}
		d.tracer.Load(connID, req.Method.String(), req.Path)

		if err := d.dispatch(req); err != nil {
			d.tracer.Exception(connID, err)
			return
		}
		d.tracer.Finish(connID, req.Response().Status())

		if !req.KeepAlive() {
			return
		}
	}
}

func parseErrorStatus(err error) int {
	if err == httpserver.ErrNotImplemented {
		return 501
	}
	return 400
}

func (d *Dispatcher) dispatch(req *httpserver.Request) error {
	httpReq, err := http.NewRequest(req.Method.String(), "http://dispatch"+req.Path, nil)
	if err != nil {
		return d.sendError(req, 400, nil)
	}
	var match mux.RouteMatch
	if d.router.Match(httpReq, &match) {
		return d.routeHandlers[match.Route](req)
	}
	if match.MatchErr == mux.ErrMethodMismatch {
		if _, methods := d.longestPrefix(req.Path); len(methods) > 0 {
			sort.Strings(methods)
			return d.sendError(req, 405, map[string]string{"Allow": strings.Join(methods, ", ")})
		}
	}
	return d.sendError(req, 404, nil)
}

func (d *Dispatcher) sendError(req *httpserver.Request, code int, extraHeaders map[string]string) error {
	resp := req.Response()
	resp.SetStatus(code)
	for k, v := range extraHeaders {
		resp.SetHeader(k, v)
	}
	if h, ok := d.errors[code]; ok {
		return h(req, code)
	}
	resp.SetHeader("Content-Type", "application/xhtml+xml")
	return resp.Send(defaultErrorPage(code))
}

func defaultErrorPage(code int) []byte {
	msg := httpcommon.StatusText(code)
	return []byte(fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><html xmlns="http://www.w3.org/1999/xhtml"><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>`,
		code, msg, code, msg))
}

func (d *Dispatcher) writeRawErrorPage(s stream.Stream, code int) {
	msg := httpcommon.StatusText(code)
	body := defaultErrorPage(code)
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", code, msg, len(body))
	s.Write([]byte(head))
	s.Write(body)
	s.WriteEOF()
}
