// Package httpserver implements spec.md §4.O, the HTTP/1 server-side
// request parser and response builder state machine: request-line and
// header parsing, Content-Length/chunked body-framing selection,
// Expect/100-continue, keep-alive tracking, and response header
// defaulting (Date, Server, Content-Type, Content-Length/chunked).
//
// Grounded on the teacher's (badu-http) src/http/request.go and
// src/http/response.go state machines, rewritten against stream.Stream
// (component E) instead of net.Conn+bufio.Reader, and against
// httpcommon.Header instead of the teacher's map[string][]string Header.
package httpserver

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"coroserver/httpcommon"
	"coroserver/stream"
)

// ErrBadRequest is returned by Load when the request line or headers are
// malformed; the caller sends a 400 and closes, per spec.md §7.
var ErrBadRequest = errors.New("httpserver: malformed request")

// ErrNotImplemented corresponds to an unrecognized Transfer-Encoding,
// which spec.md §6 requires be answered with 501.
var ErrNotImplemented = errors.New("httpserver: unsupported transfer-encoding")

const maxHeaderBlock = 1 << 20 // 1MiB guard against unbounded header floods

// Request is the server-side view of one HTTP/1.x request, spec.md §3
// "HTTP request (server side)".
type Request struct {
	under stream.Stream

	Method  httpcommon.Method
	Path    string
	Query   *httpcommon.Query
	Version httpcommon.Version
	Host    string
	Headers *httpcommon.Header

	keepAlive       bool
	expectContinue  bool
	continueSent    bool
	bodyAdvertised  bool
	bodyProcessed   bool
	body            stream.Stream

	resp *Response
}

// Load reads and parses the next request from under. Returns
// ErrBadRequest/ErrNotImplemented for malformed input; the caller is
// expected to answer with the matching status and close, per spec.md
// §4.O and §7.
func Load(under stream.Stream) (*Request, error) {
	var hdrBlock bytes.Buffer
	ok, err := stream.ReadUntil(under, &hdrBlock, []byte("\r\n\r\n"), maxHeaderBlock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil // EOF/timeout before a request arrived: not an error, no request
	}

	lines := strings.Split(hdrBlock.String(), "\r\n")
	if len(lines) < 1 {
		return nil, ErrBadRequest
	}
	reqLine := strings.SplitN(lines[0], " ", 3)
	if len(reqLine) != 3 {
		return nil, ErrBadRequest
	}
	method := httpcommon.ParseMethod(reqLine[0])
	if method == httpcommon.MethodUnknown {
		return nil, ErrBadRequest
	}
	version, ok := httpcommon.ParseVersion(strings.TrimSpace(reqLine[2]))
	if !ok {
		return nil, ErrBadRequest
	}
	path, rawQuery := httpcommon.SplitPathQuery(reqLine[1])
	query, err := httpcommon.ParseQuery(rawQuery)
	if err != nil {
		return nil, ErrBadRequest
	}

	headers := httpcommon.NewHeader()
	for _, line := range lines[1:] { // ReadUntil drops the \r\n\r\n terminator, so every element is a header line
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return nil, ErrBadRequest
		}
		name := line[:i]
		value := strings.TrimSpace(line[i+1:])
		headers.Add(name, value)
	}

	r := &Request{
		under:   under,
		Method:  method,
		Path:    path,
		Query:   query,
		Version: version,
		Host:    headers.Get("Host"),
		Headers: headers,
	}
	r.resp = newResponse(under, r)

	hasCL := headers.Has("Content-Length")
	hasTE := headers.Has("Transfer-Encoding")
	if !method.HasBody() && (hasCL || hasTE) {
		return nil, ErrBadRequest
	}
	switch {
	case hasCL && hasTE:
		return nil, ErrBadRequest
	case hasTE:
		te := strings.ToLower(strings.TrimSpace(headers.Get("Transfer-Encoding")))
		if te != "chunked" {
			return nil, ErrNotImplemented
		}
		r.body = stream.NewChunked(under)
		r.bodyAdvertised = true
	case hasCL:
		n, perr := strconv.ParseInt(strings.TrimSpace(headers.Get("Content-Length")), 10, 64)
		if perr != nil || n < 0 {
			return nil, ErrBadRequest
		}
		if n > 0 {
			r.body = stream.NewLimited(under, n, 0, stream.WithoutUnderlyingCloseOnEOF())
			r.bodyAdvertised = true
		}
	}

	if method.HasBody() && strings.EqualFold(headers.Get("Expect"), "100-continue") {
		r.expectContinue = true
	}

	r.keepAlive = computeKeepAlive(version, headers)
	return r, nil
}

func computeKeepAlive(v httpcommon.Version, h *httpcommon.Header) bool {
	conn := strings.ToLower(h.Get("Connection"))
	switch v {
	case httpcommon.Version11:
		return conn != "close"
	default:
		return conn == "keep-alive"
	}
}

// GetBody returns the request body stream, sending the deferred 100-continue
// status line first if one was requested, per spec.md §4.O. Returns nil if
// the request carries no body.
func (r *Request) GetBody() (stream.Stream, error) {
	if r.body == nil {
		return nil, nil
	}
	if r.expectContinue && !r.continueSent {
		if _, err := r.under.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n")); err != nil {
			return nil, err
		}
		r.continueSent = true
	}
	r.bodyProcessed = true
	return r.body, nil
}

// KeepAlive reports whether the connection may be reused after the
// response completes.
func (r *Request) KeepAlive() bool { return r.keepAlive }

// discardBody drains and discards an advertised-but-unread body before
// sending a response, per spec.md §4.O, unless a 100-continue is still
// pending (in which case the body was never requested and must not be
// read, since no Continue was sent).
func (r *Request) discardBody() error {
	if !r.bodyAdvertised || r.bodyProcessed {
		return nil
	}
	if r.expectContinue && !r.continueSent {
		return nil
	}
	for {
		b, err := r.body.Read()
		if err != nil {
			return err
		}
		if len(b) == 0 {
			if r.body.IsReadTimeout() {
				continue
			}
			return nil
		}
	}
}

// Response returns the response builder for this request, per spec.md §3.
func (r *Request) Response() *Response { return r.resp }
