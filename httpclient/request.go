// Package httpclient implements spec.md §4.P, the HTTP/1 client-side
// request/response state machine: header setters that detect
// Content-Length/Transfer-Encoding/Expect/Host/Authorization/User-Agent,
// Expect/100-continue handling in BeginBody, and response-framing
// selection mirroring the server side.
//
// Grounded on the teacher's (badu-http) src/http/tport/persist_conn.go
// roundTrip/writeLoop/readLoop state machine, stripped of its connection
// pool (out of scope for spec.md's component P, which describes a single
// request/response exchange over one stream, not a pool) and rebuilt
// against stream.Stream.
package httpclient

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"coroserver/httpcommon"
	"coroserver/stream"
)

// ErrRequestRejected is returned by BeginBody when the server answered an
// Expect:100-continue request with a non-100 status, per spec.md §7
// "RequestRejected".
var ErrRequestRejected = errors.New("httpclient: request rejected (non-100 response to Expect: 100-continue)")

// ErrBadResponse mirrors spec.md §7 "ProtocolError" on the client side:
// the server's status line or headers could not be parsed.
var ErrBadResponse = errors.New("httpclient: malformed response")

const maxHeaderBlock = 1 << 20

// bodyFraming is the method's transfer semantics, spec.md §3 "HTTP
// request (client side)".
type bodyFraming int

const (
	framingNone bodyFraming = iota
	framingContentLength
	framingChunked
	framingCustomTE
)

// Request is the client-side state machine of spec.md §4.P.
type Request struct {
	under stream.Stream

	Method  httpcommon.Method
	Target  string
	Host    string
	Headers *httpcommon.Header

	framing        bodyFraming
	contentLength  int64
	expectContinue bool

	headersSent     bool
	responseReceived bool

	// Response fields, populated after Send/BeginBody reads the status line.
	Status      int
	StatusText  string
	Version     httpcommon.Version
	RespHeaders *httpcommon.Header
	keepAlive   bool
}

// New starts a client request. UserAgent/Authorization, if non-empty, are
// set as default headers the way the teacher's transport does for every
// outgoing request.
func New(under stream.Stream, method httpcommon.Method, host, target, userAgent, authorization string) *Request {
	r := &Request{
		under:   under,
		Method:  method,
		Target:  target,
		Host:    host,
		Headers: httpcommon.NewHeader(),
	}
	r.Headers.Set("Host", host)
	if userAgent != "" {
		r.Headers.Set("User-Agent", userAgent)
	}
	if authorization != "" {
		r.Headers.Set("Authorization", authorization)
	}
	return r
}

// SetHeader sets a request header, detecting the handful of headers that
// change the body-framing state machine, per spec.md §4.P "header setters
// (which detect Content-Length, Transfer-Encoding=chunked, Expect, Host,
// Authorization, User-Agent specially)".
func (r *Request) SetHeader(name, value string) {
	r.Headers.Set(name, value)
	switch strings.ToLower(name) {
	case "content-length":
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && n >= 0 {
			r.framing = framingContentLength
			r.contentLength = n
		}
	case "transfer-encoding":
		if strings.EqualFold(strings.TrimSpace(value), "chunked") {
			r.framing = framingChunked
		} else {
			r.framing = framingCustomTE
		}
	case "expect":
		if strings.EqualFold(value, "100-continue") {
			r.expectContinue = true
		}
	}
}

func (r *Request) headLine() string {
	return r.Method.String() + " " + r.Target + " HTTP/1.1\r\n"
}

func (r *Request) sendHeaders() error {
	if r.headersSent {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(r.headLine())
	r.Headers.WriteTo(&sb)
	sb.WriteString("\r\n")
	if _, err := r.under.Write([]byte(sb.String())); err != nil {
		return err
	}
	r.headersSent = true
	return nil
}

// BeginBody sends headers (and, per Expect/100-continue, blocks for the
// server's provisional status) and returns a writable body stream: chunked
// if no Content-Length was set, length-limited otherwise, nil if a custom
// Transfer-Encoding was set (the caller writes raw framing itself).
//
// With Expect: 100-continue, per spec.md §4.P, headers are sent and the
// status line read immediately; the body stream is returned only if the
// server answered 100, otherwise ErrRequestRejected is returned and the
// response status is preset for Send to surface.
func (r *Request) BeginBody() (stream.Stream, error) {
	if r.framing == framingNone {
		// No Content-Length was set: per spec.md §4.P, begin_body()
		// defaults to chunked framing, so the header must be set before
		// headers are sent below.
		r.SetHeader("Transfer-Encoding", "chunked")
	}
	if err := r.sendHeaders(); err != nil {
		return nil, err
	}
	if r.expectContinue {
		if err := r.readStatusLine(); err != nil {
			return nil, err
		}
		if r.Status != 100 {
			return nil, ErrRequestRejected
		}
		// Consume the blank line that follows "100 Continue" and reset
		// so Send() reads the real final status afterward.
		var blank bytes.Buffer
		if _, err := stream.ReadUntil(r.under, &blank, []byte("\r\n"), maxHeaderBlock); err != nil {
			return nil, err
		}
		r.responseReceived = false
	}
	switch r.framing {
	case framingContentLength:
		// A keep-alive caller reuses r.under for the next request, so the
		// body writer must not shut down its write direction on WriteEOF.
		return stream.NewLimited(r.under, 0, r.contentLength, stream.WithoutUnderlyingCloseOnEOF()), nil
	case framingCustomTE:
		return nil, nil
	default:
		return stream.NewChunked(r.under), nil
	}
}

// Send sends the request (if a body stream was never begun, with no
// body) and reads the full response. If BeginBody already consumed a
// 100-continue provisional status, Send reads the subsequent final
// status; if BeginBody was rejected, Send keeps the final status it read
// and reads only the headers; otherwise it reads the request's only
// status line.
func (r *Request) Send() error {
	if err := r.sendHeaders(); err != nil {
		return err
	}
	if r.framing == framingNone && !r.Headers.Has("Content-Length") {
		r.Headers.Set("Content-Length", "0")
	}
	return r.readResponse()
}

func (r *Request) readStatusLine() error {
	var buf bytes.Buffer
	ok, err := stream.ReadUntil(r.under, &buf, []byte("\r\n"), maxHeaderBlock)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadResponse
	}
	parts := strings.SplitN(strings.TrimRight(buf.String(), "\r\n"), " ", 3)
	if len(parts) < 2 {
		return ErrBadResponse
	}
	version, ok := httpcommon.ParseVersion(parts[0])
	if !ok {
		return ErrBadResponse
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return ErrBadResponse
	}
	r.Version = version
	r.Status = code
	if len(parts) == 3 {
		r.StatusText = parts[2]
	}
	return nil
}

func (r *Request) readResponse() error {
	// A final status already read by a rejected BeginBody is kept.
	if r.Status == 0 || r.Status == 100 {
		if err := r.readStatusLine(); err != nil {
			return err
		}
	}
	var hdrBlock bytes.Buffer
	ok, err := stream.ReadUntil(r.under, &hdrBlock, []byte("\r\n\r\n"), maxHeaderBlock)
	if err != nil {
		return err
	}
	headers := httpcommon.NewHeader()
	if ok {
		for _, line := range strings.Split(hdrBlock.String(), "\r\n") {
			if line == "" {
				continue
			}
			i := strings.IndexByte(line, ':')
			if i < 0 {
				return ErrBadResponse
			}
			headers.Add(line[:i], strings.TrimSpace(line[i+1:]))
		}
	}
	r.RespHeaders = headers
	r.keepAlive = computeKeepAlive(r.Version, headers)
	r.responseReceived = true
	return nil
}

func computeKeepAlive(v httpcommon.Version, h *httpcommon.Header) bool {
	conn := strings.ToLower(h.Get("Connection"))
	if v == httpcommon.Version11 {
		return conn != "close"
	}
	return conn == "keep-alive"
}

// KeepAlive reports whether the response indicated the connection may be
// reused.
func (r *Request) KeepAlive() bool { return r.keepAlive }

// Body returns the readable response-body stream, chosen from the
// response headers the same way the server side chooses request-body
// framing: chunked, length-limited, or raw (the underlying stream
// itself, for responses with neither header, which per RFC 7230 read
// until connection close).
func (r *Request) Body() stream.Stream {
	if r.RespHeaders == nil {
		return nil
	}
	if strings.EqualFold(r.RespHeaders.Get("Transfer-Encoding"), "chunked") {
		return stream.NewChunked(r.under)
	}
	if cl := r.RespHeaders.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			return stream.NewLimited(r.under, n, 0, stream.WithoutUnderlyingCloseOnEOF())
		}
	}
	return r.under
}
