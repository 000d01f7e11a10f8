package httpserver

import (
	"strconv"
	"strings"
	"time"

	"coroserver/httpcommon"
	"coroserver/stream"
)

// ServerHeader is the Server response header default, analogous to the
// original C++ runtime's "CoroServer 1.0 (C++20)" banner used in spec.md
// §8's literal scenario 3 — kept as the same style of literal banner,
// adapted to this runtime's name.
const ServerHeader = "coroserver/1.0 (Go)"

// Response is the server-side response builder/state machine of spec.md
// §3 "HTTP request (server side)" response fields and §4.O "Response".
type Response struct {
	under stream.Stream
	req   *Request

	status  int
	headers *httpcommon.Header

	sent bool

	hasContentLength   bool
	hasTransferEncoding bool
	hasConnection      bool
	hasDate            bool
	hasServer          bool
	hasContentType     bool
}

func newResponse(under stream.Stream, req *Request) *Response {
	return &Response{
		under:   under,
		req:     req,
		status:  200,
		headers: httpcommon.NewHeader(),
	}
}

// SetStatus sets the response status code. The canonical reason message
// is looked up from httpcommon.StatusText at send time.
func (resp *Response) SetStatus(code int) {
	if resp.sent {
		return
	}
	resp.status = code
}

// SetHeader sets a response header, tracking the summary flags spec.md §3
// lists (Content-Length, Transfer-Encoding, Connection, Date, Server,
// Content-Type) so Send() knows which defaults it still owns.
func (resp *Response) SetHeader(name, value string) {
	if resp.sent {
		return
	}
	resp.headers.Set(name, value)
	switch strings.ToLower(name) {
	case "content-length":
		resp.hasContentLength = true
	case "transfer-encoding":
		resp.hasTransferEncoding = true
	case "connection":
		resp.hasConnection = true
		if strings.EqualFold(value, "close") {
			resp.req.keepAlive = false
		}
	case "date":
		resp.hasDate = true
	case "server":
		resp.hasServer = true
	case "content-type":
		resp.hasContentType = true
	}
}

// fillDefaults fills in unset response headers in the order spec.md §8
// scenario 3's literal output uses: Date, Content-Type, Content-Length (or
// Transfer-Encoding), Server, Connection.
func (resp *Response) fillDefaults(bodyLen int, chunkedBody bool) {
	if !resp.hasDate {
		resp.headers.Set("Date", time.Now().UTC().Format(httpcommon.TimeFormat))
	}
	if !resp.hasContentType && (bodyLen > 0 || chunkedBody) {
		resp.headers.Set("Content-Type", httpcommon.DefaultContentType)
	}
	if !resp.hasContentLength && !resp.hasTransferEncoding {
		if chunkedBody {
			resp.headers.Set("Transfer-Encoding", "chunked")
		} else {
			resp.headers.Set("Content-Length", strconv.Itoa(bodyLen))
		}
	}
	if !resp.hasServer {
		resp.headers.Set("Server", ServerHeader)
	}
	if !resp.hasConnection {
		if resp.req.keepAlive {
			resp.headers.Set("Connection", "keep-alive")
		} else {
			resp.headers.Set("Connection", "close")
		}
	}
}

func (resp *Response) writeHeadLine(sb *strings.Builder) {
	sb.WriteString(resp.req.Version.String())
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(resp.status))
	sb.WriteByte(' ')
	if msg := httpcommon.StatusText(resp.status); msg != "" {
		sb.WriteString(msg)
	} else {
		sb.WriteString("Status")
	}
	sb.WriteString("\r\n")
}

// Send writes status line, headers, and body in one shot (the
// known-length path): fills in defaults, computes Content-Length from
// len(body), writes the body inline, and closes per keep-alive.
func (resp *Response) Send(body []byte) error {
	if resp.sent {
		return nil
	}
	if err := resp.req.discardBody(); err != nil {
		return err
	}
	resp.fillDefaults(len(body), false)
	resp.sent = true

	var sb strings.Builder
	resp.writeHeadLine(&sb)
	resp.headers.WriteTo(&sb)
	sb.WriteString("\r\n")
	if _, err := resp.under.Write([]byte(sb.String())); err != nil {
		return err
	}
	if resp.req.Method != httpcommon.MethodHead && len(body) > 0 {
		if _, err := resp.under.Write(body); err != nil {
			return err
		}
	}
	if !resp.req.keepAlive {
		_, err := resp.under.WriteEOF()
		return err
	}
	return nil
}

// Begin writes status line and headers, choosing chunked framing (since
// the body length is not yet known), and returns a writable body stream.
// Per spec.md §4.O "either write the body slice and close or return a
// writable body stream (chunked or length-limited according to the
// Content-Length/Transfer-Encoding set on the response)".
func (resp *Response) Begin() (stream.Stream, error) {
	if resp.sent {
		return nil, nil
	}
	if err := resp.req.discardBody(); err != nil {
		return nil, err
	}

	chunked := !resp.hasContentLength
	resp.fillDefaults(0, chunked)
	resp.sent = true

	var sb strings.Builder
	resp.writeHeadLine(&sb)
	resp.headers.WriteTo(&sb)
	sb.WriteString("\r\n")
	if _, err := resp.under.Write([]byte(sb.String())); err != nil {
		return nil, err
	}

	// Keep-alive reuses resp.under for the next request/response pair, so
	// the body writer must not shut down its write direction on WriteEOF;
	// the connection's lifecycle is managed by the dispatcher instead.
	if resp.req.Method == httpcommon.MethodHead {
		return stream.NewLimited(resp.under, 0, 0, stream.WithoutUnderlyingCloseOnEOF()), nil
	}
	if chunked {
		return stream.NewChunked(resp.under), nil
	}
	n, _ := strconv.ParseInt(resp.headers.Get("Content-Length"), 10, 64)
	return stream.NewLimited(resp.under, 0, n, stream.WithoutUnderlyingCloseOnEOF()), nil
}

// HeadersSent reports whether Send/Begin has already written the status
// line and headers.
func (resp *Response) HeadersSent() bool { return resp.sent }

// Status returns the currently-set status code, for tracing/logging.
func (resp *Response) Status() int { return resp.status }
