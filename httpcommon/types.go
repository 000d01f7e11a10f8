// Package httpcommon implements spec.md §4.N "HTTP/1 common": the
// method/version/status enumerations, the case-insensitive ordered header
// map, the MIME content-type table, and the query-string parser shared by
// httpserver and httpclient.
//
// Grounded on the teacher's (badu-http) hdr/types_header.go header-name
// constants and mime/types.go extension table; the header map itself is
// rebuilt (not copied) to satisfy spec.md §3's order-preserving,
// duplicate-keys-allowed discipline instead of the teacher's
// map[string][]string, which discards input order.
package httpcommon

import "strings"

// Method is the HTTP request method, spec.md §4.N.
type Method int

const (
	MethodGet Method = iota
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
	MethodUnknown
)

var methodNames = [...]string{
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
	MethodUnknown: "",
}

func (m Method) String() string { return methodNames[m] }

// ParseMethod maps a request-line token to a Method, MethodUnknown for
// anything not in the RFC 7231 core set.
func ParseMethod(s string) Method {
	for m, name := range methodNames {
		if name != "" && name == s {
			return Method(m)
		}
	}
	return MethodUnknown
}

// HasBody reports whether requests using this method may legally carry a
// body per spec.md §4.O ("For GET/HEAD any body header is a 400.").
func (m Method) HasBody() bool {
	return m != MethodGet && m != MethodHead
}

// Version is the HTTP protocol version.
type Version int

const (
	Version10 Version = iota
	Version11
	VersionUnknown
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	default:
		return "HTTP/1.0"
	}
}

// ParseVersion parses the request/status-line version token.
func ParseVersion(s string) (Version, bool) {
	switch s {
	case "HTTP/1.0":
		return Version10, true
	case "HTTP/1.1":
		return Version11, true
	default:
		return VersionUnknown, false
	}
}

// statusText is the canonical reason-phrase table, spec.md §6 "Status
// lines use a canonical message table but accept any client-provided
// message on parse." This mirrors the well-known RFC 7231/7233/7238
// reason phrases; it is plain static data, not library-worthy logic, so
// no third-party table is wired in for it (see DESIGN.md).
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	411: "Length Required",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	416: "Requested Range Not Satisfiable",
	417: "Expectation Failed",
	426: "Upgrade Required",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the canonical reason phrase, or "" if code is unknown.
func StatusText(code int) string { return statusText[code] }

// mimeByExt is grounded on the teacher's mime/types.go extension table,
// trimmed to a common subset. MIMETypeByExtension is its only reader;
// response Content-Type defaulting uses DefaultContentType instead.
var mimeByExt = map[string]string{
	".html": "text/html;charset=utf-8",
	".htm":  "text/html;charset=utf-8",
	".css":  "text/css;charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain;charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".wasm": "application/wasm",
}

// MIMETypeByExtension returns the content type for a file extension
// (including the leading dot), or "" if unknown.
func MIMETypeByExtension(ext string) string {
	return mimeByExt[strings.ToLower(ext)]
}

// DefaultContentType is used by httpserver when a response body is sent
// without an explicit Content-Type, per spec.md §4.O.
const DefaultContentType = "application/octet-stream"

// TimeFormat is the RFC 7231 preferred HTTP-date format, grounded on the
// teacher's hdr.TimeFormat constant.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
