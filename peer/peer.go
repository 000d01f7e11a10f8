// Package peer parses, renders and resolves the endpoint-literal grammar
// described in spec.md §6 ("Peer name grammar") and marshals the result to
// the socket address forms the reactor and runtime context need to bind,
// listen or connect.
package peer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
)

// Kind tags which variant of Name is populated. Zero value is None.
type Kind int

const (
	KindNone Kind = iota
	KindIPv4
	KindIPv6
	KindUnix
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindUnix:
		return "unix"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// GroupID attributes an accepted connection's peer Name back to the Name
// of the listener it was accepted on, per spec.md §3.
type GroupID uint64

// Name is the tagged peer-name value from spec.md §3. It is immutable once
// constructed; all mutating-looking methods return a copy.
type Name struct {
	kind Kind

	// IPv4 / IPv6
	addr4    [4]byte
	addr6    [16]byte
	flowInfo uint32
	scopeID  uint32
	port     uint16

	// Unix
	path  string
	perms uint32 // 0 means "unspecified, use process default"

	// Error
	cause error

	// any-bind / ephemeral markers, kept distinct from a resolved zero value
	anyHost bool
	anyPort bool

	group GroupID
}

// None is the zero-value, unresolved Name.
var None = Name{}

// Error constructs an Error-variant Name carrying cause.
func Error(cause error) Name {
	return Name{kind: KindError, cause: cause}
}

// IsError reports whether n is the Error variant, and if so its cause.
func (n Name) IsError() (error, bool) {
	if n.kind == KindError {
		return n.cause, true
	}
	return nil, false
}

func (n Name) Kind() Kind { return n.kind }

// WithGroup returns a copy of n tagged with the listener group id gid.
func (n Name) WithGroup(gid GroupID) Name {
	n.group = gid
	return n
}

func (n Name) Group() GroupID { return n.group }

func (n Name) Port() uint16 { return n.port }

// Path returns the filesystem path for a Unix-variant Name.
func (n Name) Path() string { return n.path }

// Perms returns the requested socket file mode, 0 if unspecified.
func (n Name) Perms() uint32 { return n.perms }

// IP renders the address portion as a net.IP; nil for non-IP variants.
func (n Name) IP() net.IP {
	switch n.kind {
	case KindIPv4:
		ip := make(net.IP, 4)
		copy(ip, n.addr4[:])
		return ip
	case KindIPv6:
		ip := make(net.IP, 16)
		copy(ip, n.addr6[:])
		return ip
	default:
		return nil
	}
}

// Equal implements variant-wise equality, per spec.md §3.
func (n Name) Equal(other Name) bool {
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindNone:
		return true
	case KindIPv4:
		return n.addr4 == other.addr4 && n.port == other.port
	case KindIPv6:
		return n.addr6 == other.addr6 && n.flowInfo == other.flowInfo &&
			n.scopeID == other.scopeID && n.port == other.port
	case KindUnix:
		return n.path == other.path && n.perms == other.perms
	case KindError:
		return n.cause == other.cause || (n.cause != nil && other.cause != nil && n.cause.Error() == other.cause.Error())
	default:
		return false
	}
}

// Hash is a stable, variant-aware hash suitable for map keys or dedup sets.
func (n Name) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte{byte(n.kind)})
	switch n.kind {
	case KindIPv4:
		_, _ = h.Write(n.addr4[:])
		_, _ = h.Write([]byte{byte(n.port >> 8), byte(n.port)})
	case KindIPv6:
		_, _ = h.Write(n.addr6[:])
		_, _ = h.Write([]byte{byte(n.port >> 8), byte(n.port)})
	case KindUnix:
		_, _ = h.Write([]byte(n.path))
	case KindError:
		if n.cause != nil {
			_, _ = h.Write([]byte(n.cause.Error()))
		}
	}
	return h.Sum64()
}

// String renders the canonical literal form.
func (n Name) String() string {
	switch n.kind {
	case KindIPv4:
		return fmt.Sprintf("%s:%d", n.IP().String(), n.port)
	case KindIPv6:
		ip := n.IP()
		if n.scopeID != 0 {
			return fmt.Sprintf("[%s%%%d]:%d", ip.String(), n.scopeID, n.port)
		}
		return fmt.Sprintf("[%s]:%d", ip.String(), n.port)
	case KindUnix:
		if n.perms != 0 {
			return fmt.Sprintf("unix:%s:%o", n.path, n.perms)
		}
		return "unix:" + n.path
	case KindError:
		return "error:" + n.cause.Error()
	default:
		return "none"
	}
}

// ErrBadLiteral is returned for syntactically invalid peer literals.
var ErrBadLiteral = errors.New("peer: invalid literal")

// ParseList splits a space-separated list of peer literals (spec.md §6) and
// parses each with defaultPort used whenever a literal names a bare host.
func ParseList(s string, defaultPort uint16) ([]Name, error) {
	fields := strings.Fields(s)
	out := make([]Name, 0, len(fields))
	for _, f := range fields {
		n, err := Parse(f, defaultPort)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Parse parses one peer literal per spec.md §6's grammar.
func Parse(s string, defaultPort uint16) (Name, error) {
	switch {
	case s == "" || s == "*" || s == "0":
		return Name{kind: KindIPv4, anyHost: true, port: defaultPort}, nil
	case strings.HasPrefix(s, "unix:"):
		return parseUnix(s[len("unix:"):])
	case strings.HasPrefix(s, "["):
		return parseBracketedIPv6(s, defaultPort)
	}
	return parseHostPort(s, defaultPort)
}

func parseUnix(rest string) (Name, error) {
	if rest == "" {
		return Name{}, fmt.Errorf("%w: empty unix path", ErrBadLiteral)
	}
	parts := strings.SplitN(rest, ":", 2)
	n := Name{kind: KindUnix, path: parts[0]}
	if len(parts) == 2 {
		perm, err := parseSymbolicOrOctalMode(parts[1])
		if err != nil {
			return Name{}, err
		}
		n.perms = perm
	}
	return n, nil
}

// parseSymbolicOrOctalMode accepts an octal literal ("0644") or a symbolic
// u/g/o triple ("rwxr-xr-x"-shaped is not supported by the source grammar;
// the accepted symbolic form here is the compact "u=rw,g=r,o=r" style).
func parseSymbolicOrOctalMode(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseUint(s, 8, 32); err == nil {
		return uint32(v), nil
	}
	var mode uint32
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		kv := strings.SplitN(clause, "=", 2)
		if len(kv) != 2 {
			return 0, fmt.Errorf("%w: bad mode clause %q", ErrBadLiteral, clause)
		}
		var shift uint
		switch kv[0] {
		case "u":
			shift = 6
		case "g":
			shift = 3
		case "o":
			shift = 0
		default:
			return 0, fmt.Errorf("%w: bad mode class %q", ErrBadLiteral, kv[0])
		}
		var bits uint32
		for _, c := range kv[1] {
			switch c {
			case 'r':
				bits |= 4
			case 'w':
				bits |= 2
			case 'x':
				bits |= 1
			default:
				return 0, fmt.Errorf("%w: bad mode bit %q", ErrBadLiteral, c)
			}
		}
		mode |= bits << shift
	}
	return mode, nil
}

func parseBracketedIPv6(s string, defaultPort uint16) (Name, error) {
	end := strings.Index(s, "]")
	if end < 0 {
		return Name{}, fmt.Errorf("%w: unterminated IPv6 literal", ErrBadLiteral)
	}
	host := s[1:end]
	port := defaultPort
	if rest := s[end+1:]; strings.HasPrefix(rest, ":") {
		p, err := strconv.ParseUint(rest[1:], 10, 16)
		if err != nil {
			return Name{}, fmt.Errorf("%w: bad port %q", ErrBadLiteral, rest[1:])
		}
		port = uint16(p)
	}
	return ipv6Name(host, port)
}

func parseHostPort(s string, defaultPort uint16) (Name, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// bare host, no port — apply defaultPort
		return hostName(s, defaultPort)
	}
	port := defaultPort
	if portStr == "*" {
		port = 0
	} else if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Name{}, fmt.Errorf("%w: bad port %q", ErrBadLiteral, portStr)
		}
		port = uint16(p)
	}
	return hostName(host, port)
}

func hostName(host string, port uint16) (Name, error) {
	if host == "" || host == "*" || host == "0" {
		return Name{kind: KindIPv4, anyHost: true, port: port}, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			var n Name
			n.kind = KindIPv4
			copy(n.addr4[:], v4)
			n.port = port
			return n, nil
		}
		return ipv6Name(host, port)
	}
	// A hostname is not resolved here: the result is a KindError Name
	// that points the caller at ResolveHost.
	return Name{kind: KindError, cause: fmt.Errorf("peer: %q is a hostname, call ResolveHost instead", host)}, nil
}

func ipv6Name(host string, port uint16) (Name, error) {
	zone := ""
	if i := strings.IndexByte(host, '%'); i >= 0 {
		zone = host[i+1:]
		host = host[:i]
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() != nil {
		return Name{}, fmt.Errorf("%w: bad IPv6 literal %q", ErrBadLiteral, host)
	}
	var n Name
	n.kind = KindIPv6
	copy(n.addr6[:], ip.To16())
	n.port = port
	if zone != "" {
		if zoneID, err := strconv.ParseUint(zone, 10, 32); err == nil {
			n.scopeID = uint32(zoneID)
		}
	}
	return n, nil
}

// ResolveHost resolves a bare hostname (no brackets, no unix: prefix) via
// the system resolver, returning one Name per returned address.
func ResolveHost(ctx context.Context, host string, port uint16) ([]Name, error) {
	r := net.DefaultResolver
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("peer: resolve %q: %w", host, err)
	}
	out := make([]Name, 0, len(addrs))
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			var n Name
			n.kind = KindIPv4
			copy(n.addr4[:], v4)
			n.port = port
			out = append(out, n)
			continue
		}
		var n Name
		n.kind = KindIPv6
		copy(n.addr6[:], a.IP.To16())
		n.port = port
		if a.Zone != "" {
			if zoneID, err := strconv.ParseUint(a.Zone, 10, 32); err == nil {
				n.scopeID = uint32(zoneID)
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// Network returns the net.Dial-style network string for this Name's kind.
func (n Name) Network() string {
	switch n.kind {
	case KindIPv4, KindIPv6:
		return "tcp"
	case KindUnix:
		return "unix"
	default:
		return ""
	}
}

// Address renders the string accepted by net.Dial/net.Listen for this Name.
func (n Name) Address() string {
	switch n.kind {
	case KindUnix:
		return n.path
	case KindIPv4:
		host := "0.0.0.0"
		if !n.anyHost {
			host = n.IP().String()
		}
		return net.JoinHostPort(host, portString(n.port, n.anyPort))
	case KindIPv6:
		return net.JoinHostPort(n.IP().String(), portString(n.port, n.anyPort))
	default:
		return ""
	}
}

func portString(port uint16, any bool) string {
	if any || port == 0 {
		return "0"
	}
	return strconv.Itoa(int(port))
}
