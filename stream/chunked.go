package stream

import (
	"errors"
)

// ErrInvalidChunk is raised by the chunked reader on malformed framing,
// per spec.md §4.G and the ProtocolError category of spec.md §7.
var ErrInvalidChunk = errors.New("stream: invalid chunked framing")

type chunkState int

const (
	stSize chunkState = iota
	stSizeCR
	stSizeLF
	stData
	stDataCR
	stDataLF
	stTermCR
	stTermLF
	stDone
)

// Chunked implements HTTP/1.1 "Transfer-Encoding: chunked" framing over an
// underlying Stream, per spec.md §4.G. Both directions are independent:
// the reader decodes chunk framing on Read, the writer encodes it on
// Write/WriteEOF. No chunk extensions are accepted (spec.md §9 records
// this as a deliberate strictness choice).
type Chunked struct {
	under Stream

	// reader side
	state   chunkState
	cur     []byte
	curPos  int
	size    int64
	readErr error
	eof     bool

	// writer side
	eofSent bool

	readTimeoutFlag bool
}

// NewChunked wraps under with chunked framing on both directions.
func NewChunked(under Stream) *Chunked {
	return &Chunked{under: under}
}

func (c *Chunked) Timeouts() Timeouts     { return c.under.Timeouts() }
func (c *Chunked) SetTimeouts(t Timeouts) { c.under.SetTimeouts(t) }
func (c *Chunked) Shutdown() error        { return c.under.Shutdown() }

// IsReadTimeout reports whether the last empty Read was a recoverable
// timeout. Refreshed on every Read.
func (c *Chunked) IsReadTimeout() bool { return c.readTimeoutFlag }

// PutBack is not meaningful once chunk framing has started being consumed
// mid-chunk in a way the caller could replay; it delegates to the
// underlying stream for the common "whole fragment unread" case.
func (c *Chunked) PutBack(b []byte) {
	// Reinsert in front of any bytes already pulled for decoding.
	if c.curPos > 0 || len(c.cur) > 0 {
		merged := make([]byte, 0, len(b)+len(c.cur)-c.curPos)
		merged = append(merged, b...)
		merged = append(merged, c.cur[c.curPos:]...)
		c.cur = merged
		c.curPos = 0
		return
	}
	c.under.PutBack(b)
}

func (c *Chunked) fill() bool {
	if c.curPos < len(c.cur) {
		return true
	}
	b, err := c.under.Read()
	c.readTimeoutFlag = c.under.IsReadTimeout()
	c.readErr = err
	if err != nil || len(b) == 0 {
		return false
	}
	c.cur = b
	c.curPos = 0
	return true
}

// Read decodes and returns the next lazily-yielded fragment of chunk data.
func (c *Chunked) Read() ([]byte, error) {
	c.readTimeoutFlag = false
	for {
		switch c.state {
		case stDone:
			return nil, nil
		case stData:
			if c.size == 0 {
				c.state = stDataCR
				continue
			}
			if !c.fill() {
				if c.readErr != nil {
					return nil, c.readErr
				}
				return nil, nil
			}
			avail := int64(len(c.cur) - c.curPos)
			n := c.size
			if avail < n {
				n = avail
			}
			frag := c.cur[c.curPos : c.curPos+int(n)]
			c.curPos += int(n)
			c.size -= n
			return frag, nil
		default:
			if !c.fill() {
				if c.readErr != nil {
					return nil, c.readErr
				}
				return nil, nil
			}
			b := c.cur[c.curPos]
			c.curPos++
			if err := c.step(b); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Chunked) step(b byte) error {
	switch c.state {
	case stSize:
		switch {
		case isHex(b):
			v, err := hexVal(b)
			if err != nil {
				return err
			}
			c.size = c.size*16 + v
			return nil
		case b == '\r':
			c.state = stSizeCR
			return nil
		default:
			return ErrInvalidChunk
		}
	case stSizeCR:
		if b != '\n' {
			return ErrInvalidChunk
		}
		if c.size == 0 {
			c.state = stTermCR
		} else {
			c.state = stData
		}
		return nil
	case stDataCR:
		if b != '\r' {
			return ErrInvalidChunk
		}
		c.state = stDataLF
		return nil
	case stDataLF:
		if b != '\n' {
			return ErrInvalidChunk
		}
		c.size = 0
		c.state = stSize
		return nil
	case stTermCR:
		if b != '\r' {
			return ErrInvalidChunk
		}
		c.state = stTermLF
		return nil
	case stTermLF:
		if b != '\n' {
			return ErrInvalidChunk
		}
		// Chunked stream is finished; hand back anything already pulled
		// from the underlying stream beyond the terminator so the raw
		// stream's next Read sees it, per spec.md §8.
		if c.curPos < len(c.cur) {
			c.under.PutBack(c.cur[c.curPos:])
		}
		c.cur = nil
		c.curPos = 0
		c.state = stDone
		return nil
	}
	return ErrInvalidChunk
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) (int64, error) {
	switch {
	case b >= '0' && b <= '9':
		return int64(b - '0'), nil
	case b >= 'a' && b <= 'f':
		return int64(b-'a') + 10, nil
	case b >= 'A' && b <= 'F':
		return int64(b-'A') + 10, nil
	default:
		return 0, ErrInvalidChunk
	}
}

// ReadNB is not meaningfully non-blocking for a multi-byte state machine
// layered on a possibly-suspending underlying Read, so it only surfaces
// bytes already parsed into the current data fragment.
func (c *Chunked) ReadNB() []byte {
	if c.state == stData && c.curPos < len(c.cur) {
		n := c.size
		avail := int64(len(c.cur) - c.curPos)
		if avail < n {
			n = avail
		}
		frag := c.cur[c.curPos : c.curPos+int(n)]
		c.curPos += int(n)
		c.size -= n
		return frag
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// Write emits one chunk: hex(len) CRLF, data, CRLF.
func (c *Chunked) Write(p []byte) (bool, error) {
	if c.eofSent {
		return false, nil
	}
	if len(p) == 0 {
		return true, nil
	}
	header := formatChunkSize(len(p))
	buf := make([]byte, 0, len(header)+2+len(p)+2)
	buf = append(buf, header...)
	buf = append(buf, '\r', '\n')
	buf = append(buf, p...)
	buf = append(buf, '\r', '\n')
	return c.under.Write(buf)
}

func formatChunkSize(n int) []byte {
	if n == 0 {
		return []byte{'0'}
	}
	var tmp [16]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = hexDigits[n&0xf]
		n >>= 4
	}
	return tmp[i:]
}

// WriteEOF emits the terminating "0\r\n\r\n" chunk, idempotently.
func (c *Chunked) WriteEOF() (bool, error) {
	if c.eofSent {
		return false, nil
	}
	c.eofSent = true
	return c.under.Write([]byte("0\r\n\r\n"))
}

// Close shuts down the underlying stream if WriteEOF was never sent,
// matching spec.md §4.G "cannot leave the peer waiting".
func (c *Chunked) Close() error {
	if !c.eofSent {
		return c.under.Shutdown()
	}
	return nil
}
