package httpclient

import (
	"strings"
	"testing"

	"coroserver/httpcommon"
)

func TestSendGetReadsResponse(t *testing.T) {
	s := newFakeStream("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	req := New(s, httpcommon.MethodGet, "example.com", "/path", "test-agent", "")
	if err := req.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if req.Status != 200 {
		t.Errorf("Status = %d, want 200", req.Status)
	}
	wire := string(s.allWritten())
	for _, want := range []string{"GET /path HTTP/1.1\r\n", "Host: example.com\r\n", "User-Agent: test-agent\r\n"} {
		if !strings.Contains(wire, want) {
			t.Errorf("request %q missing %q", wire, want)
		}
	}
	body := req.Body()
	got, err := readAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("body = %q, want hello", got)
	}
}

func TestBeginBodyChunkedWithoutContentLength(t *testing.T) {
	s := newFakeStream("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	req := New(s, httpcommon.MethodPost, "h", "/submit", "", "")
	body, err := req.BeginBody()
	if err != nil {
		t.Fatalf("BeginBody: %v", err)
	}
	if body == nil {
		t.Fatal("BeginBody returned nil stream for chunked framing")
	}
	if _, err := body.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	body.WriteEOF()
	wire := string(s.allWritten())
	if !strings.Contains(wire, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("headers %q missing Transfer-Encoding: chunked", wire)
	}
	if !strings.Contains(wire, "2\r\nhi\r\n0\r\n\r\n") {
		t.Errorf("wire %q missing chunked body framing", wire)
	}
}

// TestBeginBodyExpectContinueRejected mirrors spec.md §4.P: a non-100
// response to an Expect:100-continue BeginBody surfaces
// ErrRequestRejected and preserves the status for Send to report.
func TestBeginBodyExpectContinueRejected(t *testing.T) {
	s := newFakeStream("HTTP/1.1 417 Expectation Failed\r\n\r\n")
	req := New(s, httpcommon.MethodPost, "h", "/submit", "", "")
	req.SetHeader("Content-Length", "4")
	req.SetHeader("Expect", "100-continue")
	_, err := req.BeginBody()
	if err != ErrRequestRejected {
		t.Fatalf("err = %v, want ErrRequestRejected", err)
	}
	if req.Status != 417 {
		t.Errorf("Status = %d, want 417", req.Status)
	}
}

func readAll(s interface{ Read() ([]byte, error) }) ([]byte, error) {
	var out []byte
	for {
		b, err := s.Read()
		if err != nil {
			return out, err
		}
		if len(b) == 0 {
			return out, nil
		}
		out = append(out, b...)
	}
}
