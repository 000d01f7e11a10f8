package stream

import "testing"

func TestKMPBasicMatch(t *testing.T) {
	k, err := NewKMP([]byte("abab"))
	if err != nil {
		t.Fatal(err)
	}
	input := "xxabababy"
	matchedAt := -1
	for i, b := range []byte(input) {
		if k.Feed(b) {
			matchedAt = i
			break
		}
	}
	if matchedAt != 5 {
		t.Fatalf("expected match at index 5, got %d", matchedAt)
	}
}

// TestKMPSplitHeaderTerminator mirrors spec.md §8 scenario 6: pattern
// "\r\n\r\n" over "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r" then
// "\n\r\nTest".
func TestKMPSplitHeaderTerminator(t *testing.T) {
	k, err := NewKMP([]byte("\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	frag1 := "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r"
	frag2 := "\n\r\nTest"

	pos := 0
	matched := false
	var matchGlobalIdx int
	for _, b := range []byte(frag1) {
		if k.Feed(b) {
			matched = true
			matchGlobalIdx = pos
		}
		pos++
	}
	var tailStart int
	if !matched {
		for i, b := range []byte(frag2) {
			if k.Feed(b) {
				matched = true
				matchGlobalIdx = pos
				tailStart = i + 1
				break
			}
			pos++
		}
	}
	if !matched {
		t.Fatal("expected match across fragments")
	}
	if matchGlobalIdx != 44 {
		t.Fatalf("expected global match end position 44, got %d", matchGlobalIdx)
	}
	tail := frag2[tailStart:]
	if tail != "Test" {
		t.Fatalf("expected unconsumed tail %q, got %q", "Test", tail)
	}
}

func TestKMPRejectsOversizedPattern(t *testing.T) {
	big := make([]byte, MaxPatternLen+1)
	if _, err := NewKMP(big); err == nil {
		t.Fatal("expected error for oversized pattern")
	}
}
