package stream

import "bytes"

// ReadUntil implements spec.md §4.I: it appends to dst until sep is found
// in the stream, consumes sep (sep itself is never appended to dst), and
// reports true. It reports false on EOF, on a recoverable timeout (check
// s.IsReadTimeout()), or once limit bytes (if limit > 0) have been
// consumed without a match. Any bytes read past the end of sep within the
// same underlying fragment are handed back via s.PutBack, so the next
// Read resumes exactly after the delimiter.
func ReadUntil(s Stream, dst *bytes.Buffer, sep []byte, limit int) (bool, error) {
	k, err := NewKMP(sep)
	if err != nil {
		return false, err
	}
	var pending []byte
	total := 0
	for {
		frag, ferr := s.Read()
		if ferr != nil {
			return false, ferr
		}
		if len(frag) == 0 {
			return false, nil
		}
		for i := 0; i < len(frag); i++ {
			b := frag[i]
			total++
			if limit > 0 && total > limit {
				return false, nil
			}
			matched := k.Feed(b)
			if matched {
				if i+1 < len(frag) {
					s.PutBack(frag[i+1:])
				}
				return true, nil
			}
			newState := k.Matched()
			candidate := append(pending, b)
			commitLen := len(candidate) - newState
			if commitLen > 0 {
				dst.Write(candidate[:commitLen])
			}
			pending = append(pending[:0], candidate[commitLen:]...)
		}
	}
}

// ReadBlock implements spec.md §4.I: reads exactly n bytes, buffering
// across underlying fragment boundaries, or returns fewer than n bytes on
// EOF/timeout (distinguish via s.IsReadTimeout()). Any bytes read past the
// n-th are put back.
func ReadBlock(s Stream, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		frag, err := s.Read()
		if err != nil {
			return buf, err
		}
		if len(frag) == 0 {
			return buf, nil
		}
		need := n - len(buf)
		if len(frag) > need {
			buf = append(buf, frag[:need]...)
			s.PutBack(frag[need:])
		} else {
			buf = append(buf, frag...)
		}
	}
	return buf, nil
}

// ReadByte is the character_io.h-derived single-byte convenience named in
// SPEC_FULL.md §4: it is read_block(1) with a simpler return shape.
func ReadByte(s Stream) (byte, bool, error) {
	b, err := ReadBlock(s, 1)
	if err != nil {
		return 0, false, err
	}
	if len(b) == 0 {
		return 0, false, nil
	}
	return b[0], true, nil
}

// UnreadByte puts a single byte back for the next Read, the counterpart to
// ReadByte.
func UnreadByte(s Stream, b byte) {
	s.PutBack([]byte{b})
}
