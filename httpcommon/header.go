package httpcommon

import "strings"

// Header is the order-preserving, case-insensitive header map described
// in spec.md §4.N: "Sequence of (name_view, value_view) preserving input
// order with a secondary ASCII-lowercase-ordered index for lookup;
// duplicate keys allowed." Grounded on the teacher's hdr.Header
// (map[string][]string, canonical-cased keys) but restructured as an
// ordered slice plus a lowercase index, since the teacher's map discards
// the insertion order spec.md requires for the wire representation.
type Header struct {
	pairs []kv
	index map[string][]int // lowercase key -> indices into pairs, in order
}

type kv struct {
	name  string
	value string
}

// NewHeader returns an empty header map ready to Add into.
func NewHeader() *Header {
	return &Header{index: make(map[string][]int)}
}

func lowerKey(name string) string { return strings.ToLower(name) }

// Add appends name/value, preserving any prior entries for the same name
// (case-insensitively), per spec.md "duplicate keys allowed".
func (h *Header) Add(name, value string) {
	lk := lowerKey(name)
	h.index[lk] = append(h.index[lk], len(h.pairs))
	h.pairs = append(h.pairs, kv{name: name, value: value})
}

// Set replaces all existing values for name with a single value.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Get returns the first value for name, case-insensitively, or "" if
// absent.
func (h *Header) Get(name string) string {
	lk := lowerKey(name)
	idxs, ok := h.index[lk]
	if !ok || len(idxs) == 0 {
		return ""
	}
	return h.pairs[idxs[0]].value
}

// Values returns every value for name, in input order.
func (h *Header) Values(name string) []string {
	idxs := h.index[lowerKey(name)]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = h.pairs[idx].value
	}
	return out
}

// Has reports whether name is present, case-insensitively.
func (h *Header) Has(name string) bool {
	return len(h.index[lowerKey(name)]) > 0
}

// Del removes every value for name.
func (h *Header) Del(name string) {
	lk := lowerKey(name)
	idxs, ok := h.index[lk]
	if !ok {
		return
	}
	removed := make(map[int]bool, len(idxs))
	for _, idx := range idxs {
		removed[idx] = true
	}
	kept := h.pairs[:0]
	newIndex := make(map[string][]int, len(h.index))
	for i, p := range h.pairs {
		if removed[i] {
			continue
		}
		nk := lowerKey(p.name)
		newIndex[nk] = append(newIndex[nk], len(kept))
		kept = append(kept, p)
	}
	h.pairs = kept
	delete(h.index, lk)
	h.index = newIndex
}

// Range calls fn for every (name, value) pair in input order.
func (h *Header) Range(fn func(name, value string)) {
	for _, p := range h.pairs {
		fn(p.name, p.value)
	}
}

// Len returns the number of pairs (counting duplicates separately).
func (h *Header) Len() int { return len(h.pairs) }

// WriteTo renders the header block in wire format, one "Name: value\r\n"
// line per pair, input order preserved (no RFC 7230 header folding, per
// spec.md §6).
func (h *Header) WriteTo(sb *strings.Builder) {
	for _, p := range h.pairs {
		sb.WriteString(p.name)
		sb.WriteString(": ")
		sb.WriteString(p.value)
		sb.WriteString("\r\n")
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := NewHeader()
	c.pairs = append(c.pairs, h.pairs...)
	for k, v := range h.index {
		c.index[k] = append([]int(nil), v...)
	}
	return c
}
