package httpcommon

import (
	"net/url"
	"sort"
	"strings"
)

// QueryParam is one decoded key/value pair from a request's query string.
type QueryParam struct {
	Key   string
	Value string
}

// Query is spec.md §4.N's "flat key/value list sorted by key"; unlike
// httpcommon.Header it does not keep the overall insertion order, only a
// stable key sort (pairs sharing a key stay in query-string order),
// matching the original's simpler grammar (a path has one query string,
// not an ordered header block). Per SPEC_FULL.md §2, the
// URL-decoding itself is delegated to stdlib net/url (spec.md §1 lists a
// URL helper as an out-of-scope external collaborator) rather than the
// teacher's hand-rolled url/ package.
type Query struct {
	params []QueryParam
}

// ParseQuery decodes a raw query string (without the leading '?') into a
// Query sorted by key.
func ParseQuery(raw string) (*Query, error) {
	q := &Query{}
	for _, piece := range strings.Split(raw, "&") {
		if piece == "" {
			continue
		}
		var key, value string
		if i := strings.IndexByte(piece, '='); i >= 0 {
			key, value = piece[:i], piece[i+1:]
		} else {
			key = piece
		}
		dk, err := url.QueryUnescape(key)
		if err != nil {
			return nil, err
		}
		dv, err := url.QueryUnescape(value)
		if err != nil {
			return nil, err
		}
		q.params = append(q.params, QueryParam{Key: dk, Value: dv})
	}
	sort.SliceStable(q.params, func(i, j int) bool { return q.params[i].Key < q.params[j].Key })
	return q, nil
}

// Get returns the first value for key, and whether it was present.
func (q *Query) Get(key string) (string, bool) {
	// params is sorted by key; a linear scan is fine at expected query
	// sizes and keeps this independent of a second index structure.
	for _, p := range q.params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// All returns every decoded pair, sorted by key.
func (q *Query) All() []QueryParam { return q.params }

// SplitPathQuery splits "path?query" into its two components; query is ""
// if there was no '?'.
func SplitPathQuery(target string) (path, query string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}
