// Package header provides an ordered, case-preserving HTTP header multimap.
//
// net/http.Header canonicalizes field names and keeps values in an unordered
// map, which is fine on the wire but loses information the cache metadata
// store must persist verbatim. Header keeps entries in insertion order with
// their original spelling while lookups stay case-insensitive.
package header

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type entry struct {
	name  string
	value string
}

// Header is an ordered multimap of HTTP header fields.
// The zero value is ready to use. Header is not safe for concurrent
// mutation; Request and Response expose it as an immutable snapshot.
type Header struct {
	entries []entry
}

// New returns an empty Header.
func New() *Header {
	return &Header{}
}

// Add appends a field, preserving the given name spelling and order.
func (h *Header) Add(name, value string) {
	h.entries = append(h.entries, entry{name: name, value: value})
}

// Set replaces all fields matching name (case-insensitive) with a single
// field carrying value. The replacement keeps the position and name spelling
// of the first occurrence, or appends under name if it was not present.
func (h *Header) Set(name, value string) {
	idx := -1
	out := h.entries[:0]
	for _, e := range h.entries {
		if strings.EqualFold(e.name, name) {
			if idx < 0 {
				idx = len(out)
				out = append(out, entry{name: e.name, value: value})
			}
			continue
		}
		out = append(out, e)
	}
	if idx < 0 {
		out = append(out, entry{name: name, value: value})
	}
	h.entries = out
}

// Get returns the value of the first field matching name, or "" if absent.
func (h *Header) Get(name string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.name, name) {
			return e.value
		}
	}
	return ""
}

// Has reports whether a field matching name exists.
func (h *Header) Has(name string) bool {
	for _, e := range h.entries {
		if strings.EqualFold(e.name, name) {
			return true
		}
	}
	return false
}

// Values returns all values for name in insertion order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, e := range h.entries {
		if strings.EqualFold(e.name, name) {
			out = append(out, e.value)
		}
	}
	return out
}

// Del removes all fields matching name.
func (h *Header) Del(name string) {
	out := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.name, name) {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Len returns the number of fields, counting repeats.
func (h *Header) Len() int {
	return len(h.entries)
}

// Names returns the distinct field names in first-occurrence order,
// with their original spelling.
func (h *Header) Names() []string {
	var out []string
	for _, e := range h.entries {
		dup := false
		for _, n := range out {
			if strings.EqualFold(n, e.name) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e.name)
		}
	}
	return out
}

// Range calls fn for each field in order. fn returning false stops the walk.
func (h *Header) Range(fn func(name, value string) bool) {
	for _, e := range h.entries {
		if !fn(e.name, e.value) {
			return
		}
	}
}

// Clone returns a deep copy. Clone of nil returns an empty Header.
func (h *Header) Clone() *Header {
	c := &Header{}
	if h == nil {
		return c
	}
	c.entries = append(c.entries, h.entries...)
	return c
}

// ToHTTP converts to a net/http.Header for the wire boundary.
func (h *Header) ToHTTP() http.Header {
	out := http.Header{}
	for _, e := range h.entries {
		out.Add(e.name, e.value)
	}
	return out
}

// FromHTTP builds a Header from a net/http.Header. Field order within a name
// is preserved; order across names follows http.Header map iteration and is
// therefore not stable, which is acceptable at the wire boundary.
func FromHTTP(src http.Header) *Header {
	h := &Header{}
	for name, values := range src {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

// MarshalJSON encodes the header as an array of [name, value] pairs so the
// metadata store round-trips case and order exactly.
func (h *Header) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(h.entries))
	for _, e := range h.entries {
		pairs = append(pairs, [2]string{e.name, e.value})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes the [name, value] pair encoding.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("header: decode failed: %w", err)
	}
	h.entries = h.entries[:0]
	for _, p := range pairs {
		h.Add(p[0], p[1])
	}
	return nil
}

// String renders the fields as wire lines, for logs and tests.
func (h *Header) String() string {
	var b strings.Builder
	for _, e := range h.entries {
		b.WriteString(e.name)
		b.WriteString(": ")
		b.WriteString(e.value)
		b.WriteString("\r\n")
	}
	return b.String()
}
