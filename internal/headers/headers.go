// Package headers provides the ordered, case-insensitive header mapping used by
// the response builder. Callers holding headers as a list of pairs, a plain map
// or an http.Header convert them with FromPairs, FromMap or FromHTTP.
package headers

import (
	"net/http"
	"sort"
)

// Headers maps canonical header names to one or more values and remembers the
// order in which names were first inserted.
type Headers struct {
	keys   []string
	values map[string][]string
}

// New returns an empty mapping.
func New() *Headers {
	return &Headers{values: make(map[string][]string)}
}

// FromPairs builds headers from name/value pairs. Repeated names accumulate values.
func FromPairs(pairs [][2]string) *Headers {
	h := New()
	for _, pair := range pairs {
		h.Add(pair[0], pair[1])
	}
	return h
}

// FromMap builds headers from a plain map. Names are inserted in sorted order
// since map iteration order is random.
func FromMap(m map[string]string) *Headers {
	h := New()
	for _, name := range sortedKeys(m) {
		h.Set(name, m[name])
	}
	return h
}

// FromHTTP builds headers from an http.Header, names in sorted order.
func FromHTTP(src http.Header) *Headers {
	h := New()
	for _, name := range sortedKeys(src) {
		for _, value := range src[name] {
			h.Add(name, value)
		}
	}
	return h
}

// Set replaces all values of name.
func (h *Headers) Set(name string, values ...string) {
	key := h.insert(name)
	h.values[key] = append([]string(nil), values...)
}

// Add appends a value to name.
func (h *Headers) Add(name, value string) {
	key := h.insert(name)
	h.values[key] = append(h.values[key], value)
}

func (h *Headers) insert(name string) string {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	key := http.CanonicalHeaderKey(name)
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	return key
}

// Del removes name and all its values.
func (h *Headers) Del(name string) {
	if h == nil {
		return
	}
	key := http.CanonicalHeaderKey(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Get returns the first value of name, or "" if it is not set.
func (h *Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	values := h.values[http.CanonicalHeaderKey(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns a copy of all values of name.
func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	values := h.values[http.CanonicalHeaderKey(name)]
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

// Has reports whether name is set.
func (h *Headers) Has(name string) bool {
	if h == nil {
		return false
	}
	_, ok := h.values[http.CanonicalHeaderKey(name)]
	return ok
}

// Len returns the number of distinct names.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Keys returns the canonical names in insertion order.
func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.keys...)
}

// Pairs flattens the mapping into name/value pairs, one per value.
func (h *Headers) Pairs() [][2]string {
	if h == nil {
		return nil
	}
	pairs := make([][2]string, 0, len(h.keys))
	for _, key := range h.keys {
		for _, value := range h.values[key] {
			pairs = append(pairs, [2]string{key, value})
		}
	}
	return pairs
}

// Map returns the first value of every name.
func (h *Headers) Map() map[string]string {
	m := make(map[string]string, h.Len())
	if h == nil {
		return m
	}
	for _, key := range h.keys {
		if values := h.values[key]; len(values) > 0 {
			m[key] = values[0]
		}
	}
	return m
}

// HTTP returns a copy as an http.Header.
func (h *Headers) HTTP() http.Header {
	out := make(http.Header, h.Len())
	if h == nil {
		return out
	}
	for _, key := range h.keys {
		out[key] = append([]string(nil), h.values[key]...)
	}
	return out
}

// Clone returns a deep copy. Cloning nil yields nil.
func (h *Headers) Clone() *Headers {
	if h == nil {
		return nil
	}
	out := &Headers{
		keys:   append([]string(nil), h.keys...),
		values: make(map[string][]string, len(h.values)),
	}
	for key, values := range h.values {
		out.values[key] = append([]string(nil), values...)
	}
	return out
}

// Merge copies every name of other into h, replacing existing values.
func (h *Headers) Merge(other *Headers) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		h.Set(key, other.values[key]...)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
