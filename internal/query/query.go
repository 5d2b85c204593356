// Package query encodes and decodes URL query strings using bracket
// notation for array values (key[]=a&key[]=b).
package query

import (
	"net/url"
	"sort"
	"strings"
)

const arraySuffix = "[]"

// Value is a single query parameter value: either a scalar string or an
// ordered list of strings.
type Value struct {
	items []string
	array bool
}

// Scalar returns a scalar Value.
func Scalar(s string) Value {
	return Value{items: []string{s}}
}

// Array returns an array Value holding vs in order.
func Array(vs ...string) Value {
	items := make([]string, len(vs))
	copy(items, vs)
	return Value{items: items, array: true}
}

// IsArray reports whether v encodes with bracket notation.
func (v Value) IsArray() bool { return v.array }

// Strings returns all items of v.
func (v Value) Strings() []string { return v.items }

// String returns the scalar value, or the first item of an array.
func (v Value) String() string {
	if len(v.items) == 0 {
		return ""
	}
	return v.items[0]
}

// Values maps parameter names to their values.
type Values map[string]Value

// Get returns the first value for key, or "".
func (q Values) Get(key string) string {
	return q[key].String()
}

// add appends s under key. A scalar that receives a second value is
// promoted to an array.
func (q Values) add(key, s string, array bool) {
	cur, ok := q[key]
	if !ok {
		if array {
			q[key] = Array(s)
		} else {
			q[key] = Scalar(s)
		}
		return
	}
	cur.items = append(cur.items, s)
	cur.array = true
	q[key] = cur
}

// Encode renders q as a query string without the leading '?'. Keys are
// sorted and an empty mapping yields "".
//
// Decode(Encode(q)) equals q except in two cases. Empty arrays are omitted,
// so the key is gone after decoding. A scalar whose key already ends in
// "[]" is written as an array entry and decodes as an array under the key
// without the suffix.
func Encode(q Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := q[k]
		name := escape(k)
		if v.array {
			name += arraySuffix
		}
		for _, item := range v.items {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(escape(item))
		}
	}
	return b.String()
}

// Decode parses raw (with or without a leading '?') into Values.
func Decode(raw string) Values {
	q := make(Values)
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return q
	}

	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		key = unescape(key)
		val = unescape(val)

		array := strings.HasSuffix(key, arraySuffix)
		if array {
			key = strings.TrimSuffix(key, arraySuffix)
		}
		q.add(key, val, array)
	}
	return q
}

// FromURLValues converts standard library query values. Single values
// become scalars, repeated values become arrays.
func FromURLValues(v url.Values) Values {
	q := make(Values, len(v))
	for k, vs := range v {
		if len(vs) == 1 {
			q[k] = Scalar(vs[0])
			continue
		}
		q[k] = Array(vs...)
	}
	return q
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func unescape(s string) string {
	u, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return u
}
