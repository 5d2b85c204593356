package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		query Values
		want  string
	}{
		{"empty", Values{}, ""},
		{"nil", nil, ""},
		{"scalar", Values{"status": Scalar("open")}, "status=open"},
		{"array brackets", Values{"tag": Array("a", "b")}, "tag[]=a&tag[]=b"},
		{"sorted keys", Values{"b": Scalar("2"), "a": Scalar("1")}, "a=1&b=2"},
		{"empty array omitted", Values{"tag": Array(), "q": Scalar("x")}, "q=x"},
		{"space as %20", Values{"q": Scalar("a b")}, "q=a%20b"},
		{"reserved characters escaped", Values{"q": Scalar("a&b=c")}, "q=a%26b%3Dc"},
		{"empty scalar", Values{"q": Scalar("")}, "q="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.query))
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Values
	}{
		{"empty", "", Values{}},
		{"leading question mark", "?a=1", Values{"a": Scalar("1")}},
		{"brackets", "tag[]=a&tag[]=b", Values{"tag": Array("a", "b")}},
		{"encoded brackets", "tag%5B%5D=a", Values{"tag": Array("a")}},
		{"repeated scalar becomes array", "a=1&a=2", Values{"a": Array("1", "2")}},
		{"key without value", "flag", Values{"flag": Scalar("")}},
		{"plus as space", "q=a+b", Values{"q": Scalar("a b")}},
		{"bad escape kept", "q=%zz", Values{"q": Scalar("%zz")}},
		{"empty parts skipped", "a=1&&b=2", Values{"a": Scalar("1"), "b": Scalar("2")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.raw))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	queries := []Values{
		{"status": Scalar("open")},
		{"tag": Array("a", "b"), "page": Scalar("2")},
		{"one": Array("x")},
		{"q": Scalar("hello world & more"), "ids": Array("1", "2", "3")},
	}

	for _, q := range queries {
		assert.Equal(t, q, Decode(Encode(q)))
	}
}

func TestRoundTrip_LossyEdges(t *testing.T) {
	empty := Values{"tag": Array()}
	assert.Equal(t, "", Encode(empty))
	assert.Equal(t, Values{}, Decode(Encode(empty)))

	bracketKey := Values{"a[]": Scalar("x")}
	assert.Equal(t, Values{"a": Array("x")}, Decode(Encode(bracketKey)))
}

func TestFromURLValues(t *testing.T) {
	got := FromURLValues(url.Values{"a": {"1"}, "b": {"1", "2"}})
	assert.Equal(t, Values{"a": Scalar("1"), "b": Array("1", "2")}, got)
}

func TestValue(t *testing.T) {
	v := Array("x", "y")
	assert.True(t, v.IsArray())
	assert.Equal(t, "x", v.String())
	assert.Equal(t, []string{"x", "y"}, v.Strings())
	assert.Equal(t, "", Value{}.String())

	q := Values{"k": Scalar("v")}
	assert.Equal(t, "v", q.Get("k"))
	assert.Equal(t, "", q.Get("missing"))
}
