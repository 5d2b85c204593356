package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrTemplateResolution is returned when a template placeholder has no
// matching route parameter.
var ErrTemplateResolution = errors.New("template resolution failed")

// ErrMalformedTemplate is returned by Compile for unparsable templates.
var ErrMalformedTemplate = errors.New("malformed path template")

type tokenKind int

const (
	literal tokenKind = iota
	segment           // :name, one path segment
	splat             // *name, may span several segments
)

type token struct {
	kind  tokenKind
	value string // literal text or parameter name
}

// Template is a compiled route template such as "/users/:id",
// "/files/*path" or "/search/:kind?page&size". Names in the trailing
// query section are optional.
type Template struct {
	raw    string
	tokens []token
	query  []string
}

// Compile parses a route template.
func Compile(raw string) (*Template, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty template", ErrMalformedTemplate)
	}

	pathPart, queryPart, hasQuery := strings.Cut(raw, "?")
	t := &Template{raw: raw}
	seen := make(map[string]bool)

	var lit strings.Builder
	for i := 0; i < len(pathPart); {
		c := pathPart[i]
		if c != ':' && c != '*' {
			lit.WriteByte(c)
			i++
			continue
		}

		name := scanName(pathPart[i+1:])
		if name == "" {
			return nil, fmt.Errorf("%w: %q: missing parameter name at offset %d", ErrMalformedTemplate, raw, i)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %q: duplicate parameter %q", ErrMalformedTemplate, raw, name)
		}
		seen[name] = true

		if lit.Len() > 0 {
			t.tokens = append(t.tokens, token{kind: literal, value: lit.String()})
			lit.Reset()
		}
		kind := segment
		if c == '*' {
			kind = splat
		}
		t.tokens = append(t.tokens, token{kind: kind, value: name})
		i += 1 + len(name)
	}
	if lit.Len() > 0 {
		t.tokens = append(t.tokens, token{kind: literal, value: lit.String()})
	}

	if hasQuery {
		for _, name := range strings.Split(queryPart, "&") {
			if name == "" || scanName(name) != name {
				return nil, fmt.Errorf("%w: %q: invalid query parameter %q", ErrMalformedTemplate, raw, name)
			}
			if seen[name] {
				return nil, fmt.Errorf("%w: %q: duplicate parameter %q", ErrMalformedTemplate, raw, name)
			}
			seen[name] = true
			t.query = append(t.query, name)
		}
	}

	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(raw string) *Template {
	t, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// Build interpolates params into the template. Every path placeholder must
// have a parameter; query-section names are emitted only when present.
func (t *Template) Build(params map[string]string) (string, error) {
	var b strings.Builder
	for _, tok := range t.tokens {
		switch tok.kind {
		case literal:
			b.WriteString(tok.value)
		case segment, splat:
			v, ok := params[tok.value]
			if !ok {
				return "", fmt.Errorf("%w: %q requires parameter %q", ErrTemplateResolution, t.raw, tok.value)
			}
			if tok.kind == segment {
				b.WriteString(url.PathEscape(v))
			} else {
				b.WriteString(escapeSplat(v))
			}
		}
	}

	sep := byte('?')
	for _, name := range t.query {
		v, ok := params[name]
		if !ok {
			continue
		}
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(url.QueryEscape(v), "+", "%20"))
	}

	return b.String(), nil
}

func escapeSplat(v string) string {
	parts := strings.Split(v, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func scanName(s string) string {
	n := 0
	for n < len(s) && isNameByte(s[n]) {
		n++
	}
	return s[:n]
}

func isNameByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
