// Package rewrite turns an inbound request into the upstream path, either
// from a route template or from a caller-supplied function.
package rewrite

import (
	"strings"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/query"
)

// Rule produces the upstream path (including query string) for a request.
type Rule interface {
	Rewrite(req *model.ProxyRequest) (string, error)
}

// Func is a Rule that fully overrides path construction. Its result is
// used verbatim; the request query is not appended.
type Func func(req *model.ProxyRequest) string

// Rewrite implements Rule.
func (f Func) Rewrite(req *model.ProxyRequest) (string, error) {
	return f(req), nil
}

// Rewrite builds the template from the route params and appends the
// request query.
func (t *Template) Rewrite(req *model.ProxyRequest) (string, error) {
	path, err := t.Build(req.Params)
	if err != nil {
		return "", err
	}
	return JoinQuery(path, query.Encode(req.Query)), nil
}

// PassThrough returns the original request path with its query re-encoded.
func PassThrough(req *model.ProxyRequest) string {
	return JoinQuery(req.Path, query.Encode(req.Query))
}

// Path applies rule to req, falling back to PassThrough when rule is nil.
func Path(rule Rule, req *model.ProxyRequest) (string, error) {
	if rule == nil {
		return PassThrough(req), nil
	}
	return rule.Rewrite(req)
}

// JoinQuery appends an encoded query to path, using '&' when path already
// carries a query string.
func JoinQuery(path, encoded string) string {
	if encoded == "" {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + encoded
	}
	return path + "?" + encoded
}
