package router

import (
	"path"
	"strconv"
	"strings"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// The filter language is a small predicate over request fields:
//
//	dec_id == "dec-a" && obj_type != 5
//	req_path == "/app/*" || referer == "peer-1"
//
// Fields: dec_id, obj_type, req_path, referer. Operators: == and != with
// string or integer literals, combined with && and || (&& binds
// tighter). req_path comparison is a glob match. An empty expression
// matches every request.
type Filter struct {
	expr string
	root filterNode
}

type filterNode interface {
	eval(req *Request) bool
}

type orNode struct{ terms []filterNode }

func (n *orNode) eval(req *Request) bool {
	for _, t := range n.terms {
		if t.eval(req) {
			return true
		}
	}
	return false
}

type andNode struct{ terms []filterNode }

func (n *andNode) eval(req *Request) bool {
	for _, t := range n.terms {
		if !t.eval(req) {
			return false
		}
	}
	return true
}

type cmpNode struct {
	field  string
	negate bool
	str    string
	num    uint64
	isNum  bool
}

func (n *cmpNode) eval(req *Request) bool {
	var match bool
	switch n.field {
	case "dec_id":
		match = req.DecId == n.str
	case "obj_type":
		match = n.isNum && uint64(req.ObjType) == n.num
	case "req_path":
		ok, err := path.Match(n.str, req.ReqPath)
		match = err == nil && ok
	case "referer":
		match = req.Referer == n.str
	}
	if n.negate {
		return !match
	}
	return match
}

// CompileFilter parses a filter expression. An empty string compiles to
// the match-everything filter.
func CompileFilter(expr string) (*Filter, error) {
	f := &Filter{expr: expr}
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return f, nil
	}
	root, err := parseOr(trimmed)
	if err != nil {
		return nil, err
	}
	f.root = root
	return f, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against a request.
func (f *Filter) Match(req *Request) bool {
	if f.root == nil {
		return true
	}
	return f.root.eval(req)
}

func parseOr(s string) (filterNode, error) {
	parts := strings.Split(s, "||")
	if len(parts) == 1 {
		return parseAnd(parts[0])
	}
	n := &orNode{}
	for _, p := range parts {
		term, err := parseAnd(p)
		if err != nil {
			return nil, err
		}
		n.terms = append(n.terms, term)
	}
	return n, nil
}

func parseAnd(s string) (filterNode, error) {
	parts := strings.Split(s, "&&")
	if len(parts) == 1 {
		return parseCmp(parts[0])
	}
	n := &andNode{}
	for _, p := range parts {
		term, err := parseCmp(p)
		if err != nil {
			return nil, err
		}
		n.terms = append(n.terms, term)
	}
	return n, nil
}

func parseCmp(s string) (filterNode, error) {
	s = strings.TrimSpace(s)
	var negate bool
	var lhs, rhs string
	if i := strings.Index(s, "!="); i >= 0 {
		negate = true
		lhs, rhs = s[:i], s[i+2:]
	} else if i := strings.Index(s, "=="); i >= 0 {
		lhs, rhs = s[:i], s[i+2:]
	} else {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "router: filter term %q has no comparison", s)
	}
	field := strings.TrimSpace(lhs)
	switch field {
	case "dec_id", "obj_type", "req_path", "referer":
	default:
		return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "router: unknown filter field %q", field)
	}
	lit := strings.TrimSpace(rhs)
	node := &cmpNode{field: field, negate: negate}
	if strings.HasPrefix(lit, "\"") && strings.HasSuffix(lit, "\"") && len(lit) >= 2 {
		node.str = lit[1 : len(lit)-1]
	} else if v, err := strconv.ParseUint(lit, 10, 64); err == nil {
		node.num = v
		node.isNum = true
	} else {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "router: bad filter literal %q", lit)
	}
	return node, nil
}
