package router

import (
	"testing"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

func TestFilterLanguage(t *testing.T) {
	cases := []struct {
		expr  string
		req   Request
		match bool
	}{
		{``, Request{}, true},
		{`dec_id == "a"`, Request{DecId: "a"}, true},
		{`dec_id == "a"`, Request{DecId: "b"}, false},
		{`dec_id != "a"`, Request{DecId: "b"}, true},
		{`obj_type == 5`, Request{ObjType: 5}, true},
		{`obj_type == 5`, Request{ObjType: 4}, false},
		{`req_path == "/app/*"`, Request{ReqPath: "/app/data"}, true},
		{`req_path == "/app/*"`, Request{ReqPath: "/other/data"}, false},
		{`referer == "peer-1"`, Request{Referer: "peer-1"}, true},
		{`dec_id == "a" && obj_type == 5`, Request{DecId: "a", ObjType: 5}, true},
		{`dec_id == "a" && obj_type == 5`, Request{DecId: "a", ObjType: 4}, false},
		{`dec_id == "a" || dec_id == "b"`, Request{DecId: "b"}, true},
		{`dec_id == "a" && obj_type == 5 || referer == "r"`, Request{Referer: "r"}, true},
	}
	for _, c := range cases {
		f, err := CompileFilter(c.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", c.expr, err)
		}
		if got := f.Match(&c.req); got != c.match {
			t.Fatalf("%q on %+v: got %v, want %v", c.expr, c.req, got, c.match)
		}
	}
}

func TestFilterCompileErrors(t *testing.T) {
	for _, expr := range []string{
		`dec_id`,
		`unknown_field == "x"`,
		`dec_id == broken`,
	} {
		if _, err := CompileFilter(expr); err == nil {
			t.Fatalf("%q must not compile", expr)
		}
	}
}

// The put-object QA scenario: a PreRouter handler that accepts one
// specific dec-id's text object and answers NotSupport for the rest.
func TestPutObjectHandlerQA(t *testing.T) {
	r := New(nil)
	filter, err := CompileFilter(`dec_id == "qa-dec"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	err = r.AddHandler("tester", &Handler{
		Chain:    ChainPreRouter,
		Category: CategoryPutObject,
		Id:       "qa",
		Index:    0,
		Filter:   filter,
		Routine: func(req *Request) (Action, *Response) {
			if string(req.Data) == "matching text object" {
				return ActionResponse, &Response{}
			}
			return ActionResponse, &Response{Err: buckyerr.New(buckyerr.CodeUnSupport, "not the object we accept")}
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	out := r.Dispatch(ChainPreRouter, &Request{Category: CategoryPutObject, DecId: "qa-dec", Data: []byte("matching text object")})
	if out.Response == nil || out.Response.Err != nil {
		t.Fatalf("matching put must resolve accept, got %+v", out)
	}

	out = r.Dispatch(ChainPreRouter, &Request{Category: CategoryPutObject, DecId: "qa-dec", Data: []byte("some other object")})
	if out.Response == nil || out.Response.Err == nil || out.Response.Err.Code != buckyerr.CodeUnSupport {
		t.Fatalf("non-matching put must resolve UnSupport, got %+v", out)
	}

	// A put outside the dec-id filter passes through untouched.
	out = r.Dispatch(ChainPreRouter, &Request{Category: CategoryPutObject, DecId: "other-dec", Data: []byte("x")})
	if out.Response != nil || out.Dropped {
		t.Fatalf("unfiltered put must fall through, got %+v", out)
	}
}

func TestDispatchOrderAndActions(t *testing.T) {
	r := New(nil)
	var order []string
	add := func(id string, index int, action Action) {
		t.Helper()
		err := r.AddHandler("tester", &Handler{
			Chain:    ChainPostRouter,
			Category: CategoryGetObject,
			Id:       id,
			Index:    index,
			Routine: func(req *Request) (Action, *Response) {
				order = append(order, id)
				return action, nil
			},
		})
		if err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	add("third", 30, ActionResponse)
	add("first", 10, ActionPass)
	add("second", 20, ActionDefault)

	out := r.Dispatch(ChainPostRouter, &Request{Category: CategoryGetObject})
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("order %v", order)
	}
	if out.Response == nil {
		t.Fatalf("third handler must short-circuit")
	}

	// Reject yields a permission error.
	r2 := New(nil)
	_ = r2.AddHandler("tester", &Handler{Chain: ChainPreRouter, Category: CategoryAcl, Id: "deny", DefaultAction: ActionReject})
	out = r2.Dispatch(ChainPreRouter, &Request{Category: CategoryAcl})
	if out.Response == nil || out.Response.Err == nil || out.Response.Err.Code != buckyerr.CodePermissionDenied {
		t.Fatalf("reject outcome %+v", out)
	}

	// Drop is silent.
	r3 := New(nil)
	_ = r3.AddHandler("tester", &Handler{Chain: ChainNDN, Category: CategoryInterest, Id: "drop", DefaultAction: ActionDrop})
	out = r3.Dispatch(ChainNDN, &Request{Category: CategoryInterest})
	if !out.Dropped {
		t.Fatalf("drop outcome %+v", out)
	}
}

func TestRegistrationAclGating(t *testing.T) {
	r := New(func(source string, chain Chain, category Category) bool {
		return source == "trusted"
	})
	h := &Handler{Chain: ChainPreRouter, Category: CategoryPutObject, Id: "h"}
	if err := r.AddHandler("untrusted", h); err == nil {
		t.Fatalf("untrusted registration must be denied")
	}
	if err := r.AddHandler("trusted", h); err != nil {
		t.Fatalf("trusted registration: %v", err)
	}
}

func TestHandlerReplaceAndRemove(t *testing.T) {
	r := New(nil)
	hits := 0
	_ = r.AddHandler("t", &Handler{
		Chain: ChainPreRouter, Category: CategoryPutObject, Id: "h", Index: 1,
		Routine: func(*Request) (Action, *Response) { hits++; return ActionResponse, &Response{} },
	})
	// Same id replaces in place.
	_ = r.AddHandler("t", &Handler{
		Chain: ChainPreRouter, Category: CategoryPutObject, Id: "h", Index: 1,
		DefaultAction: ActionPass,
	})
	out := r.Dispatch(ChainPreRouter, &Request{Category: CategoryPutObject})
	if hits != 0 || out.Response != nil {
		t.Fatalf("replaced handler must not run")
	}

	if !r.RemoveHandler(ChainPreRouter, CategoryPutObject, "h") {
		t.Fatalf("remove must find the handler")
	}
	if r.RemoveHandler(ChainPreRouter, CategoryPutObject, "h") {
		t.Fatalf("second remove must miss")
	}
}
