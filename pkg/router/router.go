// Package router implements the request-interception pipeline that
// wraps every object operation: named chains of handlers keyed by
// request category, dispatched smallest-index-first, each able to pass,
// observe, answer, reject, or drop the request.
package router

import (
	"sort"
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// Chain names a pipeline position.
type Chain string

const (
	ChainPreRouter  Chain = "pre-router"
	ChainPostRouter Chain = "post-router"
	ChainNDN        Chain = "ndn"
)

// Category matches one request shape.
type Category string

const (
	CategoryPutObject    Category = "put-object"
	CategoryGetObject    Category = "get-object"
	CategoryPostObject   Category = "post-object"
	CategorySelectObject Category = "select-object"
	CategoryDeleteObject Category = "delete-object"
	CategoryPutData      Category = "put-data"
	CategoryGetData      Category = "get-data"
	CategoryDeleteData   Category = "delete-data"
	CategorySignObject   Category = "sign-object"
	CategoryVerifyObject Category = "verify-object"
	CategoryEncryptData  Category = "encrypt-data"
	CategoryDecryptData  Category = "decrypt-data"
	CategoryAcl          Category = "acl"
	CategoryInterest     Category = "interest"
)

// Action is a handler routine's verdict.
type Action int

const (
	// ActionPass continues the chain with the request unchanged.
	ActionPass Action = iota
	// ActionDefault continues the chain; the handler was an observer.
	ActionDefault
	// ActionResponse short-circuits with the routine's response.
	ActionResponse
	// ActionReject short-circuits with a permission error.
	ActionReject
	// ActionDrop silently discards the request.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionDefault:
		return "default"
	case ActionResponse:
		return "response"
	case ActionReject:
		return "reject"
	case ActionDrop:
		return "drop"
	default:
		return "invalid"
	}
}

// Request is the field set the chain dispatches and filters on.
type Request struct {
	Category Category

	ObjectId objectid.ObjectId
	Object   *objectcodec.Object
	Data     []byte

	DecId   string
	ObjType objectid.ObjType
	ReqPath string
	Referer string

	// Source identifies the requesting device/principal for
	// access-control decisions.
	Source string
}

// Response is a short-circuit answer: either an error or a payload.
type Response struct {
	Err    *buckyerr.Error
	Object *objectcodec.Object
	Data   []byte
}

// Routine is a handler body. A nil routine means the handler's default
// action applies unconditionally.
type Routine func(req *Request) (Action, *Response)

// Handler is one registered entry.
type Handler struct {
	Chain         Chain
	Category      Category
	Id            string
	Index         int
	Filter        *Filter
	DefaultAction Action
	Routine       Routine
}

// RegistrationAcl approves or denies a handler registration by the
// registering caller's source identity.
type RegistrationAcl func(source string, chain Chain, category Category) bool

// DispatchOutcome is the chain's final verdict on a request.
type DispatchOutcome struct {
	// Dropped is set when a handler silently discarded the request.
	Dropped bool
	// Response is non-nil when a handler short-circuited.
	Response *Response
}

// Router holds the handler tables for every (chain, category) pair.
type Router struct {
	mu       sync.Mutex
	handlers map[Chain]map[Category][]*Handler
	acl      RegistrationAcl
}

// New creates a router. A nil acl allows every registration.
func New(acl RegistrationAcl) *Router {
	return &Router{
		handlers: make(map[Chain]map[Category][]*Handler),
		acl:      acl,
	}
}

// AddHandler registers a handler, gated by the access-control check
// against the registering caller's source identity. Registering an id
// that already exists on the same (chain, category) replaces it.
func (r *Router) AddHandler(source string, h *Handler) error {
	if h.Id == "" {
		return buckyerr.New(buckyerr.CodeInvalidParam, "router: handler needs an id")
	}
	if h.Filter == nil {
		h.Filter = &Filter{}
	}
	if r.acl != nil && !r.acl(source, h.Chain, h.Category) {
		return buckyerr.Newf(buckyerr.CodePermissionDenied, "router: %s may not register on %s/%s", source, h.Chain, h.Category)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byCat, ok := r.handlers[h.Chain]
	if !ok {
		byCat = make(map[Category][]*Handler)
		r.handlers[h.Chain] = byCat
	}
	list := byCat[h.Category]
	for i, existing := range list {
		if existing.Id == h.Id {
			list[i] = h
			byCat[h.Category] = list
			return nil
		}
	}
	list = append(list, h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	byCat[h.Category] = list
	return nil
}

// RemoveHandler unregisters by id.
func (r *Router) RemoveHandler(chain Chain, category Category, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[chain][category]
	for i, h := range list {
		if h.Id == id {
			r.handlers[chain][category] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch runs a request through one chain. Handlers whose filter
// matches run smallest-index-first; the first Response/Reject/Drop wins.
// A chain where every handler passes or observes yields an empty
// outcome, telling the caller to proceed with its own default behavior.
func (r *Router) Dispatch(chain Chain, req *Request) DispatchOutcome {
	r.mu.Lock()
	list := append([]*Handler(nil), r.handlers[chain][req.Category]...)
	r.mu.Unlock()

	for _, h := range list {
		if !h.Filter.Match(req) {
			continue
		}
		action := h.DefaultAction
		var resp *Response
		if h.Routine != nil {
			action, resp = h.Routine(req)
		}
		switch action {
		case ActionPass, ActionDefault:
			continue
		case ActionResponse:
			if resp == nil {
				resp = &Response{}
			}
			return DispatchOutcome{Response: resp}
		case ActionReject:
			return DispatchOutcome{Response: &Response{
				Err: buckyerr.Newf(buckyerr.CodePermissionDenied, "router: rejected by handler %s", h.Id),
			}}
		case ActionDrop:
			return DispatchOutcome{Dropped: true}
		}
	}
	return DispatchOutcome{}
}
