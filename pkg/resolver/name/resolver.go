// Package name implements cached name resolution: a name links to an
// object, an IP, or another name, with link chains followed to a bounded
// depth and per-name request coalescing so concurrent lookups share one
// upstream query.
package name

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// LinkKind says what a name points at.
type LinkKind int

const (
	LinkObject LinkKind = iota
	LinkIP
	LinkName
)

// Link is one resolution step's result.
type Link struct {
	Kind     LinkKind
	ObjectId objectid.ObjectId // Kind == LinkObject
	IP       string            // Kind == LinkIP
	Next     string            // Kind == LinkName
}

// Status is a cache entry's resolution state.
type Status int

const (
	StatusInit Status = iota
	StatusReady
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusReady:
		return "ready"
	case StatusNotFound:
		return "not-found"
	case StatusError:
		return "error"
	default:
		return "invalid"
	}
}

// Query performs the upstream (meta-chain) lookup for one name. A
// NotFound error caches as NotFound; any other error caches as Error
// with exponential backoff.
type Query func(name string) (*Link, error)

type entry struct {
	status    Status
	link      *Link
	lastErr   *buckyerr.Error
	expiresAt time.Time
	backoff   time.Duration

	resolving bool
	notify    chan struct{}
}

// Resolver is the process-wide name cache.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]*entry
	query Query
	now   func() time.Time
}

// NewResolver creates a resolver over the given upstream query.
func NewResolver(query Query) *Resolver {
	return &Resolver{
		cache: make(map[string]*entry),
		query: query,
		now:   time.Now,
	}
}

// Normalize canonicalizes a user-supplied name: NFKC-folded and
// lowercased, so visually identical names share one cache entry.
func Normalize(name string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(name)))
}

// Lookup resolves a name, following name→name links up to the hop cap.
// A self-link or longer cycle terminates with InvalidFormat.
func (r *Resolver) Lookup(name string) (*Link, error) {
	visited := make(map[string]bool)
	current := Normalize(name)
	for hop := 0; hop < constants.NameResolveMaxHops; hop++ {
		if visited[current] {
			return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "name: resolution cycle at %q", current)
		}
		visited[current] = true

		link, err := r.resolveOne(current)
		if err != nil {
			return nil, err
		}
		if link.Kind != LinkName {
			return link, nil
		}
		next := Normalize(link.Next)
		if next == current {
			return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "name: %q links to itself", current)
		}
		current = next
	}
	return nil, buckyerr.Newf(buckyerr.CodeOutOfLimit, "name: %q exceeds %d hops", name, constants.NameResolveMaxHops)
}

// Status reports a name's cache state without resolving.
func (r *Resolver) Status(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[name]
	if !ok {
		return StatusInit
	}
	return e.status
}

// resolveOne returns one name's link, from cache when fresh, otherwise
// querying upstream. Concurrent callers for the same name coalesce: the
// first performs the query, the rest wait on the entry's notifier and
// observe the updated cache when woken.
func (r *Resolver) resolveOne(name string) (*Link, error) {
	for {
		r.mu.Lock()
		e, ok := r.cache[name]
		if !ok {
			e = &entry{}
			r.cache[name] = e
		}
		now := r.now()
		if e.status != StatusInit && now.Before(e.expiresAt) {
			defer r.mu.Unlock()
			return e.result()
		}
		if e.resolving {
			notify := e.notify
			r.mu.Unlock()
			<-notify
			continue
		}
		e.resolving = true
		e.notify = make(chan struct{})
		r.mu.Unlock()

		link, err := r.query(name)

		r.mu.Lock()
		switch {
		case err == nil:
			e.status = StatusReady
			e.link = link
			e.lastErr = nil
			e.backoff = 0
			e.expiresAt = r.now().Add(constants.NameResolveReadyTTL)
		case isNotFound(err):
			e.status = StatusNotFound
			e.link = nil
			e.lastErr = asBuckyErr(err)
			e.backoff = 0
			e.expiresAt = r.now().Add(constants.NameResolveNotFoundTTL)
		default:
			e.status = StatusError
			e.link = nil
			e.lastErr = asBuckyErr(err)
			if e.backoff == 0 {
				e.backoff = constants.NameResolveErrorMinBackoff
			} else {
				e.backoff *= 2
				if e.backoff > constants.NameResolveErrorMaxBackoff {
					e.backoff = constants.NameResolveErrorMaxBackoff
				}
			}
			e.expiresAt = r.now().Add(e.backoff)
		}
		e.resolving = false
		close(e.notify)
		defer r.mu.Unlock()
		return e.result()
	}
}

func (e *entry) result() (*Link, error) {
	switch e.status {
	case StatusReady:
		return e.link, nil
	case StatusNotFound, StatusError:
		return nil, e.lastErr
	default:
		return nil, buckyerr.New(buckyerr.CodeErrorState, "name: entry unresolved")
	}
}

func isNotFound(err error) bool {
	be, ok := err.(*buckyerr.Error)
	return ok && be.Code == buckyerr.CodeNotFound
}

func asBuckyErr(err error) *buckyerr.Error {
	if be, ok := err.(*buckyerr.Error); ok {
		return be
	}
	return buckyerr.Newf(buckyerr.CodeFailed, "name: %v", err)
}
