package name

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
)

func TestLookupObjectAndIP(t *testing.T) {
	r := NewResolver(func(name string) (*Link, error) {
		switch name {
		case "obj-name":
			return &Link{Kind: LinkObject}, nil
		case "ip-name":
			return &Link{Kind: LinkIP, IP: "10.0.0.1"}, nil
		}
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "no %s", name)
	})
	link, err := r.Lookup("obj-name")
	if err != nil || link.Kind != LinkObject {
		t.Fatalf("obj lookup: %v %v", link, err)
	}
	link, err = r.Lookup("ip-name")
	if err != nil || link.IP != "10.0.0.1" {
		t.Fatalf("ip lookup: %v %v", link, err)
	}
	if r.Status("obj-name") != StatusReady {
		t.Fatalf("status %v", r.Status("obj-name"))
	}
}

func TestLookupFollowsChains(t *testing.T) {
	queries := 0
	r := NewResolver(func(name string) (*Link, error) {
		queries++
		switch name {
		case "a":
			return &Link{Kind: LinkName, Next: "b"}, nil
		case "b":
			return &Link{Kind: LinkName, Next: "c"}, nil
		case "c":
			return &Link{Kind: LinkIP, IP: "1.2.3.4"}, nil
		}
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "no %s", name)
	})
	link, err := r.Lookup("a")
	if err != nil || link.IP != "1.2.3.4" {
		t.Fatalf("chain lookup: %v %v", link, err)
	}
	if queries != 3 {
		t.Fatalf("queries %d", queries)
	}
	// Every hop cached individually.
	if _, err := r.Lookup("b"); err != nil {
		t.Fatalf("cached hop: %v", err)
	}
	if queries != 3 {
		t.Fatalf("cached hop must not re-query, queries %d", queries)
	}
}

func TestLookupSelfLinkIsInvalidFormat(t *testing.T) {
	r := NewResolver(func(name string) (*Link, error) {
		return &Link{Kind: LinkName, Next: name}, nil
	})
	_, err := r.Lookup("selfish")
	be, ok := err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeInvalidFormat {
		t.Fatalf("err %v, want InvalidFormat", err)
	}
}

func TestLookupCycleIsInvalidFormat(t *testing.T) {
	r := NewResolver(func(name string) (*Link, error) {
		if name == "x" {
			return &Link{Kind: LinkName, Next: "y"}, nil
		}
		return &Link{Kind: LinkName, Next: "x"}, nil
	})
	_, err := r.Lookup("x")
	be, ok := err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeInvalidFormat {
		t.Fatalf("err %v, want InvalidFormat", err)
	}
}

func TestLookupHopCap(t *testing.T) {
	r := NewResolver(func(name string) (*Link, error) {
		return &Link{Kind: LinkName, Next: name + "x"}, nil
	})
	_, err := r.Lookup("n")
	be, ok := err.(*buckyerr.Error)
	if !ok || be.Code != buckyerr.CodeOutOfLimit {
		t.Fatalf("err %v, want OutOfLimit after %d hops", err, constants.NameResolveMaxHops)
	}
}

func TestNotFoundAndErrorTTLs(t *testing.T) {
	now := time.Unix(0, 0)
	var mode string
	queries := 0
	r := NewResolver(func(name string) (*Link, error) {
		queries++
		if mode == "notfound" {
			return nil, buckyerr.New(buckyerr.CodeNotFound, "gone")
		}
		return nil, buckyerr.New(buckyerr.CodeFailed, "flaky upstream")
	})
	r.now = func() time.Time { return now }

	mode = "notfound"
	if _, err := r.Lookup("n"); err == nil {
		t.Fatalf("want NotFound")
	}
	if r.Status("n") != StatusNotFound {
		t.Fatalf("status %v", r.Status("n"))
	}
	// Cached within the TTL.
	now = now.Add(30 * time.Second)
	_, _ = r.Lookup("n")
	if queries != 1 {
		t.Fatalf("NotFound must cache, queries %d", queries)
	}
	// Re-queried past the TTL.
	now = now.Add(31 * time.Second)
	_, _ = r.Lookup("n")
	if queries != 2 {
		t.Fatalf("expired NotFound must re-query, queries %d", queries)
	}

	// Error backoff grows: 1s, 2s, 4s... capped at 60s.
	mode = "error"
	queries = 0
	_, _ = r.Lookup("e") // backoff 1s
	now = now.Add(500 * time.Millisecond)
	_, _ = r.Lookup("e") // cached
	if queries != 1 {
		t.Fatalf("within backoff must cache, queries %d", queries)
	}
	now = now.Add(600 * time.Millisecond)
	_, _ = r.Lookup("e") // backoff 2s
	if queries != 2 {
		t.Fatalf("past backoff must re-query, queries %d", queries)
	}
	now = now.Add(1 * time.Second)
	_, _ = r.Lookup("e") // still inside the 2s window
	if queries != 2 {
		t.Fatalf("doubled backoff must hold, queries %d", queries)
	}

	// Drive the backoff to its cap.
	for i := 0; i < 10; i++ {
		now = now.Add(2 * time.Minute)
		_, _ = r.Lookup("e")
	}
	before := queries
	now = now.Add(59 * time.Second)
	_, _ = r.Lookup("e")
	if queries != before {
		t.Fatalf("capped backoff is 60s; 59s later must still be cached")
	}
	now = now.Add(2 * time.Second)
	_, _ = r.Lookup("e")
	if queries != before+1 {
		t.Fatalf("past the cap must re-query")
	}
}

func TestLookupNormalizesNames(t *testing.T) {
	queries := 0
	r := NewResolver(func(name string) (*Link, error) {
		queries++
		if name != "café" {
			return nil, buckyerr.Newf(buckyerr.CodeNotFound, "no %s", name)
		}
		return &Link{Kind: LinkIP, IP: "5.5.5.5"}, nil
	})
	if _, err := r.Lookup("  Café "); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	// The same name in another surface form hits the cache.
	if _, err := r.Lookup("CAFÉ"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if queries != 1 {
		t.Fatalf("normalized variants must share one entry, queries %d", queries)
	}
}

func TestConcurrentLookupsCoalesce(t *testing.T) {
	var queries int32
	release := make(chan struct{})
	r := NewResolver(func(name string) (*Link, error) {
		atomic.AddInt32(&queries, 1)
		<-release
		return &Link{Kind: LinkIP, IP: "9.9.9.9"}, nil
	})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Lookup("shared")
		}(i)
	}
	// Let the callers pile up on the in-flight query, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&queries); got != 1 {
		t.Fatalf("%d upstream queries, want 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
}
