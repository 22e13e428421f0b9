package control

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/identity"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/stack"
)

func testServer(t *testing.T) (*Server, *stack.Stack) {
	t.Helper()
	id, err := identity.Generate(keyring.AlgorithmSECP256K1, nil)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	s, err := stack.New(stack.Config{Identity: id})
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	return NewServer(s), s
}

func TestGetStatus(t *testing.T) {
	srv, s := testServer(t)
	resp := srv.HandleRequest(Request{Method: "GetStatus", ID: "1"})
	if resp.Error != "" {
		t.Fatalf("error: %s", resp.Error)
	}
	status, ok := resp.Result.(*StatusResult)
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if status.DeviceId != s.Identity().BID() || status.State != "idle" {
		t.Fatalf("status %+v", status)
	}
}

func TestListTunnelsAndNocStat(t *testing.T) {
	srv, s := testServer(t)
	s.TunnelManager.GetOrCreate("peer-1")

	resp := srv.HandleRequest(Request{Method: "ListTunnels", ID: "2"})
	tunnels, ok := resp.Result.([]TunnelResult)
	if !ok || len(tunnels) != 1 || tunnels[0].RemoteId != "peer-1" {
		t.Fatalf("tunnels %+v", resp.Result)
	}

	resp = srv.HandleRequest(Request{Method: "NocStat", ID: "3"})
	stat, ok := resp.Result.(*NocStatResult)
	if !ok || stat.Count != 0 {
		t.Fatalf("stat %+v", resp.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := testServer(t)
	resp := srv.HandleRequest(Request{Method: "Bogus", ID: "4"})
	if resp.Error == "" {
		t.Fatalf("unknown method must error")
	}
}

func TestServeOverSocket(t *testing.T) {
	srv, _ := testServer(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, listener) }()

	conn, err := net.DialTimeout("tcp", listener.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(Request{Method: "GetStatus", ID: "s1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if resp.ID != "s1" || resp.Error != "" {
		t.Fatalf("response %+v", resp)
	}
}
