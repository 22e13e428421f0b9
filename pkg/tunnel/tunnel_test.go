package tunnel

import (
	"fmt"
	"net"
	"testing"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
)

type fakeSender struct {
	remote  net.Addr
	proto   Proto
	fail    bool
	sent    [][]byte
}

func (f *fakeSender) Send(pkg []byte) error {
	if f.fail {
		return fmt.Errorf("simulated failure")
	}
	f.sent = append(f.sent, pkg)
	return nil
}
func (f *fakeSender) RemoteAddr() net.Addr { return f.remote }
func (f *fakeSender) Proto() Proto         { return f.proto }

func TestContainerBuildSendFlushesQueue(t *testing.T) {
	udp := &fakeSender{proto: ProtoUDP}
	discoverCalls := 0
	discover := func(remoteId string) (Sender, error) {
		discoverCalls++
		return udp, nil
	}
	c := NewContainer("remote-1", discover)
	if c.State() != StateConnecting {
		t.Fatalf("expected initial state Connecting, got %v", c.State())
	}

	if err := c.SendPackage([]byte("hello")); err != nil {
		t.Fatalf("SendPackage: %v", err)
	}
	if c.State() != StateActive {
		t.Fatalf("expected Active after build_send resolves, got %v", c.State())
	}
	if discoverCalls != 1 {
		t.Fatalf("expected exactly one discover call, got %d", discoverCalls)
	}
	if len(udp.sent) != 1 || string(udp.sent[0]) != "hello" {
		t.Fatalf("expected the queued package to be flushed, got %v", udp.sent)
	}
}

func TestContainerMovesToDeadOnRepeatedFailure(t *testing.T) {
	udp := &fakeSender{proto: ProtoUDP, fail: true}
	c := NewContainer("remote-1", nil)
	c.OnReachable(udp)

	for i := 0; i < MaxSendFailures; i++ {
		_ = c.SendPackage([]byte("x"))
	}
	if c.State() != StateDead {
		t.Fatalf("expected Dead after %d failures, got %v", MaxSendFailures, c.State())
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("r1")
	b := m.GetOrCreate("r1")
	if a != b {
		t.Fatalf("expected GetOrCreate to return the same container")
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected exactly one container listed")
	}
}

func TestPackageBoxSealOpenRoundTrip(t *testing.T) {
	key, err := keyring.GenerateSessionKey()
	if err != nil {
		t.Fatalf("GenerateSessionKey: %v", err)
	}
	box := &PackageBox{Packages: [][]byte{[]byte("ping"), []byte("pong-body")}}
	sealed, err := box.Seal(key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := OpenPackageBox(sealed, key)
	if err != nil {
		t.Fatalf("OpenPackageBox: %v", err)
	}
	if len(got.Packages) != 2 || string(got.Packages[0]) != "ping" || string(got.Packages[1]) != "pong-body" {
		t.Fatalf("round trip mismatch: %v", got.Packages)
	}
}
