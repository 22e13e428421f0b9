package datagram

import (
	"fmt"
	"testing"
	"time"
)

type fakeSender struct {
	sent [][]byte
	fail bool
}

func (f *fakeSender) SendPackage(pkg []byte) error {
	if f.fail {
		return fmt.Errorf("simulated failure")
	}
	f.sent = append(f.sent, pkg)
	return nil
}

func TestDatagramEncodeDecodeRoundTrip(t *testing.T) {
	seq := uint32(7)
	sendTime := uint64(12345)
	d := &Datagram{ToVPort: 1, FromVPort: 2, Sequence: &seq, SendTime: &sendTime, AuthorId: "author", InnerType: 3, Data: []byte("payload")}
	got, err := Decode(d.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ToVPort != d.ToVPort || got.FromVPort != d.FromVPort || got.InnerType != d.InnerType ||
		got.AuthorId != d.AuthorId || string(got.Data) != string(d.Data) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Sequence == nil || *got.Sequence != seq {
		t.Fatalf("expected sequence to round trip, got %v", got.Sequence)
	}
	if got.SendTime == nil || *got.SendTime != sendTime {
		t.Fatalf("expected send_time to round trip, got %v", got.SendTime)
	}
	if got.CreateTime != nil {
		t.Fatalf("expected create_time to remain absent")
	}
}

func TestTunnelSendToNotConnectedTriggersBuild(t *testing.T) {
	built := make(chan struct{}, 1)
	tun := NewTunnel(1, 2, func() (Sender, TunnelState) { return nil, TunnelDead }, func() { built <- struct{}{} })
	err := tun.SendTo([]byte("x"), 2, 0)
	if err == nil {
		t.Fatalf("expected NotConnected error")
	}
	select {
	case <-built:
	case <-time.After(time.Second):
		t.Fatalf("expected background tunnel build to be triggered")
	}
}

func TestTunnelSendToReachable(t *testing.T) {
	fs := &fakeSender{}
	tun := NewTunnel(1, 2, func() (Sender, TunnelState) { return fs, TunnelReachable }, nil)
	if err := tun.SendTo([]byte("x"), 2, 0); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("expected one package sent")
	}
}

func TestTunnelRecvVDropsOldestOnOverflow(t *testing.T) {
	tun := NewTunnel(1, 2, nil, nil)
	tun.OnDatagram(&Datagram{InnerType: 1})
	tun.OnDatagram(&Datagram{InnerType: 2})
	tun.OnDatagram(&Datagram{InnerType: 3}) // capacity 2: drops the oldest (InnerType 1), not the newest

	got := tun.RecvV()
	if len(got) != 2 {
		t.Fatalf("expected 2 datagrams after overflow, got %d", len(got))
	}
	if got[0].InnerType != 2 || got[1].InnerType != 3 {
		t.Fatalf("expected oldest dropped, newest kept: got %+v", got)
	}
	if tun.Len() != 0 {
		t.Fatalf("expected RecvV to atomically drain the queue")
	}
}
