package tunnel

import (
	"testing"

	"github.com/cyfs-go/cyfscore/pkg/identity"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/security/noiseik"
)

func TestConfirmFromHandshake(t *testing.T) {
	clientId, err := identity.Generate(keyring.AlgorithmSECP256K1, nil)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	serverId, err := identity.Generate(keyring.AlgorithmSECP256K1, nil)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	client, err := noiseik.NewInitiator(clientId, "zone-1", serverId.KeyAgreementPublicKey[:], 1)
	if err != nil {
		t.Fatalf("initiator: %v", err)
	}
	server, err := noiseik.NewResponder(serverId, "zone-1", noiseik.NewReplayGuard(0))
	if err != nil {
		t.Fatalf("responder: %v", err)
	}

	msg1, err := client.Initiate()
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	msg2, err := server.Respond(msg1)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if err := client.Finish(msg2); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// Both sides confirm the same key against the device the handshake
	// authenticated.
	clientKs, serverKs := keyring.NewKeystore(), keyring.NewKeystore()
	remoteOfClient, err := ConfirmFromHandshake(clientKs, client)
	if err != nil {
		t.Fatalf("client confirm: %v", err)
	}
	remoteOfServer, err := ConfirmFromHandshake(serverKs, server)
	if err != nil {
		t.Fatalf("server confirm: %v", err)
	}
	if remoteOfClient != serverId.BID() || remoteOfServer != clientId.BID() {
		t.Fatalf("confirmed against %s / %s", remoteOfClient, remoteOfServer)
	}

	ce, ok := clientKs.Lookup(remoteOfClient)
	if !ok || ce.State != keyring.StateConfirmed {
		t.Fatalf("client entry %+v", ce)
	}
	se, ok := serverKs.Lookup(remoteOfServer)
	if !ok || se.State != keyring.StateConfirmed {
		t.Fatalf("server entry %+v", se)
	}
	if ce.SessionKey != se.SessionKey {
		t.Fatalf("confirmed keys differ")
	}

	// The shared key round-trips a sealed package box between the sides.
	box := &PackageBox{Packages: [][]byte{EncodePackage(PkgPing, []byte("hi"))}}
	sealed, err := box.Seal(ce.SessionKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := OpenPackageBox(sealed, se.SessionKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(opened.Packages) != 1 {
		t.Fatalf("box %+v", opened)
	}

	// An unfinished handshake cannot confirm anything.
	fresh, err := noiseik.NewInitiator(clientId, "zone-1", serverId.KeyAgreementPublicKey[:], 2)
	if err != nil {
		t.Fatalf("initiator: %v", err)
	}
	if _, err := ConfirmFromHandshake(clientKs, fresh); err == nil {
		t.Fatalf("incomplete handshake must not confirm")
	}
}
