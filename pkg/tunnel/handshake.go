package tunnel

import (
	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/security/noiseik"
)

// ConfirmFromHandshake installs the session key derived by a completed
// Noise-IK handshake as the Confirmed keystore entry for the
// authenticated remote device. From then on every PackageBox to that
// remote is sealed under it. The remote id comes from the handshake
// itself, not the caller, so a key can never be confirmed against a
// device the handshake did not authenticate.
func ConfirmFromHandshake(ks *keyring.Keystore, h *noiseik.Handshake) (string, error) {
	key, err := h.SessionKey()
	if err != nil {
		return "", err
	}
	remoteId := h.RemoteDevice()
	if remoteId == "" {
		return "", buckyerr.New(buckyerr.CodeErrorState, "tunnel: handshake has no authenticated remote")
	}
	ks.PutUnconfirmed(remoteId, key)
	if err := ks.Confirm(remoteId); err != nil {
		return "", err
	}
	return remoteId, nil
}
