package tunnel

import (
	"encoding/binary"
	"fmt"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
)

// PackageBox is a batch of wire packages sent in one UDP datagram or TCP
// write, sealed under the sender's session key once a keystore entry for
// the remote is Confirmed. The receiver decodes the batch, decrypts it
// with the matching keystore entry, and dispatches by package type.
//
// Wire form: u16 count, then each package as a u32-length-prefixed blob.
type PackageBox struct {
	Packages [][]byte
}

func (b *PackageBox) encodePlain() []byte {
	n := 2
	for _, p := range b.Packages {
		n += 4 + len(p)
	}
	buf := make([]byte, n)
	binary.LittleEndian.PutUint16(buf, uint16(len(b.Packages)))
	off := 2
	for _, p := range b.Packages {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(p)))
		off += 4
		off += copy(buf[off:], p)
	}
	return buf
}

func decodePlainBox(buf []byte) (*PackageBox, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("tunnel: package box too short")
	}
	count := binary.LittleEndian.Uint16(buf)
	buf = buf[2:]
	b := &PackageBox{Packages: make([][]byte, 0, count)}
	for i := 0; i < int(count); i++ {
		if len(buf) < 4 {
			return nil, fmt.Errorf("tunnel: truncated package length")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if len(buf) < int(n) {
			return nil, fmt.Errorf("tunnel: truncated package body")
		}
		b.Packages = append(b.Packages, append([]byte(nil), buf[:n]...))
		buf = buf[n:]
	}
	return b, nil
}

// Seal encrypts the box under the given confirmed session key.
func (b *PackageBox) Seal(key keyring.SessionKey) ([]byte, error) {
	return key.Seal(b.encodePlain())
}

// OpenPackageBox decrypts and parses a sealed box.
func OpenPackageBox(sealed []byte, key keyring.SessionKey) (*PackageBox, error) {
	plain, err := key.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("tunnel: open package box: %w", err)
	}
	return decodePlainBox(plain)
}
