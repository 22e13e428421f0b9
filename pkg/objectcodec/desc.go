package objectcodec

import (
	"crypto/sha256"
	"fmt"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// AreaCode is the optional geographic/carrier hint a Desc may embed, per
// has_area flag. Kept small and fixed-width so it round-trips like any
// other sub-descriptor field.
type AreaCode struct {
	Country uint16
	Carrier uint16
	City    uint16
	Inner   uint8
}

func (a AreaCode) measure() int { return 7 }

func (a AreaCode) encode(buf []byte) []byte {
	buf = putUint16(buf, a.Country)
	buf = putUint16(buf, a.Carrier)
	buf = putUint16(buf, a.City)
	buf = putUint8(buf, a.Inner)
	return buf
}

func decodeAreaCode(buf []byte) (AreaCode, []byte, error) {
	var a AreaCode
	var err error
	a.Country, buf, err = getUint16(buf)
	if err != nil {
		return a, buf, err
	}
	a.Carrier, buf, err = getUint16(buf)
	if err != nil {
		return a, buf, err
	}
	a.City, buf, err = getUint16(buf)
	if err != nil {
		return a, buf, err
	}
	a.Inner, buf, err = getUint8(buf)
	if err != nil {
		return a, buf, err
	}
	return a, buf, nil
}

// Desc is the immutable descriptor half of a Named Object: an
// object type plus the optional owner/area/author/public-key/ref-objs
// sub-descriptors and a type-specific content blob.
type Desc struct {
	ObjType objectid.ObjType

	Owner  *objectid.ObjectId
	Area   *AreaCode
	Author *objectid.ObjectId

	// PublicKey is the single-key sub-descriptor. Device/People objects
	// always carry exactly one; has_single_key tracks its presence.
	PublicKey *keyring.PublicKey

	RefObjs []objectid.ObjectId

	// MutBodyHash, when set, binds this Desc to a specific Body: the
	// Body must hash to this value, and the hash feeds id computation.
	MutBodyHash *[32]byte

	// Content is the type-specific immutable payload, itself built by the
	// object's own codec (see device.go / people.go for the Device/People
	// layouts layered on top of this generic field).
	Content []byte
}

// flags reports the objectid.Flags this Desc implies, used both for
// CalculateID's leading byte and for the wire flag byte written by Encode.
func (d *Desc) flags() objectid.Flags {
	return objectid.Flags{
		IsStandard:   d.ObjType == objectid.ObjTypeStandard,
		HasOwner:     d.Owner != nil,
		HasArea:      d.Area != nil,
		HasSingleKey: d.PublicKey != nil,
		HasRefObjs:   len(d.RefObjs) > 0,
	}
}

func publicKeyBytes(pub *keyring.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	switch pub.Algorithm {
	case keyring.AlgorithmRSA1024, keyring.AlgorithmRSA2048:
		return pub.RSA.N.Bytes()
	case keyring.AlgorithmSECP256K1:
		return pub.Secp256k1.SerializeCompressed()
	default:
		return nil
	}
}

// Measure returns the encoded byte length of this Desc for the given
// purpose. PurposeHash and PurposeSerialize produce identical Desc bytes —
// only Body and ObjectSigns are purpose-sensitive — but Measure still takes
// purpose for symmetry with Encode/Decode and future fields that may differ.
func (d *Desc) Measure(purpose Purpose) int {
	n := 1 // flags+objtype byte
	if d.Owner != nil {
		n += objectid.Size
	}
	if d.Area != nil {
		n += d.Area.measure()
	}
	n += 1 // has_author presence byte
	if d.Author != nil {
		n += objectid.Size
	}
	if d.PublicKey != nil {
		n += 1 // algorithm tag
		n += 1 + len(publicKeyBytes(d.PublicKey))
	}
	if len(d.RefObjs) > 0 {
		n += 1 + len(d.RefObjs)*objectid.Size // u8 count prefix
	}
	n += 1 // has_mut_body_hash flag byte
	if d.MutBodyHash != nil {
		n += 32
	}
	n += 4 + len(d.Content) // u32-prefixed content
	return n
}

// Encode writes the Desc's wire form into buf for the given purpose.
func (d *Desc) Encode(buf []byte, purpose Purpose) ([]byte, error) {
	if err := outOfLimit(buf, d.Measure(purpose)); err != nil {
		return buf, err
	}
	f := d.flags()
	buf = putUint8(buf, objType6HasFlagsByte(d.ObjType, f))

	if d.Owner != nil {
		n := copy(buf, d.Owner[:])
		buf = buf[n:]
	}
	if d.Area != nil {
		buf = d.Area.encode(buf)
	}
	if d.Author != nil {
		buf = putUint8(buf, 1)
		n := copy(buf, d.Author[:])
		buf = buf[n:]
	} else {
		buf = putUint8(buf, 0)
	}
	if d.PublicKey != nil {
		buf = putUint8(buf, uint8(d.PublicKey.Algorithm))
		var err error
		buf, err = putBytesU8(buf, publicKeyBytes(d.PublicKey))
		if err != nil {
			return buf, err
		}
	}
	if len(d.RefObjs) > 0 {
		if len(d.RefObjs) > 0xff {
			return buf, fmt.Errorf("objectcodec: too many ref_objs (%d)", len(d.RefObjs))
		}
		buf = putUint8(buf, uint8(len(d.RefObjs)))
		for _, id := range d.RefObjs {
			n := copy(buf, id[:])
			buf = buf[n:]
		}
	}
	if d.MutBodyHash != nil {
		buf = putUint8(buf, 1)
		n := copy(buf, d.MutBodyHash[:])
		buf = buf[n:]
	} else {
		buf = putUint8(buf, 0)
	}
	buf = putBytesU32(buf, d.Content)
	return buf, nil
}

// objType6HasFlagsByte mirrors objectid.flagByte's layout so Desc and
// ObjectId agree on which bit means what.
func objType6HasFlagsByte(objType objectid.ObjType, f objectid.Flags) byte {
	var b byte
	if f.IsStandard {
		b |= 1 << 0
	}
	if f.HasOwner {
		b |= 1 << 1
	}
	if f.HasArea {
		b |= 1 << 2
	}
	if f.HasSingleKey {
		b |= 1 << 3
	}
	if f.HasRefObjs {
		b |= 1 << 4
	}
	b |= byte(objType) << 5
	return b
}

// DecodeDesc parses a Desc from buf, returning the unused remainder.
func DecodeDesc(buf []byte) (*Desc, []byte, error) {
	d := &Desc{}
	flagsByte, rest, err := getUint8(buf)
	if err != nil {
		return nil, buf, err
	}
	d.ObjType = objectid.ObjType(flagsByte >> 5)
	hasOwner := flagsByte&(1<<1) != 0
	hasArea := flagsByte&(1<<2) != 0
	hasSingleKey := flagsByte&(1<<3) != 0
	hasRefObjs := flagsByte&(1<<4) != 0

	if hasOwner {
		if err := outOfLimit(rest, objectid.Size); err != nil {
			return nil, buf, err
		}
		var owner objectid.ObjectId
		copy(owner[:], rest[:objectid.Size])
		d.Owner = &owner
		rest = rest[objectid.Size:]
	}
	if hasArea {
		var area AreaCode
		area, rest, err = decodeAreaCode(rest)
		if err != nil {
			return nil, buf, err
		}
		d.Area = &area
	}
	// has_author has no dedicated bit in the id's flags byte (the id layout only
	// folds owner/area/single-key/ref-objs into the id's type/flags byte),
	// so Desc carries its own presence byte for the author sub-descriptor.
	if err := outOfLimit(rest, 1); err != nil {
		return nil, buf, err
	}
	hasAuthor := rest[0] != 0
	rest = rest[1:]
	if hasAuthor {
		if err := outOfLimit(rest, objectid.Size); err != nil {
			return nil, buf, err
		}
		var author objectid.ObjectId
		copy(author[:], rest[:objectid.Size])
		d.Author = &author
		rest = rest[objectid.Size:]
	}

	if hasSingleKey {
		algo, r2, err := getUint8(rest)
		if err != nil {
			return nil, buf, err
		}
		keyBytes, r3, err := getBytesU8(r2)
		if err != nil {
			return nil, buf, err
		}
		pub, err := decodePublicKey(keyring.Algorithm(algo), keyBytes)
		if err != nil {
			return nil, buf, err
		}
		d.PublicKey = pub
		rest = r3
	}

	if hasRefObjs {
		count, r2, err := getUint8(rest)
		if err != nil {
			return nil, buf, err
		}
		rest = r2
		refs := make([]objectid.ObjectId, 0, count)
		for i := 0; i < int(count); i++ {
			if err := outOfLimit(rest, objectid.Size); err != nil {
				return nil, buf, err
			}
			var id objectid.ObjectId
			copy(id[:], rest[:objectid.Size])
			refs = append(refs, id)
			rest = rest[objectid.Size:]
		}
		d.RefObjs = refs
	}

	hasMutBodyHash, r2, err := getUint8(rest)
	if err != nil {
		return nil, buf, err
	}
	rest = r2
	if hasMutBodyHash != 0 {
		if err := outOfLimit(rest, 32); err != nil {
			return nil, buf, err
		}
		var h [32]byte
		copy(h[:], rest[:32])
		d.MutBodyHash = &h
		rest = rest[32:]
	}

	content, rest, err := getBytesU32(rest)
	if err != nil {
		return nil, buf, err
	}
	d.Content = content

	return d, rest, nil
}

func decodePublicKey(algo keyring.Algorithm, raw []byte) (*keyring.PublicKey, error) {
	switch algo {
	case keyring.AlgorithmRSA1024, keyring.AlgorithmRSA2048:
		return keyring.ParseRSAPublicKey(algo, raw)
	case keyring.AlgorithmSECP256K1:
		return keyring.ParseSecp256k1PublicKey(raw)
	default:
		return nil, fmt.Errorf("%w: unknown public key algorithm %d", ErrInvalidFormat, algo)
	}
}

// CalculateID computes this Desc's ObjectId: SHA-256 of the Desc encoded
// under PurposeHash, truncated to 31 bytes and prefixed with the
// type/flags byte
func (d *Desc) CalculateID() (objectid.ObjectId, error) {
	buf := make([]byte, d.Measure(PurposeHash))
	if _, err := d.Encode(buf, PurposeHash); err != nil {
		return objectid.ObjectId{}, err
	}
	digest := sha256.Sum256(buf)
	return objectid.New(d.ObjType, d.flags(), digest[:31]), nil
}
