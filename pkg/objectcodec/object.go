package objectcodec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// Object is the full Named Object: Desc, Body, and ObjectSigns
// together. It is the unit that flows through the NOC and the wire
// protocols.
type Object struct {
	Desc  *Desc
	Body  *Body // nil for desc-only objects (e.g. some Core objects)
	Signs *ObjectSigns
}

// NowMicros returns the current time as the microsecond unix timestamp
// used throughout the object model's sign_time/update_time fields.
func NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// Measure returns the encoded byte length of this Object.
func (o *Object) Measure(purpose Purpose) int {
	n := o.Desc.Measure(purpose)
	n += 1 // has_body flag
	if o.Body != nil {
		n += o.Body.Measure(purpose)
	}
	if purpose == PurposeSerialize {
		if o.Signs == nil {
			n += (&ObjectSigns{}).Measure(purpose)
		} else {
			n += o.Signs.Measure(purpose)
		}
	}
	return n
}

// Encode writes the Object's wire form into buf. Signatures are only
// written under PurposeSerialize: computing an id (PurposeHash) never
// touches ObjectSigns.
func (o *Object) Encode(buf []byte, purpose Purpose) ([]byte, error) {
	if err := outOfLimit(buf, o.Measure(purpose)); err != nil {
		return buf, err
	}
	buf, err := o.Desc.Encode(buf, purpose)
	if err != nil {
		return buf, err
	}
	if o.Body != nil {
		buf = putUint8(buf, 1)
		buf, err = o.Body.Encode(buf, purpose)
		if err != nil {
			return buf, err
		}
	} else {
		buf = putUint8(buf, 0)
	}
	if purpose == PurposeSerialize {
		signs := o.Signs
		if signs == nil {
			signs = &ObjectSigns{}
		}
		buf, err = signs.Encode(buf, purpose)
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}

// DecodeObject parses an Object (always under PurposeSerialize: a decoded
// buffer always carries its signatures) from buf.
func DecodeObject(buf []byte) (*Object, []byte, error) {
	desc, rest, err := DecodeDesc(buf)
	if err != nil {
		return nil, buf, err
	}
	o := &Object{Desc: desc}

	hasBody, rest2, err := getUint8(rest)
	if err != nil {
		return nil, buf, err
	}
	rest = rest2
	if hasBody != 0 {
		var body *Body
		body, rest, err = DecodeBody(rest)
		if err != nil {
			return nil, buf, err
		}
		o.Body = body
	}

	signs, rest, err := DecodeObjectSigns(rest)
	if err != nil {
		return nil, buf, err
	}
	o.Signs = signs

	if o.Desc.MutBodyHash != nil {
		if o.Body == nil {
			return nil, buf, fmt.Errorf("%w: desc declares mut_body_hash but object has no body", ErrInvalidData)
		}
		hash, err := o.Body.Hash()
		if err != nil {
			return nil, buf, err
		}
		if hash != *o.Desc.MutBodyHash {
			return nil, buf, fmt.Errorf("%w: body hash does not match desc.mut_body_hash", ErrNotMatch)
		}
	}

	return o, rest, nil
}

// CalculateID computes this Object's id from its Desc alone.
func (o *Object) CalculateID() (objectid.ObjectId, error) {
	return o.Desc.CalculateID()
}

// VerifyID checks that CalculateID() reproduces want, the NotMatch failure
// mode.
func (o *Object) VerifyID(want objectid.ObjectId) error {
	got, err := o.CalculateID()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrNotMatch, got, want)
	}
	return nil
}

// ToBytes serializes the full object (Desc+Body+Signs) for the wire or NOC
// storage.
func (o *Object) ToBytes() ([]byte, error) {
	buf := make([]byte, o.Measure(PurposeSerialize))
	if _, err := o.Encode(buf, PurposeSerialize); err != nil {
		return nil, err
	}
	return buf, nil
}

// FromBytes decodes a full object and rejects any trailing bytes, per
// re-encode round trip: re-encoding a decoded object is byte-identical,
// so nothing should be left over.
func FromBytes(buf []byte) (*Object, error) {
	o, rest, err := DecodeObject(buf)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after object", ErrInvalidData, len(rest))
	}
	return o, nil
}

// ToHex renders the object's serialized bytes as lowercase hex.
func (o *Object) ToHex() (string, error) {
	b, err := o.ToBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// FromHex parses an object from its hex-encoded serialized form.
func FromHex(s string) (*Object, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("objectcodec: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// ToBase58 renders the object's serialized bytes in Base58, matching
// ObjectId's own text form.
func (o *Object) ToBase58() (string, error) {
	b, err := o.ToBytes()
	if err != nil {
		return "", err
	}
	return base58.Encode(b), nil
}

// FromBase58 parses an object from its Base58-encoded serialized form.
func FromBase58(s string) (*Object, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("objectcodec: invalid base58: %w", err)
	}
	return FromBytes(b)
}

// SignDesc signs the Desc's PurposeHash bytes with key, keyed by source and
// key_index, and installs the resulting signature via PushDescSign.
func (o *Object) SignDesc(key *keyring.PrivateKey, source SignSourceKind, refIndex uint8, keyIndex uint8) error {
	sign, err := o.signWith(key, source, refIndex, keyIndex, PurposeHash, o.Desc.Measure, o.Desc.Encode)
	if err != nil {
		return err
	}
	if o.Signs == nil {
		o.Signs = &ObjectSigns{}
	}
	o.Signs.PushDescSign(sign)
	return nil
}

// SignBody signs the Body's encoded bytes with key and installs the
// resulting signature via PushBodySign.
func (o *Object) SignBody(key *keyring.PrivateKey, source SignSourceKind, refIndex uint8, keyIndex uint8) error {
	if o.Body == nil {
		return fmt.Errorf("objectcodec: cannot sign a nil body")
	}
	sign, err := o.signWith(key, source, refIndex, keyIndex, PurposeSerialize, o.Body.Measure, o.Body.Encode)
	if err != nil {
		return err
	}
	if o.Signs == nil {
		o.Signs = &ObjectSigns{}
	}
	o.Signs.PushBodySign(sign)
	return nil
}

func (o *Object) signWith(
	key *keyring.PrivateKey,
	source SignSourceKind,
	refIndex uint8,
	keyIndex uint8,
	purpose Purpose,
	measure func(Purpose) int,
	encode func([]byte, Purpose) ([]byte, error),
) (Signature, error) {
	buf := make([]byte, measure(purpose))
	if _, err := encode(buf, purpose); err != nil {
		return Signature{}, err
	}
	signData, err := key.Sign(buf)
	if err != nil {
		return Signature{}, err
	}
	sign := Signature{
		SourceKind: source,
		KeyIndex:   keyIndex,
		SignTime:   NowMicros(),
		Algorithm:  key.Algorithm,
		SignBytes:  signData,
	}
	switch source {
	case SignSourceRefIndex:
		sign.RefIndex = refIndex
	case SignSourceKey:
		sign.KeyValue = publicKeyBytes(key.Public())
	}
	return sign, nil
}

// verifySign checks a single signature against the given public key over
// the appropriate purpose-flagged encoding (Desc under PurposeHash, Body
// under PurposeSerialize).
func (o *Object) verifySign(sign Signature, pub *keyring.PublicKey, purpose Purpose, measure func(Purpose) int, encode func([]byte, Purpose) ([]byte, error)) error {
	buf := make([]byte, measure(purpose))
	if _, err := encode(buf, purpose); err != nil {
		return err
	}
	return pub.Verify(buf, sign.SignBytes)
}

// VerifyDescSignAt verifies the i'th Desc signature against pub.
func (o *Object) VerifyDescSignAt(i int, pub *keyring.PublicKey) error {
	if o.Signs == nil || i < 0 || i >= len(o.Signs.DescSigns) {
		return fmt.Errorf("objectcodec: no desc signature at index %d", i)
	}
	return o.verifySign(o.Signs.DescSigns[i], pub, PurposeHash, o.Desc.Measure, o.Desc.Encode)
}

// VerifyBodySignAt verifies the i'th Body signature against pub.
func (o *Object) VerifyBodySignAt(i int, pub *keyring.PublicKey) error {
	if o.Body == nil {
		return fmt.Errorf("objectcodec: object has no body")
	}
	if o.Signs == nil || i < 0 || i >= len(o.Signs.BodySigns) {
		return fmt.Errorf("objectcodec: no body signature at index %d", i)
	}
	return o.verifySign(o.Signs.BodySigns[i], pub, PurposeSerialize, o.Body.Measure, o.Body.Encode)
}

// objectJSON is the debug-friendly rendering FormatJSON produces — never
// used on the wire, only for logs and the control surface (C10).
type objectJSON struct {
	ObjType      uint8  `json:"obj_type"`
	Id           string `json:"id,omitempty"`
	HasOwner     bool   `json:"has_owner"`
	HasArea      bool   `json:"has_area"`
	HasAuthor    bool   `json:"has_author"`
	HasBody      bool   `json:"has_body"`
	UpdateTime   uint64 `json:"update_time,omitempty"`
	DescSigns    int    `json:"desc_signs"`
	BodySigns    int    `json:"body_signs"`
}

// FormatJSON renders a human-readable summary of the object for logs and
// the control surface — never the wire encoding.
func (o *Object) FormatJSON() (string, error) {
	j := objectJSON{
		ObjType:   uint8(o.Desc.ObjType),
		HasOwner:  o.Desc.Owner != nil,
		HasArea:   o.Desc.Area != nil,
		HasAuthor: o.Desc.Author != nil,
		HasBody:   o.Body != nil,
	}
	if id, err := o.CalculateID(); err == nil {
		j.Id = id.String()
	}
	if o.Body != nil {
		j.UpdateTime = o.Body.UpdateTime
	}
	if o.Signs != nil {
		j.DescSigns = len(o.Signs.DescSigns)
		j.BodySigns = len(o.Signs.BodySigns)
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
