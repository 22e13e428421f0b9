package objectcodec

import "crypto/sha256"

// Body is the mutable half of a Named Object: an update timestamp
// and a content blob. Body never feeds CalculateID unless
// the owning Desc sets MutBodyHash, in which case Hash() must equal it.
type Body struct {
	// UpdateTime is a microsecond timestamp. It must be monotonically
	// non-decreasing across re-signs of the same object (lifecycle:
	// signatures may be appended, later timestamp winning).
	UpdateTime uint64
	Content    []byte
}

// Measure returns the encoded byte length of this Body.
func (b *Body) Measure(purpose Purpose) int {
	return 8 + 4 + len(b.Content)
}

// Encode writes the Body's wire form into buf.
func (b *Body) Encode(buf []byte, purpose Purpose) ([]byte, error) {
	if err := outOfLimit(buf, b.Measure(purpose)); err != nil {
		return buf, err
	}
	buf = putUint64(buf, b.UpdateTime)
	buf = putBytesU32(buf, b.Content)
	return buf, nil
}

// DecodeBody parses a Body from buf, returning the unused remainder.
func DecodeBody(buf []byte) (*Body, []byte, error) {
	b := &Body{}
	var err error
	b.UpdateTime, buf, err = getUint64(buf)
	if err != nil {
		return nil, buf, err
	}
	b.Content, buf, err = getBytesU32(buf)
	if err != nil {
		return nil, buf, err
	}
	return b, buf, nil
}

// Hash returns SHA-256 of the Body's encoded bytes, the value a Desc's
// MutBodyHash must match.
func (b *Body) Hash() ([32]byte, error) {
	buf := make([]byte, b.Measure(PurposeSerialize))
	if _, err := b.Encode(buf, PurposeSerialize); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(buf), nil
}
