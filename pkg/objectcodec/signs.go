package objectcodec

// ObjectSigns holds the two optional signature lists of a named
// object: signatures over Desc and signatures over Body.
type ObjectSigns struct {
	DescSigns []Signature
	BodySigns []Signature
}

func measureSignList(list []Signature) int {
	n := 1 // u8 count prefix
	for _, s := range list {
		n += s.Measure()
	}
	return n
}

func encodeSignList(buf []byte, list []Signature) ([]byte, error) {
	if len(list) > 0xff {
		return buf, ErrOutOfLimit
	}
	buf = putUint8(buf, uint8(len(list)))
	var err error
	for _, s := range list {
		buf, err = s.Encode(buf)
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}

func decodeSignList(buf []byte) ([]Signature, []byte, error) {
	count, rest, err := getUint8(buf)
	if err != nil {
		return nil, buf, err
	}
	out := make([]Signature, 0, count)
	for i := 0; i < int(count); i++ {
		var s Signature
		s, rest, err = DecodeSignature(rest)
		if err != nil {
			return nil, buf, err
		}
		out = append(out, s)
	}
	return out, rest, nil
}

// Measure returns the encoded byte length of this ObjectSigns.
func (s *ObjectSigns) Measure(purpose Purpose) int {
	return measureSignList(s.DescSigns) + measureSignList(s.BodySigns)
}

// Encode writes the ObjectSigns' wire form into buf.
func (s *ObjectSigns) Encode(buf []byte, purpose Purpose) ([]byte, error) {
	buf, err := encodeSignList(buf, s.DescSigns)
	if err != nil {
		return buf, err
	}
	return encodeSignList(buf, s.BodySigns)
}

// DecodeObjectSigns parses an ObjectSigns from buf, returning the unused
// remainder.
func DecodeObjectSigns(buf []byte) (*ObjectSigns, []byte, error) {
	s := &ObjectSigns{}
	var err error
	s.DescSigns, buf, err = decodeSignList(buf)
	if err != nil {
		return nil, buf, err
	}
	s.BodySigns, buf, err = decodeSignList(buf)
	if err != nil {
		return nil, buf, err
	}
	return s, buf, nil
}

// pushSign inserts sign into list, replacing any existing signature sharing
// its (source, key_index) identity only if sign is strictly newer — the
// single-slot variant of mergeSigns used when an object builds its own
// signature in place, keeping the greatest sign_time.
func pushSign(list []Signature, sign Signature) []Signature {
	for i, cur := range list {
		if cur.CompareSource(sign) {
			if sign.SignTime > cur.SignTime {
				list[i] = sign
			}
			return list
		}
	}
	return append(list, sign)
}

// PushDescSign appends or updates a Desc signature in place.
func (s *ObjectSigns) PushDescSign(sign Signature) {
	s.DescSigns = pushSign(s.DescSigns, sign)
}

// PushBodySign appends or updates a Body signature in place.
func (s *ObjectSigns) PushBodySign(sign Signature) {
	s.BodySigns = pushSign(s.BodySigns, sign)
}

// mergeSigns unions src into dest by (source, key_index) identity, keeping
// the greater sign_time on conflict, and returns how many entries were
// added or replaced by a newer one. The NOC insertion protocol's
// merge-signatures step is built on this rule.
func mergeSigns(dest []Signature, src []Signature) ([]Signature, int) {
	added := 0
	for _, item := range src {
		found := false
		for i, cur := range dest {
			if cur.CompareSource(item) {
				found = true
				if item.SignTime > cur.SignTime {
					dest[i] = item
					added++
				}
				break
			}
		}
		if !found {
			dest = append(dest, item)
			added++
		}
	}
	return dest, added
}

// MergeDescSigns unions other's Desc signatures into s, returning the
// number of signatures added or replaced.
func (s *ObjectSigns) MergeDescSigns(other *ObjectSigns) int {
	merged, added := mergeSigns(s.DescSigns, other.DescSigns)
	s.DescSigns = merged
	return added
}

// MergeBodySigns unions other's Body signatures into s, returning the
// number of signatures added or replaced.
func (s *ObjectSigns) MergeBodySigns(other *ObjectSigns) int {
	merged, added := mergeSigns(s.BodySigns, other.BodySigns)
	s.BodySigns = merged
	return added
}
