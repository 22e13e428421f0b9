package objectcodec

import (
	"fmt"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// WorkMode is a People object's OOD scheduling mode, per
// OODWorkMode: Standalone runs a single OOD, ActiveStandby keeps a
// hot spare.
type WorkMode uint8

const (
	WorkModeStandalone    WorkMode = 0
	WorkModeActiveStandby WorkMode = 1
)

func (m WorkMode) String() string {
	if m == WorkModeActiveStandby {
		return "active-standby"
	}
	return "standalone"
}

// PeopleBodyContent is the People object's mutable content: the OOD list
// and work mode. The ood_list lives in Body, not Desc, since a person's
// OOD set changes far more often than their identity.
type PeopleBodyContent struct {
	WorkMode WorkMode
	OODList  []objectid.ObjectId
	Name     string
}

// Encode renders the content bytes to install as a Body's Content field.
func (p *PeopleBodyContent) Encode() ([]byte, error) {
	if len(p.OODList) > 0xff {
		return nil, fmt.Errorf("objectcodec: too many ood_list entries (%d)", len(p.OODList))
	}
	n := 1 + 1 + len(p.OODList)*objectid.Size + 2 + len(p.Name)
	buf := make([]byte, n)
	out := putUint8(buf, uint8(p.WorkMode))
	out = putUint8(out, uint8(len(p.OODList)))
	for _, id := range p.OODList {
		copy(out, id[:])
		out = out[objectid.Size:]
	}
	if _, err := putBytesU16(out, []byte(p.Name)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodePeopleBodyContent parses a Body's Content bytes as a
// PeopleBodyContent.
func DecodePeopleBodyContent(content []byte) (*PeopleBodyContent, error) {
	mode, rest, err := getUint8(content)
	if err != nil {
		return nil, err
	}
	count, rest, err := getUint8(rest)
	if err != nil {
		return nil, err
	}
	out := &PeopleBodyContent{WorkMode: WorkMode(mode), OODList: make([]objectid.ObjectId, 0, count)}
	for i := 0; i < int(count); i++ {
		if err := outOfLimit(rest, objectid.Size); err != nil {
			return nil, err
		}
		var id objectid.ObjectId
		copy(id[:], rest[:objectid.Size])
		out.OODList = append(out.OODList, id)
		rest = rest[objectid.Size:]
	}
	nameBytes, rest, err := getBytesU16(rest)
	if err != nil {
		return nil, err
	}
	out.Name = string(nameBytes)
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in people body content", ErrInvalidData)
	}
	return out, nil
}

// NewPeopleDesc builds a Desc for a People object. The desc content
// itself is empty: everything People-specific (OOD list, work mode,
// display name) is mutable Body content.
func NewPeopleDesc(pub *keyring.PublicKey) *Desc {
	return &Desc{
		ObjType:   objectid.ObjTypePeople,
		PublicKey: pub,
	}
}
