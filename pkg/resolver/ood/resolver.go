// Package ood resolves an object to the device ids that host it: People
// and SimpleGroup objects declare an OOD list, Device objects host
// themselves, and anything else climbs to its owner and retries.
package ood

import (
	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// ObjectSource fetches an object by id, typically the NOC backed by the
// meta chain.
type ObjectSource interface {
	GetObject(id objectid.ObjectId) (*objectcodec.Object, error)
}

// Resolver climbs the ownership graph to find hosting devices.
type Resolver struct {
	source ObjectSource
}

// NewResolver creates a resolver over an object source.
func NewResolver(source ObjectSource) *Resolver {
	return &Resolver{source: source}
}

// ResolveOOD returns the device ids hosting the given object. ownerHint,
// when non-zero, is used as the owner of the starting object without
// fetching it first.
func (r *Resolver) ResolveOOD(id objectid.ObjectId, ownerHint *objectid.ObjectId) ([]objectid.ObjectId, error) {
	current := id
	var pendingHint *objectid.ObjectId = ownerHint
	seen := make(map[objectid.ObjectId]bool)

	for depth := 0; depth < constants.OodResolveMaxDepth; depth++ {
		if seen[current] {
			return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ood: ownership cycle at %s", current)
		}
		seen[current] = true

		switch current.ObjType() {
		case objectid.ObjTypeDevice:
			return []objectid.ObjectId{current}, nil
		case objectid.ObjTypePeople, objectid.ObjTypeSimpleGroup:
			list, err := r.oodList(current)
			if err != nil {
				return nil, err
			}
			return list, nil
		}

		// Anything else: climb to the owner and retry.
		owner := pendingHint
		pendingHint = nil
		if owner == nil {
			obj, err := r.source.GetObject(current)
			if err != nil {
				return nil, err
			}
			owner = obj.Desc.Owner
		}
		if owner == nil {
			return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ood: %s has no owner", current)
		}
		if *owner == current {
			return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ood: %s owns itself", current)
		}
		current = *owner
	}
	return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ood: ownership chain from %s too deep", id)
}

func (r *Resolver) oodList(id objectid.ObjectId) ([]objectid.ObjectId, error) {
	obj, err := r.source.GetObject(id)
	if err != nil {
		return nil, err
	}
	if obj.Body == nil {
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ood: %s has no body to carry an ood_list", id)
	}
	content, err := objectcodec.DecodePeopleBodyContent(obj.Body.Content)
	if err != nil {
		return nil, err
	}
	if len(content.OODList) == 0 {
		return nil, buckyerr.Newf(buckyerr.CodeNotFound, "ood: %s declares no OODs", id)
	}
	return append([]objectid.ObjectId(nil), content.OODList...), nil
}
