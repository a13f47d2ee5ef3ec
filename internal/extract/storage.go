package extract

import (
	"github.com/roach88/pagestate/internal/ir"
)

// storageObservations returns the net effect of the window's storage writes
// per frame. Later writes to the same key replace earlier ones; a removal
// is observed as null.
func storageObservations(changes []ir.StorageChange) map[int64][]ir.Observation {
	type slot struct {
		frameID int64
		obs     ir.Observation
	}
	latest := make(map[string]slot)
	var order []string

	for _, c := range changes {
		args := storageArgs(c)
		// Plain strings only; this cannot fail.
		id, _ := ir.MarshalCanonical(ir.IRArray{ir.IRString(c.Type.Kind()), args})
		key := string(id)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}

		var result ir.IRValue = ir.IRString(c.Value)
		if c.Action == ir.StorageRemove {
			result = ir.IRNull{}
		}
		latest[key] = slot{
			frameID: c.FrameID,
			obs:     ir.Observation{Type: c.Type.Kind(), Args: args, Result: result},
		}
	}

	out := make(map[int64][]ir.Observation)
	for _, key := range order {
		s := latest[key]
		out[s.frameID] = append(out[s.frameID], s.obs)
	}
	return out
}

// storageArgs builds [{type, securityOrigin, key[, database, store]}].
// The subtype is repeated in args so sessionStorage and localStorage,
// which share a kind, never share a key.
func storageArgs(c ir.StorageChange) ir.IRArray {
	desc := ir.IRObject{
		"type":           ir.IRString(c.Type),
		"securityOrigin": ir.IRString(c.SecurityOrigin),
		"key":            ir.IRString(c.Key),
	}
	if c.Type == ir.StorageIndexedDB {
		desc["database"] = ir.IRString(c.Database)
		desc["store"] = ir.IRString(c.Store)
	}
	return ir.IRArray{desc}
}
