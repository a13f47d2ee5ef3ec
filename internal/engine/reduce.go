package engine

import (
	"maps"

	"github.com/roach88/pagestate/internal/extract"
	"github.com/roach88/pagestate/internal/ir"
)

// FrameMap holds assertions per frame id, keyed by assertion key.
type FrameMap map[int64]map[string]ir.Assertion

// Count returns the total number of assertions across frames.
func (m FrameMap) Count() int {
	n := 0
	for _, facts := range m {
		n += len(facts)
	}
	return n
}

// Clone returns a copy that shares no maps with m.
func (m FrameMap) Clone() FrameMap {
	out := make(FrameMap, len(m))
	for frameID, facts := range m {
		out[frameID] = maps.Clone(facts)
		if out[frameID] == nil {
			out[frameID] = map[string]ir.Assertion{}
		}
	}
	return out
}

// Reduce intersects the sets frame by frame. A key survives in a frame only
// if every set holding that frame holds the key with an identical result.
// A set without an entry for a frame did not observe it and does not take
// part in that frame's reduction; an entry with no facts did observe it and
// empties the frame.
//
// Reduce is commutative and associative: any permutation or grouping of the
// same sets yields an equal map. A frame where the sets share nothing maps
// to an empty set, not to a missing entry, so feeding a result back into
// Reduce keeps constraining that frame.
func Reduce(sets ...FrameMap) FrameMap {
	out := make(FrameMap)
	for _, set := range sets {
		for frameID, facts := range set {
			agreed, seen := out[frameID]
			if !seen {
				agreed = maps.Clone(facts)
				if agreed == nil {
					agreed = make(map[string]ir.Assertion)
				}
				out[frameID] = agreed
				continue
			}
			for key, a := range agreed {
				b, ok := facts[key]
				if !ok || !ir.Equal(a.Result, b.Result) {
					delete(agreed, key)
				}
			}
		}
	}
	return out
}

// frameMapFromResult keys a session's observations by assertion key.
// Observations whose key cannot be computed, such as text that is not
// valid UTF-8, are dropped. A frame left with no facts is treated as not
// observed rather than as observed empty.
func frameMapFromResult(res *extract.Result) FrameMap {
	out := make(FrameMap, len(res.Frames))
	for frameID, obs := range res.Frames {
		facts := make(map[string]ir.Assertion, len(obs))
		for _, o := range obs {
			key, err := o.Key()
			if err != nil {
				continue
			}
			facts[key] = o
		}
		if len(facts) > 0 {
			out[frameID] = facts
		}
	}
	return out
}
