package engine

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/roach88/pagestate/internal/ir"
)

// Snapshot is the persisted form of one state: its id, its consensus
// assertions flattened across frames, and its session history.
//
// EmptyFrames lists the frames the sessions observed but agreed on nothing
// in. They carry no assertions, yet an imported snapshot must keep them
// empty, so they are persisted too.
//
// Assertions are ordered by frame id, then by canonical (type, args);
// empty frames and sessions are sorted. MarshalCanonical therefore produces
// the same bytes for the same state in every process, which keeps persisted
// snapshots diff-friendly.
type Snapshot struct {
	ID          string
	Assertions  []ExportedAssertion
	EmptyFrames []int64
	Sessions    []string
}

// ExportedAssertion is an assertion tagged with its frame. It serializes as
// the tuple [frameID, type, args, result].
type ExportedAssertion struct {
	FrameID int64
	Type    ir.Kind
	Args    ir.IRArray
	Result  ir.IRValue
}

// Assertion drops the frame tag.
func (e ExportedAssertion) Assertion() ir.Assertion {
	return ir.Assertion{Type: e.Type, Args: e.Args, Result: e.Result}
}

func (e ExportedAssertion) tuple() ir.IRArray {
	args := e.Args
	if args == nil {
		args = ir.IRArray{}
	}
	result := e.Result
	if result == nil {
		result = ir.IRNull{}
	}
	return ir.IRArray{ir.IRInt(e.FrameID), ir.IRString(e.Type), args, result}
}

// MarshalJSON writes the canonical tuple.
func (e ExportedAssertion) MarshalJSON() ([]byte, error) {
	return ir.MarshalCanonical(e.tuple())
}

// UnmarshalJSON reads a [frameID, type, args, result] tuple.
func (e *ExportedAssertion) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("assertion tuple has %d elements, want 4", len(raw))
	}

	frame, err := ir.UnmarshalIRValue(raw[0])
	if err != nil {
		return fmt.Errorf("frame id: %w", err)
	}
	frameID, ok := frame.(ir.IRInt)
	if !ok {
		return fmt.Errorf("frame id must be an integer, got %s", raw[0])
	}

	var kind string
	if err := json.Unmarshal(raw[1], &kind); err != nil {
		return fmt.Errorf("type: %w", err)
	}

	var args ir.IRArray
	if err := json.Unmarshal(raw[2], &args); err != nil {
		return fmt.Errorf("args: %w", err)
	}

	result, err := ir.UnmarshalIRValue(raw[3])
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}

	*e = ExportedAssertion{FrameID: int64(frameID), Type: ir.Kind(kind), Args: args, Result: result}
	return nil
}

// MarshalCanonical returns the snapshot as RFC 8785 canonical JSON:
//
//	{"assertions":[[1,"xpath",["count(/HTML/BODY/UL/LI)"],3]],"id":"...","sessions":["s1"]}
//
// The emptyFrames member is only written when there are empty frames.
//
// Use this rather than json.Marshal for persistence; encoding/json escapes
// HTML characters inside the output.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	assertions := make(ir.IRArray, len(s.Assertions))
	for i, a := range s.Assertions {
		assertions[i] = a.tuple()
	}
	sessions := make(ir.IRArray, len(s.Sessions))
	for i, id := range s.Sessions {
		sessions[i] = ir.IRString(id)
	}
	obj := ir.IRObject{
		"id":         ir.IRString(s.ID),
		"assertions": assertions,
		"sessions":   sessions,
	}
	if len(s.EmptyFrames) > 0 {
		empty := make(ir.IRArray, len(s.EmptyFrames))
		for i, id := range s.EmptyFrames {
			empty[i] = ir.IRInt(id)
		}
		obj["emptyFrames"] = empty
	}
	return ir.MarshalCanonical(obj)
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return s.MarshalCanonical()
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string              `json:"id"`
		Assertions  []ExportedAssertion `json:"assertions"`
		EmptyFrames []int64             `json:"emptyFrames"`
		Sessions    []string            `json:"sessions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID
	s.Assertions = raw.Assertions
	s.EmptyFrames = raw.EmptyFrames
	s.Sessions = raw.Sessions
	return nil
}

// UnmarshalSnapshot parses bytes written by MarshalCanonical.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return s, nil
}

// sortExported orders assertions by frame, then canonical (type, args).
func sortExported(as []ExportedAssertion) {
	slices.SortStableFunc(as, func(a, b ExportedAssertion) int {
		if c := cmp.Compare(a.FrameID, b.FrameID); c != 0 {
			return c
		}
		return bytes.Compare(a.Assertion().SortKey(), b.Assertion().SortKey())
	})
}

// frameMap validates the snapshot's assertions and groups them by frame.
func (s Snapshot) frameMap() (FrameMap, error) {
	out := make(FrameMap)
	for i, e := range s.Assertions {
		if !ir.ValidKinds[e.Type] {
			return nil, fmt.Errorf("assertion %d: unknown type %q", i, e.Type)
		}
		if e.Result == nil {
			return nil, fmt.Errorf("assertion %d: missing result", i)
		}
		a := e.Assertion()
		key, err := a.Key()
		if err != nil {
			return nil, fmt.Errorf("assertion %d: %w", i, err)
		}
		facts, ok := out[e.FrameID]
		if !ok {
			facts = make(map[string]ir.Assertion)
			out[e.FrameID] = facts
		}
		if prev, dup := facts[key]; dup && !ir.Equal(prev.Result, a.Result) {
			return nil, fmt.Errorf("assertion %d: conflicting results for the same fact in frame %d", i, e.FrameID)
		}
		facts[key] = a
	}
	for _, frameID := range s.EmptyFrames {
		if len(out[frameID]) > 0 {
			return nil, fmt.Errorf("frame %d is listed as empty but has assertions", frameID)
		}
		out[frameID] = make(map[string]ir.Assertion)
	}
	return out, nil
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{
		ID:         st.id,
		Assertions: make([]ExportedAssertion, 0, st.asserts.Count()),
		Sessions:   make([]string, 0, len(st.sessionIDs)),
	}
	for frameID, facts := range st.asserts {
		if len(facts) == 0 {
			snap.EmptyFrames = append(snap.EmptyFrames, frameID)
			continue
		}
		for _, a := range facts {
			snap.Assertions = append(snap.Assertions, ExportedAssertion{
				FrameID: frameID,
				Type:    a.Type,
				Args:    a.Args,
				Result:  a.Result,
			})
		}
	}
	sortExported(snap.Assertions)
	slices.Sort(snap.EmptyFrames)
	for id := range st.sessionIDs {
		snap.Sessions = append(snap.Sessions, id)
	}
	slices.Sort(snap.Sessions)
	return snap
}

// Export returns the named state's current consensus and session history.
// It is a pure read.
func (g *Generator) Export(name string) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[name]
	if !ok {
		ve := newValidationError(ErrCodeUnknownState, "no such state")
		ve.State = name
		return Snapshot{}, ve
	}
	return st.snapshot(), nil
}

// Import seeds or replaces the named state's baseline with a snapshot.
//
// The imported assertions take part in every later Evaluate of the state
// as one more session, so a session that disagrees with an imported fact
// removes it while agreeing facts stay byte-identical. The snapshot's
// sessions are added to the state's session history, which never shrinks.
// Until the next Evaluate the state's consensus is the imported set.
func (g *Generator) Import(name string, snap Snapshot) error {
	if err := validateStateName(name); err != nil {
		return err
	}
	baseline, err := snap.frameMap()
	if err != nil {
		ve := newValidationError(ErrCodeInvalidSnapshot, "%v", err)
		ve.State = name
		return ve
	}
	for _, id := range snap.Sessions {
		if id == "" || !utf8.ValidString(id) {
			ve := newValidationError(ErrCodeInvalidSnapshot, "invalid session id %q", id)
			ve.State = name
			return ve
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(name)
	if snap.ID != "" {
		st.id = snap.ID
	}
	st.baseline = baseline
	for _, id := range snap.Sessions {
		st.sessionIDs[id] = struct{}{}
	}
	st.asserts = baseline.Clone()

	g.logger.Debug("state imported",
		"generator", g.id,
		"state", name,
		"assertions", len(snap.Assertions),
		"sessions", len(snap.Sessions),
	)
	return nil
}
