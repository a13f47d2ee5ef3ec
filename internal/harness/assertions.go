package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/pagestate/internal/engine"
	"github.com/roach88/pagestate/internal/ir"
)

// Expectation kinds, used in AssertionError.Type.
const (
	CheckHas      = "has"
	CheckAbsent   = "absent"
	CheckFrames   = "frames"
	CheckSessions = "sessions"
	CheckDiffers  = "differs"
	CheckCount    = "count"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string                     // Expectation kind for categorization
	State    string                     // State under test
	Expected string                     // Human-readable expected outcome
	Actual   string                     // Human-readable actual outcome
	Held     []engine.ExportedAssertion // The state's consensus for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Expectation failed: %s (state %q)\n", e.Type, e.State)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nConsensus:\n")
	if len(e.Held) == 0 {
		fmt.Fprintf(&buf, "  (empty)\n")
	}
	for i, a := range e.Held {
		b, err := a.MarshalJSON()
		if err != nil {
			fmt.Fprintf(&buf, "  [%d] <unserializable: %v>\n", i+1, err)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, b)
	}
	return buf.String()
}

// index maps frame id and assertion key to the exported assertion.
type index map[int64]map[string]engine.ExportedAssertion

func indexSnapshot(snap engine.Snapshot) index {
	idx := make(index)
	for _, a := range snap.Assertions {
		key, err := ir.AssertionKey(a.Type, a.Args)
		if err != nil {
			continue
		}
		if idx[a.FrameID] == nil {
			idx[a.FrameID] = make(map[string]engine.ExportedAssertion)
		}
		idx[a.FrameID][key] = a
	}
	return idx
}

// CheckExpectations evaluates expect clauses against exported states and
// returns one message per failure.
func CheckExpectations(snaps map[string]engine.Snapshot, exps []Expectation) []string {
	var errs []string
	for _, exp := range exps {
		for _, err := range checkExpectation(snaps, exp) {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func checkExpectation(snaps map[string]engine.Snapshot, exp Expectation) []error {
	snap, ok := snaps[exp.State]
	if !ok {
		return []error{&AssertionError{
			Type:     CheckHas,
			State:    exp.State,
			Expected: "state exists",
			Actual:   "state was not exported",
		}}
	}
	idx := indexSnapshot(snap)
	fail := func(typ, expected, actual string) error {
		return &AssertionError{
			Type:     typ,
			State:    exp.State,
			Expected: expected,
			Actual:   actual,
			Held:     snap.Assertions,
		}
	}

	var errs []error
	for _, f := range exp.Has {
		if err := checkHas(idx, f); err != "" {
			errs = append(errs, fail(CheckHas, f.String(), err))
		}
	}
	for _, f := range exp.Absent {
		key, err := f.Key()
		if err != nil {
			errs = append(errs, fail(CheckAbsent, f.String(), err.Error()))
			continue
		}
		if a, ok := idx[f.FrameID()][key]; ok {
			errs = append(errs, fail(CheckAbsent, "no "+f.String(), "present with result "+render(a.Result)))
		}
	}
	if len(exp.Frames) > 0 {
		want := slices.Sorted(slices.Values(exp.Frames))
		got := make([]int64, 0, len(idx))
		for frameID := range idx {
			got = append(got, frameID)
		}
		slices.Sort(got)
		if !slices.Equal(want, got) {
			errs = append(errs, fail(CheckFrames, fmt.Sprintf("frames %v", want), fmt.Sprintf("frames %v", got)))
		}
	}
	if len(exp.Sessions) > 0 {
		want := slices.Sorted(slices.Values(exp.Sessions))
		if !slices.Equal(want, snap.Sessions) {
			errs = append(errs, fail(CheckSessions, fmt.Sprintf("sessions %v", want), fmt.Sprintf("sessions %v", snap.Sessions)))
		}
	}
	if exp.Count != nil && *exp.Count != len(snap.Assertions) {
		errs = append(errs, fail(CheckCount,
			fmt.Sprintf("%d assertions", *exp.Count),
			fmt.Sprintf("%d assertions", len(snap.Assertions))))
	}
	for _, other := range exp.Differs {
		peer, ok := snaps[other]
		if !ok {
			errs = append(errs, fail(CheckDiffers, "state "+other+" exists", "state was not exported"))
			continue
		}
		if peer.ID == snap.ID {
			errs = append(errs, fail(CheckDiffers, "distinct id from "+other, "same id "+snap.ID))
		}
		if sameAssertions(snap, peer) {
			errs = append(errs, fail(CheckDiffers, "consensus differs from "+other, "identical consensus"))
		}
	}
	return errs
}

// checkHas returns a description of the mismatch, or "" when f holds.
func checkHas(idx index, f FactSpec) string {
	key, err := f.Key()
	if err != nil {
		return err.Error()
	}
	a, ok := idx[f.FrameID()][key]
	if !ok {
		return "not found"
	}
	want, hasWant, err := f.ExpectedResult()
	if err != nil {
		return err.Error()
	}
	if hasWant && !ir.Equal(want, a.Result) {
		return fmt.Sprintf("result %s, want %s", render(a.Result), render(want))
	}
	return ""
}

func sameAssertions(a, b engine.Snapshot) bool {
	return slices.EqualFunc(a.Assertions, b.Assertions, func(x, y engine.ExportedAssertion) bool {
		xb, xerr := x.MarshalJSON()
		yb, yerr := y.MarshalJSON()
		return xerr == nil && yerr == nil && string(xb) == string(yb)
	})
}

func render(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
