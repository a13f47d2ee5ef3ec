package engine

import (
	"maps"
	"slices"

	"github.com/roach88/pagestate/internal/ir"
)

// state is the generator's mutable record for one state name.
type state struct {
	name       string
	id         string
	sessionIDs map[string]struct{} // every contributing session, ever
	members    []string            // added sessions attached by AddState
	baseline   FrameMap            // imported assertions; nil if none
	asserts    FrameMap            // consensus from the last Evaluate or Import
}

func newState(name, id string) *state {
	return &state{
		name:       name,
		id:         id,
		sessionIDs: make(map[string]struct{}),
		asserts:    make(FrameMap),
	}
}

func (s *state) report() StateReport {
	return StateReport{
		Name:       s.name,
		ID:         s.id,
		Sessions:   len(s.sessionIDs),
		Frames:     len(s.asserts),
		Assertions: s.asserts.Count(),
	}
}

func (s *state) view() StateView {
	return StateView{
		Name:             s.name,
		ID:               s.id,
		SessionIDs:       maps.Clone(s.sessionIDs),
		AssertsByFrameID: s.asserts.Clone(),
	}
}

// StateView is a read-only copy of one state. Changing it does not affect
// the generator.
type StateView struct {
	Name             string
	ID               string
	SessionIDs       map[string]struct{}
	AssertsByFrameID FrameMap
}

// Sessions returns the contributing session ids in sorted order.
func (v StateView) Sessions() []string {
	return slices.Sorted(maps.Keys(v.SessionIDs))
}

// Assertions returns the frame's assertions in SortKey order.
func (v StateView) Assertions(frameID int64) []ir.Assertion {
	facts := v.AssertsByFrameID[frameID]
	out := make([]ir.Assertion, 0, len(facts))
	for _, a := range facts {
		out = append(out, a)
	}
	ir.SortAssertions(out)
	return out
}

// StatesByName returns a copy of every state keyed by name.
func (g *Generator) StatesByName() map[string]StateView {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]StateView, len(g.states))
	for name, st := range g.states {
		out[name] = st.view()
	}
	return out
}

// State returns a copy of the named state.
func (g *Generator) State(name string) (StateView, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[name]
	if !ok {
		return StateView{}, false
	}
	return st.view(), true
}
