package codeblock

import (
	"github.com/roach88/pagestate/internal/ir"
)

// Command is one listener command: [callsite, name, [reference, frames]].
// Callsite is always null for generated commands.
type Command struct {
	Name      string
	Reference string
	Frames    []int64
}

// MarshalJSON writes the command tuple in canonical form.
func (c Command) MarshalJSON() ([]byte, error) {
	frames := make(ir.IRArray, len(c.Frames))
	for i, id := range c.Frames {
		frames[i] = ir.IRInt(id)
	}
	return ir.MarshalCanonical(ir.IRArray{
		ir.IRNull{},
		ir.IRString(c.Name),
		ir.IRArray{ir.IRString(c.Reference), frames},
	})
}

// Commands builds the command table a listener consumes, keyed
// "<state>-Tab.assert".
func Commands(m Manifest) map[string]Command {
	out := make(map[string]Command, len(m.States))
	for _, e := range m.States {
		out[e.Name+"-"+AssertCommand] = Command{
			Name:      AssertCommand,
			Reference: Reference(m.GeneratorID, e.ID),
			Frames:    e.Frames,
		}
	}
	return out
}
