package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pagestate/internal/engine"
	"github.com/roach88/pagestate/internal/ir"
)

// ExportSnapshot is the golden form of a scenario run: every exported
// state, keyed by name, as canonical JSON.
//
//	{"scenario":"list","states":{"list":{"assertions":[...],"id":"...","sessions":[...]}}}
func ExportSnapshot(name string, snaps map[string]engine.Snapshot) ([]byte, error) {
	states := make(ir.IRObject, len(snaps))
	for stateName, snap := range snaps {
		b, err := snap.MarshalCanonical()
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", stateName, err)
		}
		// Round-trip through IRValue so the states nest inside one
		// canonical document.
		v, err := ir.UnmarshalIRValue(b)
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", stateName, err)
		}
		states[stateName] = v
	}
	return ir.MarshalCanonical(ir.IRObject{
		"scenario": ir.IRString(name),
		"states":   states,
	})
}

// RunWithGolden executes a scenario and compares its exported states
// against a golden file. The golden file is stored in
// testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the export doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := ExportSnapshot(scenarioName, result.Snapshots)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
