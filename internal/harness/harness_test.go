package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagestate/internal/engine"
	"github.com/roach88/pagestate/internal/ir"
	"github.com/roach88/pagestate/internal/store"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_TestdataScenariosPass(t *testing.T) {
	for _, name := range []string{"todo_list", "disagreement", "iframe_logout"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestdata(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Failures)
		})
	}
}

func TestRun_FailedExpectation(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
description: "Expects a value the page never had"
sessions:
  - id: s1
    state: saved
    window: { start: 10, end: 20 }
    events:
      - { at: 15, do: storage, storage: localStorage, origin: "https://a.test", key: k, value: v }
expect:
  - state: saved
    has:
      - type: storage
        args: [{ type: localStorage, securityOrigin: "https://a.test", key: k }]
        result: w
    absent:
      - type: storage
        args: [{ type: localStorage, securityOrigin: "https://a.test", key: k }]
    sessions: [s2]
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `result "v", want "w"`)
	assert.Contains(t, result.Errors[1], "Expectation failed: absent")
	assert.Contains(t, result.Errors[2], "sessions [s2]")
}

func TestRun_Deterministic(t *testing.T) {
	scenario := loadTestdata(t, "todo_list")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := ExportSnapshot(scenario.Name, first.Snapshots)
	require.NoError(t, err)
	b, err := ExportSnapshot(scenario.Name, second.Snapshots)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ParallelismDoesNotChangeOutput(t *testing.T) {
	scenario := loadTestdata(t, "disagreement")

	serial, err := RunContext(context.Background(), scenario, engine.WithParallelism(1))
	require.NoError(t, err)
	wide, err := RunContext(context.Background(), scenario, engine.WithParallelism(8))
	require.NoError(t, err)

	a, err := ExportSnapshot(scenario.Name, serial.Snapshots)
	require.NoError(t, err)
	b, err := ExportSnapshot(scenario.Name, wide.Snapshots)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRecordAndAttach_FileStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer st.Close()

	scenario := loadTestdata(t, "iframe_logout")
	recs, err := Record(ctx, st, scenario)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Recorded{
		SessionID: "s1",
		TabID:     1,
		Window:    ir.Window{Start: 10, End: 20},
		State:     "logged-out",
	}, recs[0])

	log, err := st.Session(ctx, "s1")
	require.NoError(t, err)
	frames, err := log.Frames(ctx, 1)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "ad", frames[1].Name)

	// reset with a url records the navigation too
	navs, err := log.Navigations(ctx, 1, ir.TopFrameID, ir.Window{Start: 0, End: 100})
	require.NoError(t, err)
	require.Len(t, navs, 1)
	assert.Equal(t, "https://app.test/", navs[0].URL)
	assert.Equal(t, "goto", navs[0].Reason)

	gen := engine.New(scenario.GeneratorID())
	require.NoError(t, Attach(ctx, st, gen, recs))
	_, err = gen.Evaluate(ctx)
	require.NoError(t, err)

	view, ok := gen.State("logged-out")
	require.True(t, ok)
	assert.NotEmpty(t, view.Assertions(ir.TopFrameID))
	assert.NotEmpty(t, view.Assertions(2))
}

func TestAttach_UnknownSession(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	gen := engine.New("g")
	err = Attach(ctx, st, gen, []Recorded{{SessionID: "ghost", TabID: 1, Window: ir.Window{Start: 0, End: 1}, State: "s"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}
