package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pagestate/internal/ir"
	"github.com/roach88/pagestate/internal/testutil"
)

const top = ir.TopFrameID

var window = ir.Window{Start: 100, End: 200}

const listPage = `<html><head><title>Page 1</title></head><body><h1>Page 1</h1><ul><li>a</li></ul></body></html>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(opts ...Option) *Generator {
	return New("test-gen", append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// listSession loads the list page before the window and appends one list
// item per entry during it.
func listSession(id string, items ...string) *testutil.MemoryLog {
	log := testutil.NewMemoryLog(id, 1).Reset(1, top, 10, listPage, "https://example.com/")
	ts := int64(110)
	for _, item := range items {
		log.Insert(1, top, ts, "/html/body/ul", "<li>"+item+"</li>")
		ts += 10
	}
	return log
}

// withTheme adds a localStorage write of theme during the window.
func withTheme(log *testutil.MemoryLog, theme string) *testutil.MemoryLog {
	return log.Storage(ir.StorageChange{
		TabID:          1,
		FrameID:        top,
		Timestamp:      180,
		Type:           ir.StorageLocal,
		Action:         ir.StorageAdd,
		SecurityOrigin: "https://example.com",
		Key:            "theme",
		Value:          theme,
	})
}

// addToState registers each log for tab 1 and the shared window under name.
func addToState(t *testing.T, g *Generator, name string, logs ...*testutil.MemoryLog) {
	t.Helper()
	for _, log := range logs {
		id, err := g.AddSession(context.Background(), log, 1, window)
		require.NoError(t, err)
		require.NoError(t, g.AddState(name, id))
	}
}

func evaluate(t *testing.T, g *Generator) *Report {
	t.Helper()
	report, err := g.Evaluate(context.Background())
	require.NoError(t, err)
	return report
}

// fact returns the result of the xpath assertion expr in the state's frame.
func fact(t *testing.T, g *Generator, name string, frameID int64, expr string) (ir.IRValue, bool) {
	t.Helper()
	view, ok := g.State(name)
	require.True(t, ok, "state %q missing", name)
	key := ir.MustAssertionKey(ir.KindXPath, ir.IRArray{ir.IRString(expr)})
	a, ok := view.AssertsByFrameID[frameID][key]
	return a.Result, ok
}

func exportBytes(t *testing.T, g *Generator, name string) []byte {
	t.Helper()
	snap, err := g.Export(name)
	require.NoError(t, err)
	data, err := snap.MarshalCanonical()
	require.NoError(t, err)
	return data
}

func sessionIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return ids
}
