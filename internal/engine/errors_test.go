package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagestate/internal/ir"
	"github.com/roach88/pagestate/internal/testutil"
)

func TestAddSession_Validation(t *testing.T) {
	ctx := context.Background()
	log := testutil.NewMemoryLog("s1", 1)

	tests := []struct {
		name string
		log  *testutil.MemoryLog
		tab  int64
		w    ir.Window
		code ValidationErrorCode
	}{
		{name: "inverted window", log: log, tab: 1, w: ir.Window{Start: 200, End: 100}, code: ErrCodeInvalidWindow},
		{name: "empty window", log: log, tab: 1, w: ir.Window{Start: 100, End: 100}, code: ErrCodeInvalidWindow},
		{name: "unknown tab", log: log, tab: 9, w: window, code: ErrCodeUnknownTab},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator()
			_, err := g.AddSession(ctx, tt.log, tt.tab, tt.w)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestAddSession_InvalidUTF8ID(t *testing.T) {
	g := newTestGenerator()
	_, err := g.AddSession(context.Background(), testutil.NewMemoryLog("s\xff", 1), 1, window)
	assert.True(t, HasCode(err, ErrCodeInvalidSession), "got %v", err)
}

func TestAddSession_NilLog(t *testing.T) {
	g := newTestGenerator()
	_, err := g.AddSession(context.Background(), nil, 1, window)
	assert.True(t, HasCode(err, ErrCodeInvalidSession))
}

func TestAddSession_Duplicate(t *testing.T) {
	ctx := context.Background()
	g := newTestGenerator()
	log := testutil.NewMemoryLog("s1", 1, 2)

	id, err := g.AddSession(ctx, log, 1, window)
	require.NoError(t, err)
	again, err := g.AddSession(ctx, log, 1, window)
	require.NoError(t, err, "identical registration is a no-op")
	assert.Equal(t, id, again)

	_, err = g.AddSession(ctx, log, 2, window)
	assert.True(t, HasCode(err, ErrCodeDuplicateSession))
	_, err = g.AddSession(ctx, log, 1, ir.Window{Start: 0, End: 50})
	assert.True(t, HasCode(err, ErrCodeDuplicateSession))
}

func TestAddState_Validation(t *testing.T) {
	ctx := context.Background()
	g := newTestGenerator()
	id, err := g.AddSession(ctx, testutil.NewMemoryLog("s1", 1), 1, window)
	require.NoError(t, err)

	assert.True(t, HasCode(g.AddState("1", "nope"), ErrCodeUnknownSession))
	assert.True(t, HasCode(g.AddState("", id), ErrCodeInvalidStateName))
	assert.True(t, HasCode(g.AddState("\xff", id), ErrCodeInvalidStateName))

	require.NoError(t, g.AddState("1", id))
	require.NoError(t, g.AddState("1", id), "same state again is a no-op")

	err = g.AddState("2", id)
	require.True(t, HasCode(err, ErrCodeSessionAttached))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "1", ve.Details["attached_to"])

	_, exists := g.State("2")
	assert.False(t, exists, "failed attach must not create the state")
	view, _ := g.State("1")
	assert.Len(t, view.SessionIDs, 1)
}

func TestExport_UnknownState(t *testing.T) {
	g := newTestGenerator()
	_, err := g.Export("missing")
	assert.True(t, HasCode(err, ErrCodeUnknownState))
}

func TestImport_Validation(t *testing.T) {
	g := newTestGenerator()
	good := ExportedAssertion{FrameID: top, Type: ir.KindXPath, Args: ir.Args("count(/HTML)"), Result: ir.IRInt(1)}

	tests := []struct {
		name string
		snap Snapshot
	}{
		{name: "unknown kind", snap: Snapshot{Assertions: []ExportedAssertion{{FrameID: top, Type: "dom", Args: ir.Args("x"), Result: ir.IRInt(1)}}}},
		{name: "missing result", snap: Snapshot{Assertions: []ExportedAssertion{{FrameID: top, Type: ir.KindXPath, Args: ir.Args("x")}}}},
		{name: "conflicting duplicate", snap: Snapshot{Assertions: []ExportedAssertion{good, {FrameID: top, Type: good.Type, Args: good.Args, Result: ir.IRInt(2)}}}},
		{name: "empty session id", snap: Snapshot{Assertions: []ExportedAssertion{good}, Sessions: []string{""}}},
		{name: "invalid UTF-8 session id", snap: Snapshot{Assertions: []ExportedAssertion{good}, Sessions: []string{"\xff"}}},
		{name: "invalid UTF-8 args", snap: Snapshot{Assertions: []ExportedAssertion{{FrameID: top, Type: ir.KindXPath, Args: ir.Args("\xff"), Result: ir.IRInt(1)}}}},
		{name: "empty frame with assertions", snap: Snapshot{Assertions: []ExportedAssertion{good}, EmptyFrames: []int64{top}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Import("1", tt.snap)
			assert.True(t, HasCode(err, ErrCodeInvalidSnapshot), "got %v", err)
		})
	}

	assert.True(t, HasCode(g.Import("", Snapshot{}), ErrCodeInvalidStateName))
	assert.True(t, HasCode(g.Import("\xff", Snapshot{}), ErrCodeInvalidStateName))
	_, exists := g.State("1")
	assert.False(t, exists)
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Code: ErrCodeSessionAttached, Message: "taken", SessionID: "s1", State: "2"}
	assert.Equal(t, "SESSION_ALREADY_ATTACHED: taken (session=s1, state=2)", err.Error())

	wrapped := fmt.Errorf("cli: %w", err)
	assert.True(t, IsValidationError(wrapped))
	assert.False(t, IsValidationError(errors.New("plain")))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeUnknownTab))
}
