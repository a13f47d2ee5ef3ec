package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagestate/internal/ir"
)

func TestCreateSession_UsesGenerator(t *testing.T) {
	s := createTestStore(t,
		WithIDGenerator(NewFixedGenerator("session-a", "session-b")),
		WithClock(func() int64 { return 42 }),
	)
	ctx := context.Background()

	id1, err := s.CreateSession(ctx, "first", 1)
	require.NoError(t, err)
	id2, err := s.CreateSession(ctx, "second", 1, 2)
	require.NoError(t, err)

	assert.Equal(t, "session-a", id1)
	assert.Equal(t, "session-b", id2)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, SessionInfo{ID: "session-a", Name: "first", CreatedAt: 42, TabIDs: []int64{1}}, sessions[0])
	assert.Equal(t, SessionInfo{ID: "session-b", Name: "second", CreatedAt: 42, TabIDs: []int64{1, 2}}, sessions[1])
}

func TestCreateSession_DefaultGeneratorProducesUUIDs(t *testing.T) {
	s := createTestStore(t)

	id, err := s.CreateSession(context.Background(), "uuid", 1)
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestCreateSessionWithID_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSessionWithID(ctx, "s1", "x", 1))
	require.NoError(t, s.CreateSessionWithID(ctx, "s1", "x", 1))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCreateSession_RegistersTopFrame(t *testing.T) {
	s := createTestStore(t)
	log := createTestSession(t, s, "s1", 7)

	frames, err := log.Frames(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, ir.TopFrameID, frames[0].FrameID)
}

func TestWriteDomChange_RejectsUnknownOp(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "s1", 1)

	c := domInsert(1, 0, "/html/body", "<p>x</p>")
	c.Op = "reparent"
	err := s.WriteDomChange(context.Background(), "s1", c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
}

func TestWriteDomChange_RequiresKnownFrame(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "s1", 1)

	c := domInsert(1, 0, "/html/body", "<p>x</p>")
	c.FrameID = 9
	assert.Error(t, s.WriteDomChange(context.Background(), "s1", c),
		"foreign key should reject an unregistered frame")
}

func TestWriteResource_DefaultsMethod(t *testing.T) {
	s := createTestStore(t)
	log := createTestSession(t, s, "s1", 1)
	ctx := context.Background()

	require.NoError(t, s.WriteResource(ctx, "s1", ir.Resource{
		TabID: 1, FrameID: ir.TopFrameID, Timestamp: 5, URL: "https://example.com/api", ResourceType: "Fetch",
	}))

	resources, err := log.Resources(ctx, 1, ir.Window{Start: 0, End: 10})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "GET", resources[0].Method)
}
