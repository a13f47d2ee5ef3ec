package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/pagestate/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession records an empty session with the given tabs.
func createTestSession(t *testing.T, s *Store, id string, tabIDs ...int64) *SessionLog {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateSessionWithID(ctx, id, "test", tabIDs...); err != nil {
		t.Fatalf("CreateSessionWithID() failed: %v", err)
	}
	log, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	return log
}

// domInsert builds an insert record on the top frame of tab 1.
func domInsert(ts, seq int64, xpath, html string) ir.DomChange {
	return ir.DomChange{
		TabID:     1,
		FrameID:   ir.TopFrameID,
		Timestamp: ts,
		Seq:       seq,
		Op:        ir.DomOpInsert,
		XPath:     xpath,
		HTML:      html,
	}
}
