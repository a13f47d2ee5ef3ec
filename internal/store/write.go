package store

import (
	"context"
	"fmt"

	"github.com/roach88/pagestate/internal/ir"
)

// CreateSession inserts a new session and its tabs, each with a top frame,
// and returns the generated session id.
func (s *Store) CreateSession(ctx context.Context, name string, tabIDs ...int64) (string, error) {
	id := s.ids.Generate()
	if err := s.CreateSessionWithID(ctx, id, name, tabIDs...); err != nil {
		return "", err
	}
	return id, nil
}

// CreateSessionWithID is CreateSession with a caller-chosen id.
// Uses ON CONFLICT DO NOTHING so re-recording the same session is idempotent.
func (s *Store) CreateSessionWithID(ctx context.Context, id, name string, tabIDs ...int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create session: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, s.clock()); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	for _, tabID := range tabIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tabs (session_id, tab_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, id, tabID); err != nil {
			return fmt.Errorf("create session: tab %d: %w", tabID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO frames (session_id, tab_id, frame_id, parent_frame_id)
			VALUES (?, ?, ?, 0)
			ON CONFLICT DO NOTHING
		`, id, tabID, ir.TopFrameID); err != nil {
			return fmt.Errorf("create session: top frame of tab %d: %w", tabID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create session: commit: %w", err)
	}
	return nil
}

// WriteFrame registers a child frame. The top frame of each tab is created
// by CreateSession.
func (s *Store) WriteFrame(ctx context.Context, sessionID string, f ir.Frame) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (session_id, tab_id, frame_id, parent_frame_id, name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, sessionID, f.TabID, f.FrameID, f.ParentFrameID, f.Name)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteNavigation appends a navigation record.
func (s *Store) WriteNavigation(ctx context.Context, sessionID string, n ir.Navigation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO navigations (session_id, tab_id, frame_id, url, reason, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, n.TabID, n.FrameID, n.URL, n.Reason, n.Timestamp, n.Seq)
	if err != nil {
		return fmt.Errorf("write navigation: %w", err)
	}
	return nil
}

// WriteDomChange appends a DOM mutation record.
// Unknown ops are rejected so the log never holds records the extractor
// cannot interpret.
func (s *Store) WriteDomChange(ctx context.Context, sessionID string, c ir.DomChange) error {
	if !ir.ValidDomOps[c.Op] {
		return fmt.Errorf("write dom change: unknown op %q", c.Op)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dom_changes
		(session_id, tab_id, frame_id, timestamp, seq, op, xpath, html, name, value, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sessionID,
		c.TabID,
		c.FrameID,
		c.Timestamp,
		c.Seq,
		string(c.Op),
		c.XPath,
		c.HTML,
		c.Name,
		c.Value,
		c.URL,
	)
	if err != nil {
		return fmt.Errorf("write dom change: %w", err)
	}
	return nil
}

// WriteStorageChange appends a storage, cookie or indexedDB write.
func (s *Store) WriteStorageChange(ctx context.Context, sessionID string, c ir.StorageChange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_changes
		(session_id, tab_id, frame_id, timestamp, seq, type, action, security_origin, key, value, database_name, store_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sessionID,
		c.TabID,
		c.FrameID,
		c.Timestamp,
		c.Seq,
		string(c.Type),
		string(c.Action),
		c.SecurityOrigin,
		c.Key,
		c.Value,
		c.Database,
		c.Store,
	)
	if err != nil {
		return fmt.Errorf("write storage change: %w", err)
	}
	return nil
}

// WriteResource appends a network resource record.
func (s *Store) WriteResource(ctx context.Context, sessionID string, r ir.Resource) error {
	method := r.Method
	if method == "" {
		method = "GET"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources
		(session_id, tab_id, frame_id, timestamp, url, method, resource_type, status_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, r.TabID, r.FrameID, r.Timestamp, r.URL, method, r.ResourceType, r.StatusCode)
	if err != nil {
		return fmt.Errorf("write resource: %w", err)
	}
	return nil
}
