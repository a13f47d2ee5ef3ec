package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pagestate/internal/ir"
)

// ErrSessionNotFound is returned by Session for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo summarises one recorded session.
type SessionInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	CreatedAt int64   `json:"created_at"`
	TabIDs    []int64 `json:"tab_ids"`
}

// SessionLog is a read-only handle on one session's recorded events.
// It is safe for concurrent use; all reads go through the shared *sql.DB.
type SessionLog struct {
	db *sql.DB
	id string
}

// Session returns a read handle for the given session.
// Returns ErrSessionNotFound if the session was never recorded.
func (s *Store) Session(ctx context.Context, id string) (*SessionLog, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return &SessionLog{db: s.db, id: id}, nil
}

// ListSessions returns all sessions ordered by id.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.created_at, t.tab_id
		FROM sessions s
		LEFT JOIN tabs t ON t.session_id = s.id
		ORDER BY s.id COLLATE BINARY ASC, t.tab_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		var tabID sql.NullInt64
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt, &tabID); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if n := len(sessions); n > 0 && sessions[n-1].ID == info.ID {
			sessions[n-1].TabIDs = append(sessions[n-1].TabIDs, tabID.Int64)
			continue
		}
		info.TabIDs = []int64{}
		if tabID.Valid {
			info.TabIDs = append(info.TabIDs, tabID.Int64)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SessionID returns the id of the session this handle reads.
func (l *SessionLog) SessionID() string {
	return l.id
}

// HasTab reports whether the session recorded the given tab.
func (l *SessionLog) HasTab(ctx context.Context, tabID int64) (bool, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tabs WHERE session_id = ? AND tab_id = ?
	`, l.id, tabID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check tab: %w", err)
	}
	return count > 0, nil
}

// Frames returns the tab's frames ordered by frame id. The top frame comes first.
func (l *SessionLog) Frames(ctx context.Context, tabID int64) ([]ir.Frame, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tab_id, frame_id, parent_frame_id, name
		FROM frames
		WHERE session_id = ? AND tab_id = ?
		ORDER BY frame_id ASC
	`, l.id, tabID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	frames := []ir.Frame{}
	for rows.Next() {
		var f ir.Frame
		if err := rows.Scan(&f.TabID, &f.FrameID, &f.ParentFrameID, &f.Name); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}
	return frames, nil
}

// Navigations returns the frame's navigations with timestamps in w.
func (l *SessionLog) Navigations(ctx context.Context, tabID, frameID int64, w ir.Window) ([]ir.Navigation, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tab_id, frame_id, url, reason, timestamp, seq
		FROM navigations
		WHERE session_id = ? AND tab_id = ? AND frame_id = ?
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, seq ASC, id ASC
	`, l.id, tabID, frameID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query navigations: %w", err)
	}
	defer rows.Close()

	navs := []ir.Navigation{}
	for rows.Next() {
		var n ir.Navigation
		if err := rows.Scan(&n.TabID, &n.FrameID, &n.URL, &n.Reason, &n.Timestamp, &n.Seq); err != nil {
			return nil, fmt.Errorf("scan navigation: %w", err)
		}
		navs = append(navs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate navigations: %w", err)
	}
	return navs, nil
}

// DomChanges returns the frame's DOM mutations with timestamps in w.
func (l *SessionLog) DomChanges(ctx context.Context, tabID, frameID int64, w ir.Window) ([]ir.DomChange, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tab_id, frame_id, timestamp, seq, op, xpath, html, name, value, url
		FROM dom_changes
		WHERE session_id = ? AND tab_id = ? AND frame_id = ?
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, seq ASC, id ASC
	`, l.id, tabID, frameID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query dom changes: %w", err)
	}
	defer rows.Close()

	changes := []ir.DomChange{}
	for rows.Next() {
		var c ir.DomChange
		var op string
		if err := rows.Scan(&c.TabID, &c.FrameID, &c.Timestamp, &c.Seq, &op, &c.XPath, &c.HTML, &c.Name, &c.Value, &c.URL); err != nil {
			return nil, fmt.Errorf("scan dom change: %w", err)
		}
		c.Op = ir.DomOp(op)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dom changes: %w", err)
	}
	return changes, nil
}

// StorageChanges returns the tab's storage writes with timestamps in w.
func (l *SessionLog) StorageChanges(ctx context.Context, tabID int64, w ir.Window) ([]ir.StorageChange, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tab_id, frame_id, timestamp, seq, type, action, security_origin, key, value, database_name, store_name
		FROM storage_changes
		WHERE session_id = ? AND tab_id = ?
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, seq ASC, id ASC
	`, l.id, tabID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query storage changes: %w", err)
	}
	defer rows.Close()

	changes := []ir.StorageChange{}
	for rows.Next() {
		var c ir.StorageChange
		var typ, action string
		if err := rows.Scan(&c.TabID, &c.FrameID, &c.Timestamp, &c.Seq, &typ, &action,
			&c.SecurityOrigin, &c.Key, &c.Value, &c.Database, &c.Store); err != nil {
			return nil, fmt.Errorf("scan storage change: %w", err)
		}
		c.Type = ir.StorageType(typ)
		c.Action = ir.StorageAction(action)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage changes: %w", err)
	}
	return changes, nil
}

// Resources returns the tab's resource loads with timestamps in w.
func (l *SessionLog) Resources(ctx context.Context, tabID int64, w ir.Window) ([]ir.Resource, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tab_id, frame_id, timestamp, url, method, resource_type, status_code
		FROM resources
		WHERE session_id = ? AND tab_id = ?
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`, l.id, tabID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	resources := []ir.Resource{}
	for rows.Next() {
		var r ir.Resource
		if err := rows.Scan(&r.TabID, &r.FrameID, &r.Timestamp, &r.URL, &r.Method, &r.ResourceType, &r.StatusCode); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}
