package testutil

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/pagestate/internal/ir"
)

// MemoryLog is an in-memory session log for tests. It satisfies the
// extractor's SessionLog interface without a database.
//
// Builder methods return the log so fixtures read top to bottom:
//
//	log := testutil.NewMemoryLog("s1", 1).
//		Reset(1, 1, 10, "<ul><li>a</li></ul>", "https://example.com/").
//		Insert(1, 1, 20, "/html/body/ul", "<li>b</li>")
//
// Records without a Seq get one in insertion order.
//
// Thread-safety: reads and writes are guarded by an RWMutex.
type MemoryLog struct {
	mu        sync.RWMutex
	id        string
	tabs      map[int64]bool
	frames    map[int64][]ir.Frame
	dom       []ir.DomChange
	storage   []ir.StorageChange
	resources []ir.Resource
	seq       int64

	failFrames  map[int64]error
	failDom     map[[2]int64]error
	failStorage error
	reads       int
}

// NewMemoryLog creates a log for the given tabs, each with a top frame.
func NewMemoryLog(id string, tabIDs ...int64) *MemoryLog {
	l := &MemoryLog{
		id:         id,
		tabs:       make(map[int64]bool),
		frames:     make(map[int64][]ir.Frame),
		failFrames: make(map[int64]error),
		failDom:    make(map[[2]int64]error),
	}
	for _, tab := range tabIDs {
		l.tabs[tab] = true
		l.frames[tab] = []ir.Frame{{TabID: tab, FrameID: ir.TopFrameID}}
	}
	return l
}

func (l *MemoryLog) nextSeq(seq int64) int64 {
	if seq != 0 {
		return seq
	}
	l.seq++
	return l.seq
}

// AddFrame registers a child frame.
func (l *MemoryLog) AddFrame(tabID, frameID, parentFrameID int64) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames[tabID] = append(l.frames[tabID], ir.Frame{TabID: tabID, FrameID: frameID, ParentFrameID: parentFrameID})
	return l
}

// Reset records a doc_reset of the frame to html loaded from url.
func (l *MemoryLog) Reset(tabID, frameID, ts int64, html, url string) *MemoryLog {
	return l.Dom(ir.DomChange{TabID: tabID, FrameID: frameID, Timestamp: ts, Op: ir.DomOpDocReset, HTML: html, URL: url})
}

// Insert appends an HTML fragment under xpath.
func (l *MemoryLog) Insert(tabID, frameID, ts int64, xpath, html string) *MemoryLog {
	return l.Dom(ir.DomChange{TabID: tabID, FrameID: frameID, Timestamp: ts, Op: ir.DomOpInsert, XPath: xpath, HTML: html})
}

// Remove removes the node at xpath.
func (l *MemoryLog) Remove(tabID, frameID, ts int64, xpath string) *MemoryLog {
	return l.Dom(ir.DomChange{TabID: tabID, FrameID: frameID, Timestamp: ts, Op: ir.DomOpRemove, XPath: xpath})
}

// SetText replaces the text content of the node at xpath.
func (l *MemoryLog) SetText(tabID, frameID, ts int64, xpath, text string) *MemoryLog {
	return l.Dom(ir.DomChange{TabID: tabID, FrameID: frameID, Timestamp: ts, Op: ir.DomOpText, XPath: xpath, Value: text})
}

// SetAttr sets an attribute on the node at xpath.
func (l *MemoryLog) SetAttr(tabID, frameID, ts int64, xpath, name, value string) *MemoryLog {
	return l.Dom(ir.DomChange{TabID: tabID, FrameID: frameID, Timestamp: ts, Op: ir.DomOpAttr, XPath: xpath, Name: name, Value: value})
}

// Dom appends a raw mutation record.
func (l *MemoryLog) Dom(c ir.DomChange) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	c.Seq = l.nextSeq(c.Seq)
	l.dom = append(l.dom, c)
	return l
}

// Storage appends a storage write.
func (l *MemoryLog) Storage(c ir.StorageChange) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	c.Seq = l.nextSeq(c.Seq)
	l.storage = append(l.storage, c)
	return l
}

// Resource appends a resource load.
func (l *MemoryLog) Resource(r ir.Resource) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources = append(l.resources, r)
	return l
}

// FailFrames makes Frames fail for the tab.
func (l *MemoryLog) FailFrames(tabID int64, err error) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failFrames[tabID] = err
	return l
}

// FailDom makes DomChanges fail for one frame.
func (l *MemoryLog) FailDom(tabID, frameID int64, err error) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failDom[[2]int64{tabID, frameID}] = err
	return l
}

// FailStorage makes StorageChanges fail.
func (l *MemoryLog) FailStorage(err error) *MemoryLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failStorage = err
	return l
}

// Reads returns how many Frames calls the log has served. Extraction calls
// Frames once per session, so tests use this to observe caching.
func (l *MemoryLog) Reads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reads
}

// SessionID implements SessionLog.
func (l *MemoryLog) SessionID() string {
	return l.id
}

// HasTab implements SessionLog.
func (l *MemoryLog) HasTab(_ context.Context, tabID int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tabs[tabID], nil
}

// Frames implements SessionLog.
func (l *MemoryLog) Frames(_ context.Context, tabID int64) ([]ir.Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if err := l.failFrames[tabID]; err != nil {
		return nil, err
	}
	if !l.tabs[tabID] {
		return nil, fmt.Errorf("unknown tab %d", tabID)
	}
	frames := slices.Clone(l.frames[tabID])
	slices.SortFunc(frames, func(a, b ir.Frame) int { return cmp.Compare(a.FrameID, b.FrameID) })
	return frames, nil
}

// DomChanges implements SessionLog.
func (l *MemoryLog) DomChanges(_ context.Context, tabID, frameID int64, w ir.Window) ([]ir.DomChange, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.failDom[[2]int64{tabID, frameID}]; err != nil {
		return nil, err
	}
	out := []ir.DomChange{}
	for _, c := range l.dom {
		if c.TabID == tabID && c.FrameID == frameID && w.Contains(c.Timestamp) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b ir.DomChange) int { return compareEvent(a.Timestamp, a.Seq, b.Timestamp, b.Seq) })
	return out, nil
}

// StorageChanges implements SessionLog.
func (l *MemoryLog) StorageChanges(_ context.Context, tabID int64, w ir.Window) ([]ir.StorageChange, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.failStorage != nil {
		return nil, l.failStorage
	}
	out := []ir.StorageChange{}
	for _, c := range l.storage {
		if c.TabID == tabID && w.Contains(c.Timestamp) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b ir.StorageChange) int { return compareEvent(a.Timestamp, a.Seq, b.Timestamp, b.Seq) })
	return out, nil
}

// Resources implements SessionLog.
func (l *MemoryLog) Resources(_ context.Context, tabID int64, w ir.Window) ([]ir.Resource, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []ir.Resource{}
	for _, r := range l.resources {
		if r.TabID == tabID && w.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b ir.Resource) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	return out, nil
}

func compareEvent(ts1, seq1, ts2, seq2 int64) int {
	if c := cmp.Compare(ts1, ts2); c != 0 {
		return c
	}
	return cmp.Compare(seq1, seq2)
}
