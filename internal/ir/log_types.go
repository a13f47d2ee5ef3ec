package ir

// NOTE: These are session-log records written by the recorder and read by
// the extractor. They are timestamped with wall-clock milliseconds because
// windows are expressed in wall-clock time; Seq breaks ties within a
// millisecond.

// DomOp is the type of DOM mutation recorded.
type DomOp string

const (
	DomOpDocReset DomOp = "doc_reset" // entire document replaced (navigation)
	DomOpInsert   DomOp = "insert"    // HTML fragment appended under XPath
	DomOpRemove   DomOp = "remove"    // node at XPath removed
	DomOpText     DomOp = "text"      // text content of node at XPath replaced
	DomOpAttr     DomOp = "attr"      // attribute Name set to Value
	DomOpAttrDel  DomOp = "attr_del"  // attribute Name removed
)

// ValidDomOps lists recognised DOM ops.
var ValidDomOps = map[DomOp]bool{
	DomOpDocReset: true,
	DomOpInsert:   true,
	DomOpRemove:   true,
	DomOpText:     true,
	DomOpAttr:     true,
	DomOpAttrDel:  true,
}

// Frame is the logical identity of a document context within a tab.
// FrameID stays the same across navigations; the top frame is TopFrameID.
type Frame struct {
	TabID         int64  `json:"tab_id"`
	FrameID       int64  `json:"frame_id"`
	ParentFrameID int64  `json:"parent_frame_id,omitempty"`
	Name          string `json:"name,omitempty"`
}

// Navigation records a frame loading a new URL.
type Navigation struct {
	TabID     int64  `json:"tab_id"`
	FrameID   int64  `json:"frame_id"`
	URL       string `json:"url"`
	Reason    string `json:"reason,omitempty"` // "goto", "redirect", "meta-refresh", ...
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
}

// DomChange is a single DOM mutation. XPath is positional and lower-case
// ("/html/body/ul/li[2]"); for inserts it addresses the parent.
type DomChange struct {
	TabID     int64  `json:"tab_id"`
	FrameID   int64  `json:"frame_id"`
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
	Op        DomOp  `json:"op"`
	XPath     string `json:"xpath,omitempty"`
	HTML      string `json:"html,omitempty"`  // document for doc_reset, fragment for insert
	Name      string `json:"name,omitempty"`  // attribute name
	Value     string `json:"value,omitempty"` // attribute value or text
	URL       string `json:"url,omitempty"`   // document URL for doc_reset
}

// StorageType is the storage subsystem a change belongs to.
type StorageType string

const (
	StorageLocal     StorageType = "localStorage"
	StorageSession   StorageType = "sessionStorage"
	StorageCookie    StorageType = "cookie"
	StorageIndexedDB StorageType = "indexedDB"
)

// Kind maps a storage type onto its assertion kind.
func (t StorageType) Kind() Kind {
	switch t {
	case StorageCookie:
		return KindCookie
	case StorageIndexedDB:
		return KindIndexedDB
	default:
		return KindStorage
	}
}

// StorageAction is what happened to a storage key.
type StorageAction string

const (
	StorageAdd    StorageAction = "add"
	StorageUpdate StorageAction = "update"
	StorageRemove StorageAction = "remove"
)

// StorageChange is a write to localStorage, sessionStorage, cookies or
// indexedDB. Database and Store are only set for indexedDB.
type StorageChange struct {
	TabID          int64         `json:"tab_id"`
	FrameID        int64         `json:"frame_id"`
	Timestamp      int64         `json:"timestamp"`
	Seq            int64         `json:"seq"`
	Type           StorageType   `json:"type"`
	Action         StorageAction `json:"action"`
	SecurityOrigin string        `json:"security_origin"`
	Key            string        `json:"key"`
	Value          string        `json:"value,omitempty"`
	Database       string        `json:"database,omitempty"`
	Store          string        `json:"store,omitempty"`
}

// Resource is a network resource the frame loaded.
type Resource struct {
	TabID        int64  `json:"tab_id"`
	FrameID      int64  `json:"frame_id"`
	Timestamp    int64  `json:"timestamp"`
	URL          string `json:"url"`
	Method       string `json:"method"`
	ResourceType string `json:"resource_type"` // "Document", "Fetch", "XHR", "Script", ...
	StatusCode   int64  `json:"status_code"`
}
