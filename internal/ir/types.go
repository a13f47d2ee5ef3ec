package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Kind tags what an assertion describes.
type Kind string

const (
	// KindXPath is a structural fact evaluated as an XPath expression.
	KindXPath Kind = "xpath"
	// KindResource is a network resource loaded by the page.
	KindResource Kind = "resource"
	// KindStorage is a localStorage or sessionStorage entry.
	KindStorage Kind = "storage"
	// KindCookie is a cookie value.
	KindCookie Kind = "cookie"
	// KindIndexedDB is an indexedDB record or object store.
	KindIndexedDB Kind = "indexedDB"
)

// ValidKinds lists the kinds the codec accepts.
var ValidKinds = map[Kind]bool{
	KindXPath:     true,
	KindResource:  true,
	KindStorage:   true,
	KindCookie:    true,
	KindIndexedDB: true,
}

// TopFrameID is the logical id of a tab's main document frame.
const TopFrameID int64 = 1

// Assertion is a single fact: "evaluating (Type, Args) on the page yields Result".
// Observations extracted from a session and assertions kept in a state's
// consensus share this shape.
type Assertion struct {
	Type   Kind    `json:"type"`
	Args   IRArray `json:"args"`
	Result IRValue `json:"result"`
}

// Observation is an Assertion as produced by one session, before consensus.
type Observation = Assertion

// Key returns the assertion key for a's type and args.
func (a Assertion) Key() (string, error) {
	return AssertionKey(a.Type, a.Args)
}

// SortKey returns the canonical JSON of [type, args]. Ordering assertions by
// SortKey gives the same order in every process.
func (a Assertion) SortKey() []byte {
	args := a.Args
	if args == nil {
		args = IRArray{}
	}
	b, err := MarshalCanonical(IRArray{IRString(a.Type), args})
	if err != nil {
		// Unserializable args sort last; keys for them fail elsewhere.
		return []byte{0xff}
	}
	return b
}

// SortAssertions orders assertions by SortKey.
func SortAssertions(as []Assertion) {
	slices.SortStableFunc(as, func(a, b Assertion) int {
		return bytes.Compare(a.SortKey(), b.SortKey())
	})
}

// UnmarshalJSON decodes an assertion, keeping Result inside the sealed value set.
func (a *Assertion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   Kind            `json:"type"`
		Args   IRArray         `json:"args"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := IRValue(IRNull{})
	if len(raw.Result) > 0 {
		v, err := UnmarshalIRValue(raw.Result)
		if err != nil {
			return fmt.Errorf("assertion result: %w", err)
		}
		result = v
	}
	a.Type = raw.Type
	a.Args = raw.Args
	a.Result = result
	return nil
}

// Window is a half-open time range [Start, End) in epoch milliseconds.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Validate rejects empty and inverted windows.
func (w Window) Validate() error {
	if w.Start >= w.End {
		return fmt.Errorf("window start %d must be before end %d", w.Start, w.End)
	}
	return nil
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}
