// Package extract turns one recorded session into per-frame observations.
//
// The extractor reads a session log through the read-only SessionLog
// interface and produces facts attributable to a half-open time window:
//
//   - DOM facts: the document is replayed up to window start and up to
//     window end; XPath-style facts whose value differs between the two
//     trees are observed. Two sessions that reach the same end structure
//     by different steps produce identical observations.
//   - Storage facts: the net effect per storage key inside the window.
//   - Resource facts: one existence fact per distinct resource loaded.
//
// Frames are keyed by their logical id, which survives navigations. A frame
// whose log cannot be read or replayed is reported in Result.Failures and
// its siblings are still extracted.
package extract
