// Package engine builds per-state consensus assertion sets from recorded
// sessions.
//
// A caller registers sessions (AddSession), labels them with a state name
// (AddState) and calls Evaluate. For every state the engine extracts each
// session's observations once, then reduces them into one assertion map per
// frame: an assertion survives only if every session of the state that
// observed the frame produced it with an identical result.
//
// ARCHITECTURE:
//
// Registration vs evaluation:
// AddSession and AddState only touch the session and state tables under a
// short lock and never wait on extraction. Evaluate takes a consistent view
// of those tables, extracts uncached sessions in parallel, reduces states in
// parallel, and publishes the results under the lock again.
//
// Full recomputation:
// Each Evaluate re-derives every state from its full session set. Reduce is
// a pure set intersection, so the result does not depend on registration
// order or on how work was scheduled.
//
// Baselines:
// Import seeds a state with a previously exported snapshot. The imported
// assertions act as one more session that agrees with itself, so a later
// session can only shrink them, never add to them silently.
package engine
