// Package store provides SQLite-backed durable storage for recorded
// automation session logs.
//
// The store is an append-only log per session with:
//   - Tabs and Frames: logical document contexts (top frame = 1)
//   - Navigations: URL loads per frame, including redirects
//   - DOM changes: positional-XPath mutation records
//   - Storage changes: localStorage, sessionStorage, cookie and indexedDB writes
//   - Resources: network loads attributed to a frame
//
// The recorder writes through Store; the page-state engine only reads
// through the *SessionLog handle returned by Store.Session, which exposes
// windowed queries and never mutates the database.
//
// # Ordering
//
// Every windowed query orders by timestamp ASC, seq ASC, id ASC so that two
// reads of the same log produce identical slices.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
