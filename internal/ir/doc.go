// Package ir provides the canonical value and record types shared by the
// page-state packages.
//
// This package contains type definitions and the assertion key codec only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - counts and numeric results are int64
//   - Assertion keys derive from (type, args) only, never from the result
//   - Canonical JSON (RFC 8785) is the only serialization used for keys and exports
//   - Timestamps are epoch milliseconds; windows are half-open [start, end)
package ir
