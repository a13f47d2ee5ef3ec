package harness

import (
	"github.com/roach88/pagestate/internal/engine"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses match.
	Pass bool `json:"pass"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshots holds the exported consensus of every state, by name.
	Snapshots map[string]engine.Snapshot `json:"snapshots"`

	// Failures lists frames whose extraction failed.
	Failures []engine.FrameFailure `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Errors:    []string{},
		Snapshots: make(map[string]engine.Snapshot),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
