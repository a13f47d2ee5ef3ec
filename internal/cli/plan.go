package cli

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pagestate/internal/ir"
)

//go:embed schema/plan.cue
var planSchema string

// Plan is an evaluation plan decoded from a CUE file.
type Plan struct {
	Generator   string        `json:"generator"`
	Database    string        `json:"database"`
	Import      string        `json:"import,omitempty"`
	Out         string        `json:"out,omitempty"`
	Parallelism int           `json:"parallelism,omitempty"`
	Sessions    []PlanSession `json:"sessions"`

	// Dir is the directory of the plan file. Relative paths resolve against it.
	Dir string `json:"-"`
}

// PlanSession attaches one recorded tab to a state.
type PlanSession struct {
	ID     string    `json:"id"`
	Tab    int64     `json:"tab"`
	State  string    `json:"state"`
	Window ir.Window `json:"window"`
}

// Resolve returns p relative to the plan directory unless it is absolute.
func (p *Plan) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.Dir == "" {
		return path
	}
	return filepath.Join(p.Dir, path)
}

// LoadError represents an error that occurred during plan loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Plan validation errors
	ErrCodeSchema     = "E101" // Plan does not satisfy #Plan
	ErrCodeDuplicate  = "E102" // Session listed twice
	ErrCodeImportLoad = "E103" // Import directory unreadable

	// Evaluation errors
	ErrCodeSession  = "E201" // Session rejected by the generator
	ErrCodeEvaluate = "E202" // Evaluation aborted
	ErrCodeScenario = "E203" // Scenario could not be recorded
)

// LoadPlan reads a CUE plan file and checks it against the embedded #Plan
// schema. Every schema violation is returned with its source position.
func LoadPlan(path string) (*Plan, []error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("plan file not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error reading plan file: %v", err)}}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(planSchema, cue.Filename("plan.cue")).LookupPath(cue.ParsePath("#Plan"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; this only fails on a broken build.
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("plan schema: %v", err)}}
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, convertCUEErrors(ErrCodeBuildFailed, err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(ErrCodeSchema, err)
	}

	var plan Plan
	if err := unified.Decode(&plan); err != nil {
		return nil, convertCUEErrors(ErrCodeSchema, err)
	}
	plan.Dir = filepath.Dir(path)

	seen := make(map[string]bool, len(plan.Sessions))
	var errs []error
	for i, s := range plan.Sessions {
		if seen[s.ID] {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicate,
				Message: fmt.Sprintf("sessions[%d]: session %q listed more than once", i, s.ID),
			})
		}
		seen[s.ID] = true
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &plan, nil
}

// convertCUEErrors splits a CUE error list into LoadErrors with positions.
func convertCUEErrors(code string, err error) []error {
	var out []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = fmt.Sprintf("%s: %s", strings.Join(path, "."), msg)
		}
		out = append(out, &LoadError{Code: code, Message: msg, Pos: e.Position()})
	}
	if len(out) == 0 {
		out = append(out, &LoadError{Code: code, Message: err.Error()})
	}
	return out
}
