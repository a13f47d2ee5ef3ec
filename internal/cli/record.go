package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/cobra"

	"github.com/roach88/pagestate/internal/harness"
	"github.com/roach88/pagestate/internal/store"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database string
	Plan     string // optional CUE plan to write for the recorded sessions
}

// RecordResult lists the sessions written by record.
type RecordResult struct {
	Scenario string           `json:"scenario"`
	Database string           `json:"database"`
	Sessions []RecordedOutput `json:"sessions"`
	Plan     string           `json:"plan,omitempty"`
}

// RecordedOutput is one recorded session.
type RecordedOutput struct {
	ID    string `json:"id"`
	Tab   int64  `json:"tab"`
	State string `json:"state"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

func (r RecordResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recorded %d session(s) from %s into %s\n", len(r.Sessions), r.Scenario, r.Database)
	for _, s := range r.Sessions {
		fmt.Fprintf(&b, "  %s tab %d [%d, %d) -> %s\n", s.ID, s.Tab, s.Start, s.End, s.State)
	}
	if r.Plan != "" {
		fmt.Fprintf(&b, "Plan written to %s\n", r.Plan)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <scenario.yaml>",
		Short: "Seed a session log from a scenario file",
		Long: `Write the sessions of a scenario file into a SQLite session log.

With --plan, also writes a CUE evaluation plan that attaches every recorded
session to its state, ready for 'pagestate evaluate'.

Example:
  pagestate record --db ./sessions.db ./scenarios/todo.yaml
  pagestate record --db ./sessions.db --plan ./todo.cue ./scenarios/todo.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Plan, "plan", "", "write a CUE plan for the recorded sessions")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRecord(opts *RecordOptions, scenarioPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScenario, "failed to load scenario", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	recs, err := harness.Record(cmd.Context(), st, scenario)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScenario, "failed to record scenario", err)
	}
	logger.Debug("scenario recorded", "scenario", scenario.Name, "sessions", len(recs))

	result := RecordResult{Scenario: scenario.Name, Database: opts.Database}
	for _, r := range recs {
		result.Sessions = append(result.Sessions, RecordedOutput{
			ID: r.SessionID, Tab: r.TabID, State: r.State, Start: r.Window.Start, End: r.Window.End,
		})
	}

	if opts.Plan != "" {
		if err := writePlan(opts.Plan, opts.Database, scenario.GeneratorID(), recs); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write plan", err)
		}
		result.Plan = opts.Plan
	}

	return formatter.Success(result)
}

// writePlan renders a plan for recs as formatted CUE.
func writePlan(planPath, database, generatorID string, recs []harness.Recorded) error {
	db := database
	if abs, err := filepath.Abs(database); err == nil {
		if planDir, err := filepath.Abs(filepath.Dir(planPath)); err == nil {
			if rel, err := filepath.Rel(planDir, abs); err == nil {
				db = rel
			}
		}
	}

	// Only the fields record knows; optional ones stay out of the file.
	plan := struct {
		Generator string        `json:"generator"`
		Database  string        `json:"database"`
		Sessions  []PlanSession `json:"sessions"`
	}{Generator: generatorID, Database: db}
	for _, r := range recs {
		plan.Sessions = append(plan.Sessions, PlanSession{
			ID: r.SessionID, Tab: r.TabID, State: r.State, Window: r.Window,
		})
	}

	v := cuecontext.New().Encode(plan)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	src, err := format.Node(v.Syntax())
	if err != nil {
		return fmt.Errorf("format plan: %w", err)
	}
	return atomicwriter.WriteFile(planPath, src, 0o644)
}
