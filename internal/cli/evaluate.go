package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/pagestate/internal/codeblock"
	"github.com/roach88/pagestate/internal/engine"
	"github.com/roach88/pagestate/internal/store"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	Out    string // overrides the plan's out directory
	Import string // overrides the plan's import directory
}

// EvaluateResult summarises one evaluation.
type EvaluateResult struct {
	Generator string                       `json:"generator"`
	Imported  []string                     `json:"imported,omitempty"`
	States    []StateSummary               `json:"states"`
	Failures  []FailureSummary             `json:"failures,omitempty"`
	Out       string                       `json:"out,omitempty"`
	Commands  map[string]codeblock.Command `json:"commands,omitempty"`
}

// StateSummary is one state after evaluation.
type StateSummary struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Sessions   int    `json:"sessions"`
	Frames     int    `json:"frames"`
	Assertions int    `json:"assertions"`
}

// FailureSummary is a frame left out of consensus.
type FailureSummary struct {
	Session string `json:"session"`
	Frame   int64  `json:"frame"`
	Error   string `json:"error"`
}

func (r EvaluateResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generator %s: %d state(s)\n", r.Generator, len(r.States))
	for _, s := range r.States {
		fmt.Fprintf(&b, "  %-20s %s  %d assertion(s) in %d frame(s) from %d session(s)\n",
			s.Name, s.ID, s.Assertions, s.Frames, s.Sessions)
	}
	if len(r.Imported) > 0 {
		fmt.Fprintf(&b, "Imported: %s\n", strings.Join(r.Imported, ", "))
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  ! session %s frame %d: %s\n", f.Session, f.Frame, f.Error)
	}
	if r.Out != "" {
		fmt.Fprintf(&b, "Snapshots written to %s\n", r.Out)
		for _, name := range slices.Sorted(maps.Keys(r.Commands)) {
			c := r.Commands[name]
			fmt.Fprintf(&b, "  %s: %s %v\n", name, c.Reference, c.Frames)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate <plan.cue>",
		Short: "Generate state snapshots from recorded sessions",
		Long: `Evaluate a CUE plan: extract every listed session's window from the
session log, reduce each state to the consensus of its sessions, and write
the snapshots with their listener command table.

Snapshots from an earlier run can be imported first; their assertions take
part in the consensus as one more session.

Example:
  pagestate evaluate ./todo.cue --out ./build
  pagestate evaluate ./todo.cue --import ./build --out ./build --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "directory to write snapshots to (overrides plan)")
	cmd.Flags().StringVar(&opts.Import, "import", "", "directory to import snapshots from (overrides plan)")

	return cmd
}

func runEvaluate(opts *EvaluateOptions, planPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	plan, errs := LoadPlan(planPath)
	if len(errs) > 0 {
		issues := planIssues(errs)
		if issues[0].Code == ErrCodeNotFound {
			return formatter.Fail(ExitCommandError, issues[0].Code, issues[0].Message, nil)
		}
		return outputValidationErrors(formatter, issues)
	}

	dbPath := plan.Resolve(plan.Database)
	if _, err := os.Stat(dbPath); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "database not found: "+dbPath, err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	genOpts := []engine.Option{engine.WithLogger(logger)}
	if plan.Parallelism > 0 {
		genOpts = append(genOpts, engine.WithParallelism(plan.Parallelism))
	}
	gen := engine.New(plan.Generator, genOpts...)
	result := EvaluateResult{Generator: gen.ID()}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	importDir := opts.Import
	if importDir == "" {
		importDir = plan.Resolve(plan.Import)
	}
	if importDir != "" {
		snaps, _, err := codeblock.Load(importDir, gen.ID())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeImportLoad, "failed to import snapshots", err)
		}
		for _, name := range slices.Sorted(maps.Keys(snaps)) {
			if err := gen.Import(name, snaps[name]); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeImportLoad, fmt.Sprintf("failed to import state %q", name), err)
			}
			result.Imported = append(result.Imported, name)
		}
		logger.Info("snapshots imported", "dir", importDir, "states", len(result.Imported))
	}

	for _, s := range plan.Sessions {
		log, err := st.Session(ctx, s.ID)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeSession, "unknown session "+s.ID, err)
		}
		id, err := gen.AddSession(ctx, log, s.Tab, s.Window)
		if err != nil {
			return formatter.Fail(ExitCommandError, sessionErrorCode(err), "session "+s.ID+" rejected", err)
		}
		if err := gen.AddState(s.State, id); err != nil {
			return formatter.Fail(ExitCommandError, sessionErrorCode(err), "session "+s.ID+" rejected", err)
		}
	}

	report, err := gen.Evaluate(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeEvaluate, "evaluation aborted", err)
	}
	for _, sr := range report.States {
		result.States = append(result.States, StateSummary{
			Name:       sr.Name,
			ID:         sr.ID,
			Sessions:   sr.Sessions,
			Frames:     sr.Frames,
			Assertions: sr.Assertions,
		})
	}
	for _, f := range report.Failures {
		logger.Warn("frame left out of consensus", "session", f.SessionID, "frame", f.FrameID, "error", f.Err)
		result.Failures = append(result.Failures, FailureSummary{
			Session: f.SessionID, Frame: f.FrameID, Error: f.Err.Error(),
		})
	}

	outDir := opts.Out
	if outDir == "" {
		outDir = plan.Resolve(plan.Out)
	}
	if outDir != "" {
		manifest, err := codeblock.WriteGenerator(outDir, gen)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write snapshots", err)
		}
		result.Out = outDir
		result.Commands = codeblock.Commands(manifest)
	}

	return formatter.Success(result)
}

// sessionErrorCode maps generator validation errors onto CLI codes; the
// generator's own code is kept in the details.
func sessionErrorCode(err error) string {
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return ErrCodeSession
	}
	if errors.Is(err, context.Canceled) {
		return ErrCodeEvaluate
	}
	return ErrCodeGeneric
}
