package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool        `json:"valid"`
	Sessions int         `json:"sessions,omitempty"`
	States   int         `json:"states,omitempty"`
	Errors   []PlanIssue `json:"errors,omitempty"`
}

// PlanIssue is one problem found in a plan file.
type PlanIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.cue>",
		Short: "Check a plan file against the plan schema",
		Long: `Check a CUE evaluation plan without opening the database.

Reports every schema violation with its line, and sessions listed twice.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, planPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	plan, errs := LoadPlan(planPath)
	if len(errs) > 0 {
		issues := planIssues(errs)
		if issues[0].Code == ErrCodeNotFound {
			return formatter.Fail(ExitCommandError, issues[0].Code, issues[0].Message, nil)
		}
		return outputValidationErrors(formatter, issues)
	}

	states := make(map[string]bool)
	for _, s := range plan.Sessions {
		states[s.State] = true
	}
	formatter.VerboseLog("Plan %s: generator %q, database %s", planPath, plan.Generator, plan.Resolve(plan.Database))

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Sessions: len(plan.Sessions), States: len(states)})
	}
	fmt.Fprintf(formatter.Writer, "✓ Plan valid (%d session(s), %d state(s))\n", len(plan.Sessions), len(states))
	return nil
}

func planIssues(errs []error) []PlanIssue {
	issues := make([]PlanIssue, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			issue := PlanIssue{Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				issue.Line = loadErr.Pos.Line()
			}
			issues = append(issues, issue)
			continue
		}
		issues = append(issues, PlanIssue{Code: ErrCodeGeneric, Message: err.Error()})
	}
	return issues
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []PlanIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.Format == "json" {
		if err := formatter.JSON(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return failure
}
