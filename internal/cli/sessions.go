package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pagestate/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Database string
}

// SessionsResult lists the sessions in a log.
type SessionsResult struct {
	Sessions []SessionOutput `json:"sessions"`
}

// SessionOutput is one recorded session.
type SessionOutput struct {
	ID        string  `json:"id"`
	Name      string  `json:"name,omitempty"`
	CreatedAt int64   `json:"created_at"`
	Tabs      []int64 `json:"tabs"`
}

func (r SessionsResult) String() string {
	if len(r.Sessions) == 0 {
		return "No sessions recorded."
	}
	var b strings.Builder
	for _, s := range r.Sessions {
		created := time.UnixMilli(s.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(&b, "%s  tabs %v  %s", s.ID, s.Tabs, created)
		if s.Name != "" {
			fmt.Fprintf(&b, "  (%s)", s.Name)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions in a session log",
		Long: `List every recorded session with its tabs, for writing plan files.

Examples:
  pagestate sessions --db ./sessions.db
  pagestate sessions --db ./sessions.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// Opening creates missing files; listing must not.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "database not found: "+opts.Database, err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open database", err)
	}
	defer st.Close()

	infos, err := st.ListSessions(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to list sessions", err)
	}

	result := SessionsResult{Sessions: make([]SessionOutput, 0, len(infos))}
	for _, info := range infos {
		result.Sessions = append(result.Sessions, SessionOutput{
			ID:        info.ID,
			Name:      info.Name,
			CreatedAt: info.CreatedAt,
			Tabs:      info.TabIDs,
		})
	}
	return formatter.Success(result)
}
