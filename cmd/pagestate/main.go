// Command pagestate generates page-state assertions from recorded browser
// sessions.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/pagestate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands print their own errors; cobra's flag errors reach here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
