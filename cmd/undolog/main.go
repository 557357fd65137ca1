// Command undolog installs change-capture triggers that record undo and
// redo SQL for every row change.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/undolog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
