// Command cozygen turns ComfyUI workflow templates into forms and runs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/cozygen/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands that report in the chosen format return an ExitError
		// after printing; anything else is printed here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
