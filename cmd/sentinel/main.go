// Command sentinel runs the change-driven transition engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sentinel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
