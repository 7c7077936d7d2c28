// Command privlog runs a private event log agent.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/privlog/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
