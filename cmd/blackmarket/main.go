// Command blackmarket runs the peer-to-peer reputation market from the
// command line.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/blackmarket/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
