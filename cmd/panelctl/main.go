// Command panelctl is the admin CLI for a panelctl API server. It starts and
// follows purge jobs and inspects resource ledgers.
package main

import (
	"fmt"
	"os"

	"github.com/tsanders-rh/panelctl/cmd/panelctl/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
