// Command facetcache validates configurations and runs a unit of work demo
// against the configured database.
package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-facetcache/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
