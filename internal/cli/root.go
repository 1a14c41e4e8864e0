// Package cli holds the cobra commands of the facetcache binary.
package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-facetcache/config"
)

// NewRootCommand returns the facetcache command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "facetcache",
		Short: "facetcache inspects configurations and exercises the unit of work cache.",
		Long: `facetcache inspects configurations and exercises the unit of work cache.

Configuration is read from the file given with --config (YAML or JSON)
and overridden by FACETCACHE_* environment variables.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newValidateCommand(stdout))
	rc.AddCommand(newDemoCommand(stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}
