// Command runicorn is the Viewer's CLI surface: viewer, config, export,
// import, export-data, manage, rate-limit, delete. Exit codes: 0
// success, 1 general failure, 2 invalid arguments.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "runicorn:", err)
		if _, ok := err.(*cobraArgError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// cobraArgError marks an error as an invalid-argument failure so main can
// map it to exit code 2 instead of the general-failure code 1.
type cobraArgError struct{ error }

func argErrorf(format string, args ...any) error {
	return &cobraArgError{fmt.Errorf(format, args...)}
}

func newRootCmd() *cobra.Command {
	var storageOverride string
	var configPath string

	root := &cobra.Command{
		Use:           "runicorn",
		Short:         "Runicorn — self-hosted, single-node experiment tracking",
		Long:          "Runicorn's Viewer: run storage, metrics ingestion, asset store, log streaming and remote supervision for ML experiment tracking.",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	root.PersistentFlags().StringVar(&storageOverride, "storage", "", "override the configured storage root directory")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: platform config dir)")

	root.AddCommand(newViewerCmd(&storageOverride, &configPath))
	root.AddCommand(newConfigCmd(&storageOverride, &configPath))
	root.AddCommand(newExportCmd(&storageOverride, &configPath))
	root.AddCommand(newImportCmd(&storageOverride, &configPath))
	root.AddCommand(newExportDataCmd(&storageOverride, &configPath))
	root.AddCommand(newManageCmd(&storageOverride, &configPath))
	root.AddCommand(newRateLimitCmd(&storageOverride, &configPath))
	root.AddCommand(newDeleteCmd(&storageOverride, &configPath))

	return root
}
