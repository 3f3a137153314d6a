package main

import (
	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "sidesync",
	Short: "Local web server with a synchronized JSON state document",
	Long: `sidesync serves a static content directory and keeps its JSON state
document synchronized across storage backends.

The server binds the configured preferred port, falling back to the
alternate ports and then scanning upward when it is occupied. Pages it
serves read and poll the state document over HTTP; every save bumps the
document version by exactly one, so a page can tell a fresh document
from the one it already rendered.

Storage backends:
  json   - pretty-printed JSON file, watched for external edits (default)
  sqlite - single-table SQLite database
  bolt   - Bolt key/value file

Configuration lives in sidesync.json, created with defaults on first
run. A sidesync.toml next to it overrides values per checkout, and
SIDESYNC_* environment variables override both per process.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			ui.SetEnabled(false)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "sidesync.json", "Path to the configuration file")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable styled output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "config", Title: "Configuration Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
}
