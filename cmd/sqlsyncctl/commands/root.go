// Package commands implements the sqlsyncctl CLI, grounded on dittofs's
// cmd/dittofs/commands/root.go: a cobra root command with a persistent
// --config flag, and a small set of subcommands.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information, injected at build time via -ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "sqlsyncctl",
	Short: "sqlsyncctl - SQLSync client",
	Long: `sqlsyncctl is a local-first SQLSync client: it keeps a local SQLite
replica and timeline on disk, applies mutations against it immediately
through a reducer, and (if a coordinator is configured) replicates its
timeline out and the authoritative document's pages back in over a
replication websocket.

Use "sqlsyncctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds every child command to the root command and runs it. It is
// called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/sqlsync/config.yaml)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(mutateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
