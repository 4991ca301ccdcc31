// Package commands implements the sqlsyncd CLI, grounded on dittofs's
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
	Use:   "sqlsyncd",
	Short: "sqlsyncd - SQLSync coordinator",
	Long: `sqlsyncd is the SQLSync coordinator: the authoritative document
service every client replicates against. It accepts replication websocket
connections, applies incoming mutations to its authoritative database in
commit order, and streams the resulting pages back out to every other
connected client's timeline.

Use "sqlsyncd [command] --help" for more information about a command.`,
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

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
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
