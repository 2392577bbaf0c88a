package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile      string
	verbose      bool
	denylistFile string
)

var rootCmd = &cobra.Command{
	Use:   "snakehook-triage",
	Short: "snakehook-triage — sandboxed package triage service",
	Long:  "snakehook-triage installs and executes a named third-party package inside a sandbox, records sensitive runtime events, and reports a structured summary to Discord.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional JSON5 config file (default: $SNAKEHOOK_CONFIG, none)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&denylistFile, "denylist-file", "", "watched file of supplemental denylisted packages (default: $DENYLIST_FILE, none)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return os.Getenv("SNAKEHOOK_CONFIG")
}

func resolveDenylistFile() string {
	if denylistFile != "" {
		return denylistFile
	}
	return os.Getenv("DENYLIST_FILE")
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
