// Package cli defines the Cobra commands of the callguard binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/config"
)

var (
	jsonOutput bool
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "callguard",
	Short: "Real-time call risk monitoring",
	Long: `CallGuard scores live call transcripts for scam patterns, raises
alerts, notifies emergency contacts and hands finished recordings to an
analysis service.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotenv()
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reportCmd)
}
