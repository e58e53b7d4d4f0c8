// Command fogctl is the fog dispatcher's demo CLI: submit a task
// description and poll it to a terminal state. It is a thin external
// collaborator (spec §1), not part of the core engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/fogdispatch/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fogctl",
	Short:   "fogctl drives a fog task dispatcher",
	Long:    `fogctl submits a task to a fog dispatcher engine and reports its outcome.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fogctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "/etc/fogdispatch/config.yaml", "Path to the dispatcher YAML config")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
