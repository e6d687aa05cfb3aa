// Command supervisord is the job Supervisor's CLI: it starts the
// long-running daemon, submits and inspects jobs against it, and (via a
// hidden subcommand) serves as the re-exec target for each per-job
// worker process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "supervisord",
	Short:   "Single-process job supervisor",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"supervisord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (optional; env vars and defaults otherwise)")
	rootCmd.PersistentFlags().String("api", "http://127.0.0.1:9090", "Base URL of a running supervisord's control surface")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(workerCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
