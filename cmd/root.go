package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/floodnet/logger"
)

var rootCmd = &cobra.Command{
	Use:   "floodnet",
	Short: "Flood broadcast and acknowledge peer",
	Long: `A peer-to-peer overlay that floods messages to every reachable peer and
collects acknowledgments back along the paths they travelled. Supports
depth-limited floods, polls and topology discovery.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
}

var logLevel string

// initLogger sets up the global logger and applies --log-level.
func initLogger(writeToStdout bool) error {
	logger.Init("", writeToStdout)
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	return logger.SetLevel(level)
}
