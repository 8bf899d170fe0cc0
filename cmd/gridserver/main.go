// Command gridserver runs the federated data-grid I/O core: the
// catalog-backed resource registry, driver dispatch, and descriptor
// state machine described in SPEC_FULL.md, plus the administrative
// CLI verbs layered on top of it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridcore/server/internal/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "gridserver",
	Short: "Federated data-grid I/O core",
	Long: `gridserver hosts the catalog, resource registry, and driver
dispatch layer of a federated data grid: data objects replicated
across pluggable storage resources, with cross-zone forwarding and
recursive collection operations.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to gridserver YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override global.log_level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "force JSON log output regardless of configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replicateCmd)
	rootCmd.AddCommand(mountCmd)
}

func initLogging(level string, jsonOutput bool) {
	lvl := log.InfoLevel
	switch level {
	case "DEBUG":
		lvl = log.DebugLevel
	case "WARN":
		lvl = log.WarnLevel
	case "ERROR":
		lvl = log.ErrorLevel
	}
	log.Init(log.Config{Level: lvl, JSONOutput: jsonOutput})
}
