package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"analytics-enginev1/config"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/service"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tacli",
	Short: "Technical analysis from the command line",
	Long: `tacli runs the analytics engine without the HTTP service.

It can:
  - analyze one instrument on one or several timeframes
  - scan a universe with a preset, an expression or a JSON filter
  - ingest CSV candles and universes into the local SQLite store
  - read the latest published result of a scheduled scan`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("ANALYZER_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr")

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newMTFCmd(),
		newScanCmd(),
		newPresetsCmd(),
		newIngestCmd(),
		newUniverseCmd(),
		newLatestCmd(),
	)
}

func cliLogger(w io.Writer) *slog.Logger {
	return logger.InitWriter(w, "tacli", logger.ParseLevel(logLevel))
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// openService builds the engine and its backends. Metrics go to a private
// registry that is never served.
func openService(cmd *cobra.Command) (*service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.New(cfg, cliLogger(cmd.ErrOrStderr()), prometheus.NewRegistry())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
