// Command storagectl is a one-shot CLI over the local storage emulator's
// Client library: manual inspection and scripting during crawler
// development. It is not a server and holds no persistent state of its own.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/apify/storage-local-go/internal/config"
)

var (
	configPath string
	jsonOutput bool
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storagectl",
	Short: "Inspect and drive a local apify_storage directory",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file (overridden by APIFY_LOCAL_STORAGE_* env vars)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit raw JSON instead of human-readable output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(kvCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return *cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
