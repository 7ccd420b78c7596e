package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "haikoo",
	Short: "Haikoo writes haiku inspired by images",
	Long: `Haikoo describes an image with an image-tagging service, walks Markov chains
seeded by the keywords under a 5-7-5 syllable budget, and draws the haiku
over the image.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "config.json", "Path to the JSON or YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

// loadRuntime loads the configuration named by the --config flag and builds
// a logger writing to out. The returned closer must be closed by the caller.
func loadRuntime(cmd *cobra.Command, out io.Writer) (*ConfigManager, *slog.Logger, io.Closer, error) {
	path, _ := cmd.Flags().GetString("config")
	cm, err := NewConfigManager(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := cm.Get()
	level := cfg.Server.LogLevel
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		level = override
	}
	logger, closer, err := newLogger(out, level, cfg.Server.LogFile)
	if err != nil {
		return nil, nil, nil, err
	}
	cm.SetLogger(logger)
	return cm, logger, closer, nil
}
