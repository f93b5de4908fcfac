// TimeMachine server and command line tools
// Serves wiki pages as they were on a chosen day
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/timemachine/internal/config"
	"github.com/nainya/timemachine/internal/logger"
)

var (
	configPath string
	backend    string
	dataPath   string
	logLevel   string
	prettyLogs bool

	rootCmd = &cobra.Command{
		Use:   "timemachine",
		Short: "View a wiki as it was on a past date",
		Long: `TimeMachine resolves page titles to the revisions that were current on a
chosen day, following page renames, and serves the result to wiki hosts
over gRPC and HTTP.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.StringVar(&backend, "backend", "", "storage backend (pebble or sqlite)")
	flags.StringVar(&dataPath, "data", "", "storage path, or :memory:")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&prettyLogs, "pretty", false, "human readable console logs")

	rootCmd.AddCommand(serveCmd, resolveCmd, renameCmd, revisionCmd)
}

// loadConfig layers command line flags over the file and environment
// configuration
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("data") {
		cfg.DataPath = dataPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = prettyLogs
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, toStderr bool) *logger.Logger {
	lcfg := logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}
	if toStderr {
		lcfg.Output = os.Stderr
	}
	logger.InitGlobalLogger(lcfg)
	return logger.GetGlobalLogger()
}
