// Package main is the CLI entry point for childmon.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "childmon",
	Short: "Child device agent - enforces parent app controls",
	Long: `childmon runs on a child's device. It follows the app controls a parent
sets (per-app daily limits, a device-wide daily limit and direct remote
blocks) and suspends or kills blocked applications.

Link the device once with 'childmon link', then run 'childmon start'
under systemd.`,
	Version:      Version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(controlsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("childmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// createLogger builds the daemon logger. An empty file logs to stderr.
func createLogger(cfg config.LoggingConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
	}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// openState opens the encrypted local state, creating the key on first use.
func openState(cfg *config.Config) (*infra.EncryptedStateStore, error) {
	dataDir := infra.DetectExecMode().ResolveDataDir(cfg.Agent.DataDir)
	state, err := infra.OpenStateStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open local state: %w", err)
	}
	return state, nil
}

// blockerConfig maps file configuration onto the process blocker.
func blockerConfig(cfg *config.Config) infra.BlockerConfig {
	return infra.BlockerConfig{
		TrackedPackages:   cfg.Usage.TrackedPackages,
		ProtectedPackages: cfg.Blocker.ProtectedPackages,
		SuspendMode:       cfg.Blocker.SuspendMode,
	}
}
