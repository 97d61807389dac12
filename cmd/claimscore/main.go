// Package main is the entry point for the claimscore binary.
// It serves a pre-trained claim approval pipeline over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/approvia/claimscore/internal/artifactwatch"
	"github.com/approvia/claimscore/pkg/artifact"
	"github.com/approvia/claimscore/pkg/config"
	"github.com/approvia/claimscore/pkg/logging"
	"github.com/approvia/claimscore/pkg/predict"
	"github.com/approvia/claimscore/pkg/server"
	"github.com/approvia/claimscore/pkg/telemetry"
)

// CLIConfig captures the command line flag values.
type CLIConfig struct {
	Config       string
	ListenAddr   string
	ArtifactsDir string
	LogLevel     string
	Pretty       bool
	PrettySet    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for claimscore
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "claimscore",
		Short: "Claim approval scoring service",
		Long: `An HTTP service that scores insurance claims with a pre-trained
approval pipeline.

Artifacts (metadata, threshold, pipeline, optional clip stats) are loaded
once at startup from the artifacts directory and never reloaded.

Example:
  claimscore --artifacts ./artifacts --listen :7860`,
		RunE: runServer,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML or JSON)")
	rootCmd.Flags().String("listen", "", "Address to listen on (overrides config)")
	rootCmd.Flags().StringP("artifacts", "a", "", "Artifacts directory (overrides config)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Human-readable log output")

	return rootCmd
}

// parseCLIConfig reads the flag set of cmd into a CLIConfig.
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	listenAddr, err := cmd.Flags().GetString("listen")
	if err != nil {
		return nil, fmt.Errorf("failed to get listen flag: %w", err)
	}

	artifactsDir, err := cmd.Flags().GetString("artifacts")
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts flag: %w", err)
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}

	return &CLIConfig{
		Config:       configPath,
		ListenAddr:   listenAddr,
		ArtifactsDir: artifactsDir,
		LogLevel:     logLevel,
		Pretty:       pretty,
		PrettySet:    cmd.Flags().Changed("pretty"),
	}, nil
}

// buildConfig builds the final configuration from the config file, the
// environment, and CLI flag overrides.
func buildConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	if cli.ListenAddr != "" {
		cfg.ListenAddr = cli.ListenAddr
	}
	if cli.ArtifactsDir != "" {
		cfg.ArtifactsDir = cli.ArtifactsDir
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.PrettySet {
		cfg.Log.Pretty = cli.Pretty
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// runServer is the main entry point for the claimscore command
func runServer(cmd *cobra.Command, args []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cli)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	slog.SetDefault(logger)

	logger.Info("Starting claimscore",
		"listen_addr", cfg.ListenAddr,
		"artifacts_dir", cfg.ArtifactsDir,
		"log_level", cfg.Log.Level,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    tracingEndpoint(cfg),
		Environment: cfg.Tracing.Environment,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("Failed to set up tracing", "error", err)
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	store, err := artifact.Load(cfg.ArtifactsDir, artifact.Options{
		ONNXLibraryPath: cfg.ONNX.LibraryPath,
	}, logger)
	if err != nil {
		logger.Error("Failed to load artifacts", "error", err, "artifacts_dir", cfg.ArtifactsDir)
		return err
	}
	defer func() { _ = store.Close() }()

	if !store.ClipStatsLoaded() {
		logger.Warn("Clip stats artifact not found, amount features fall back to unbounded log1p",
			"file", artifact.ClipStatsFile)
	}

	predictor := predict.New(store, logger)
	metrics := server.NewMetrics()
	srv := server.New(cfg, store, predictor, metrics, logger)

	if cfg.Watch != nil && cfg.Watch.Enabled {
		watcher, watchErr := artifactwatch.New(store, func(file string, stale bool) {
			metrics.SetArtifactStale(file, stale)
		}, logger)
		if watchErr != nil {
			logger.Warn("Artifact drift watching disabled", "error", watchErr)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}

	logger.Info("Server stopped")
	return nil
}

// tracingEndpoint returns the OTLP endpoint only when tracing is enabled.
func tracingEndpoint(cfg *config.Config) string {
	if cfg.Tracing == nil || !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}
