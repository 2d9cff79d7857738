package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/mbergkamp/ratchet/internal/control"
	"github.com/mbergkamp/ratchet/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "ratchet",
	Short: "Ratchet batch execution service",
	Long:  `Ratchet runs ordered batches of work against flaky remote automation sessions, retrying, re-timing, and recovering as it goes.`,
	Run:   runBatch,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured batch sessions",
	Run:   runBatch,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// initLogging installs the process-wide slog handler per config.
func initLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if isDebug || cfg.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
	slog.SetDefault(slog.New(handler))
}

func runBatch(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		initLogging(config.LoggingConfig{})
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	initLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewRunner(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize runner", "error", err)
		os.Exit(1)
	}

	// Cancel the batch on the first signal; a second signal kills us the
	// hard way via the default handler.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, stopping batch...", "signal", sig)
		cancel()
		signal.Stop(sigChan)
	}()

	slog.Info("Ratchet started", "config", cfgPath, "sessions", len(cfg.Sessions))

	runErr := app.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if runErr != nil {
		slog.Error("Batch finished with errors", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Batch finished")
}
