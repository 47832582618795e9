package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/notemigrate/internal/config"
	"github.com/ehr/notemigrate/internal/platform/db"
	"github.com/ehr/notemigrate/internal/platform/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "notemigrate",
		Short:        "Migrate telehealth encounter notes into patient_notes",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(executeCmd())
	rootCmd.AddCommand(dbCmd())

	return rootCmd
}

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Run
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m, err := metrics.NewRun()
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: newLogger(cfg, os.Stderr), metrics: m}, nil
}

// newLogger builds the process logger: JSON by default, human-readable when
// LOG_FORMAT=console.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func (a *app) pool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns, a.logger)
}

// writeMetrics exports the run's counters when METRICS_FILE is set.
func (a *app) writeMetrics() {
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile, time.Now()); err != nil {
		a.logger.Error().Err(err).Str("path", a.cfg.MetricsFile).Msg("failed to write metrics textfile")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
