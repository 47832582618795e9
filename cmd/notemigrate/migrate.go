package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/notemigrate/internal/domain/identity"
	"github.com/ehr/notemigrate/internal/domain/notes"
	"github.com/ehr/notemigrate/internal/domain/roster"
	"github.com/ehr/notemigrate/internal/domain/tracker"
	"github.com/ehr/notemigrate/internal/migration"
	"github.com/ehr/notemigrate/internal/platform/jsonfile"
	"github.com/ehr/notemigrate/internal/platform/retry"
	"github.com/ehr/notemigrate/internal/telehealth"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Fetch encounter notes and generate the SQL script",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start-new",
		Short: "Start a fresh migration, moving the previous results log aside",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, true)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "re-run",
		Short: "Continue a migration, skipping notes already processed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, false)
		},
	})

	return cmd
}

func runMigration(cmd *cobra.Command, fresh bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	cfg := a.cfg
	out := cmd.OutOrStdout()
	abort := func(err error) error {
		return abortRun(out, a.logger, cfg.ResultsFile, err)
	}

	if err := cfg.ValidateRemote(); err != nil {
		return abort(err)
	}

	ctx, stop := signalContext()
	defer stop()

	if fresh {
		backup, err := jsonfile.Rotate(cfg.ResultsFile, time.Now())
		if err != nil {
			return abort(err)
		}
		if backup != "" {
			a.logger.Info().Str("backup", backup).Msg("previous results log moved aside")
		}
	}

	ids, err := roster.NewService(nil, rosterFiles(a), a.logger).LoadPatientIDs()
	if errors.Is(err, os.ErrNotExist) {
		return abort(fmt.Errorf("patient id cache %s not found, run `notemigrate index rebuild` first", cfg.PatientIDsFile))
	}
	if err != nil {
		return abort(err)
	}

	pool, err := a.pool(ctx)
	if err != nil {
		return abort(err)
	}
	defer pool.Close()

	ledger, err := tracker.LoadLedger(cfg.LedgerFile)
	if err != nil {
		return abort(err)
	}
	runlog, err := migration.LoadRunLog(cfg.ResultsFile, time.Now())
	if err != nil {
		return abort(err)
	}

	client := telehealth.NewClient(telehealth.Options{
		BaseURL:         cfg.APIBaseURL,
		RequestTimeout:  cfg.RequestTimeout,
		TimeoutRetries:  cfg.TimeoutRetries,
		RetryDelay:      cfg.FetchRetryDelay,
		RateLimitRPS:    cfg.RateLimitRPS,
		BreakerFailures: cfg.BreakerFailures,
	}, &http.Client{}, a.metrics, a.logger)

	resolver := identity.NewCachedResolver(identity.NewRepo(pool), cfg.LookupCacheTTL, a.logger)

	orch := migration.NewOrchestrator(
		client,
		resolver,
		notes.NewScriptWriter(cfg.OutputSQLFile),
		runlog,
		ledger,
		a.metrics,
		migration.Options{
			Username:        cfg.APIUsername,
			Password:        cfg.APIPassword,
			Concurrency:     cfg.Concurrency,
			BatchPause:      cfg.BatchPause,
			SQLWorkers:      cfg.SQLWorkers,
			DefaultAuthorID: cfg.DefaultAuthorID,
			Retry:           retry.Policy{MaxAttempts: cfg.FetchAttempts, Delay: cfg.FetchRetryDelay},
		},
		a.logger,
	)

	summary, runErr := orch.Run(ctx, ids)
	summary.Print(out)
	fmt.Fprintf(out, "\nSee %s for the detailed run log.\n", runlog.Path())

	a.writeMetrics()
	return runErr
}

// abortRun reports a run that failed before any patient was processed. The
// cause is recorded in the results file when that file can be read; a corrupt
// one is left untouched.
func abortRun(out io.Writer, logger zerolog.Logger, resultsFile string, cause error) error {
	now := time.Now()
	summary := &migration.Summary{RunID: uuid.NewString(), Started: now, Fatal: cause.Error()}

	runlog, err := migration.LoadRunLog(resultsFile, now)
	if err == nil {
		runlog.Begin(summary.RunID, now)
		runlog.AddError(now, cause)
		if err = runlog.Save(); err != nil {
			logger.Error().Err(err).Str("path", resultsFile).Msg("failed to save run log")
		}
	}

	summary.Print(out)
	if err == nil {
		fmt.Fprintf(out, "\nSee %s for the detailed run log.\n", resultsFile)
	}
	return cause
}
