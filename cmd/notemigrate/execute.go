package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/notemigrate/internal/domain/notes"
	"github.com/ehr/notemigrate/internal/domain/tracker"
	"github.com/ehr/notemigrate/internal/menu"
	"github.com/ehr/notemigrate/internal/migration"
)

var executeArgs = map[string]menu.Action{
	"new":      menu.ActionNew,
	"reinsert": menu.ActionReinsert,
	"delete":   menu.ActionDelete,
	"stats":    menu.ActionStats,
	"empty":    menu.ActionEmpty,
}

func parseAction(arg string) (menu.Action, error) {
	a, ok := executeArgs[arg]
	if !ok {
		return menu.ActionExit, fmt.Errorf("unknown execute action %q (want new, reinsert, delete, stats or empty)", arg)
	}
	return a, nil
}

func executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "execute [new|reinsert|delete|stats|empty]",
		Short:     "Run the generated SQL script against the database",
		Long:      "Without an argument an interactive menu is shown.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"new", "reinsert", "delete", "stats", "empty"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}

			ledger, err := tracker.LoadLedger(a.cfg.LedgerFile)
			if err != nil {
				return err
			}

			var action menu.Action
			if len(args) == 1 {
				if action, err = parseAction(args[0]); err != nil {
					return err
				}
			} else {
				header := fmt.Sprintf("ledger: %d executed notes • script: %s", ledger.Len(), a.cfg.OutputSQLFile)
				if action, err = menu.Choose(header, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			if action == menu.ActionExit {
				return nil
			}

			ctx, stop := signalContext()
			defer stop()
			err = runExecute(ctx, a, ledger, action, cmd.InOrStdin(), cmd.OutOrStdout())
			a.writeMetrics()
			return err
		},
	}
}

func runExecute(ctx context.Context, a *app, ledger *tracker.Ledger, action menu.Action, in io.Reader, out io.Writer) error {
	if action == menu.ActionStats {
		printStats(out, tracker.New(ledger, nil, nil, a.metrics, a.logger).Stats())
		return nil
	}

	runlog, err := migration.LoadRunLog(a.cfg.ResultsFile, time.Now())
	if err != nil {
		return err
	}

	pool, err := a.pool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	tr := tracker.New(ledger, tracker.NewStore(pool), runlog, a.metrics, a.logger)
	confirm := tracker.NewLineConfirmer(in, out)

	switch action {
	case menu.ActionNew, menu.ActionReinsert:
		entries, err := notes.ReadScript(a.cfg.OutputSQLFile)
		if err != nil {
			return err
		}
		mode := tracker.ModeNew
		if action == menu.ActionReinsert {
			mode = tracker.ModeReinsert
		}
		report, err := tr.Execute(ctx, entries, mode)
		if report != nil {
			printExecuteReport(out, report)
		}
		return err

	case menu.ActionDelete:
		ans, err := confirm.Confirm(fmt.Sprintf("Delete the %d rows recorded in %s? Type 'yes' to continue: ", ledger.Len(), ledger.Path()))
		if err != nil {
			return err
		}
		if ans != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
		report, err := tr.DeletePrevious(ctx)
		if report != nil {
			printDeleteReport(out, report)
		}
		return err

	case menu.ActionEmpty:
		rows, err := tr.EmptyTable(ctx, confirm)
		if errors.Is(err, tracker.ErrNotConfirmed) {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d rows from patient_notes and cleared the ledger.\n", rows)
		return nil
	}
	return nil
}

func printExecuteReport(w io.Writer, r *tracker.ExecuteReport) {
	fmt.Fprintf(w, "\nExecution (%s)\n", r.Mode)
	fmt.Fprintf(w, "  statements:        %d\n", r.Total)
	fmt.Fprintf(w, "  succeeded:         %d\n", r.Succeeded)
	fmt.Fprintf(w, "  failed:            %d\n", r.Failed)
	fmt.Fprintf(w, "  already executed:  %d\n", r.AlreadyExecuted)
	if r.Untracked > 0 {
		fmt.Fprintf(w, "  untracked skipped: %d\n", r.Untracked)
	}
	fmt.Fprintf(w, "  success rate:      %.1f%%\n", r.SuccessRate())
	fmt.Fprintf(w, "  duration:          %s\n", r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "\n  #%d note %s: %s\n    %s\n", e.Index, e.NoteID, e.Error, e.Statement)
	}
}

func printDeleteReport(w io.Writer, r *tracker.DeleteReport) {
	fmt.Fprintf(w, "\nDelete previous\n")
	fmt.Fprintf(w, "  tracked:   %d\n", r.Tracked)
	fmt.Fprintf(w, "  deleted:   %d (%d by patient and date)\n", r.Deleted, r.Heuristic)
	fmt.Fprintf(w, "  diverged:  %d\n", r.Diverged)
	fmt.Fprintf(w, "  failed:    %d\n", r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  note %s: %s\n", e.NoteID, e.Error)
	}
}

func printStats(w io.Writer, st *tracker.Stats) {
	fmt.Fprintf(w, "Executed notes: %d\n", st.Total)
	if st.Total == 0 {
		return
	}

	modes := make([]string, 0, len(st.ByMode))
	for m := range st.ByMode {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)
	for _, m := range modes {
		fmt.Fprintf(w, "  %-10s %d\n", m+":", st.ByMode[tracker.Mode(m)])
	}
	fmt.Fprintf(w, "Patients: %d\n", len(st.ByPatient))
	if st.WithoutDBID > 0 {
		fmt.Fprintf(w, "Entries without a row id: %d (deleted by patient and date)\n", st.WithoutDBID)
	}
	fmt.Fprintf(w, "First executed: %s\n", st.Oldest.Format(time.RFC3339))
	fmt.Fprintf(w, "Last executed:  %s\n", st.Newest.Format(time.RFC3339))
}
