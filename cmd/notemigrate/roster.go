package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehr/notemigrate/internal/domain/roster"
)

func rosterFiles(a *app) roster.Files {
	return roster.Files{
		Providers:   a.cfg.ProvidersFile,
		PatientIDs:  a.cfg.PatientIDsFile,
		ProviderLog: a.cfg.ProviderLogFile,
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show provider and patient counts from the roster files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}

			st, err := roster.NewService(nil, rosterFiles(a), a.logger).Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Providers: %d\n", len(st.ProviderIDs))
			if st.Log == nil {
				fmt.Fprintf(out, "Provider log %s not generated yet; run `notemigrate index rebuild`.\n", a.cfg.ProviderLogFile)
			} else {
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "\nPROVIDER\tPATIENTS\tUPDATED")
				for _, id := range st.SortedLogIDs() {
					e := st.Log[id]
					fmt.Fprintf(tw, "%s\t%d\t%s\n", id, e.PatientCount, e.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				tw.Flush()
			}

			if st.UniquePatients < 0 {
				fmt.Fprintf(out, "\nPatient id cache %s not found.\n", a.cfg.PatientIDsFile)
			} else {
				fmt.Fprintf(out, "\nTotal unique patients: %d\n", st.UniquePatients)
			}
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage the provider list",
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Refresh the provider list from the users table",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, _ := cmd.Flags().GetBool("details")
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			pool, err := a.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := roster.NewService(roster.NewRepo(pool), rosterFiles(a), a.logger)
			res, err := svc.RefreshProviders(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %d provider ids to %s (%+d since last refresh)\n", len(res.ProviderIDs), a.cfg.ProvidersFile, res.Diff())
			if res.Backup != "" {
				fmt.Fprintf(out, "Previous list saved as %s\n", res.Backup)
			}

			if !details {
				return nil
			}
			providers, err := svc.ActiveProviders(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "\nID\tNAME\tEMAIL\tPRAC ID\tROLE\tCOUNTRY")
			for _, p := range providers {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name(), p.Email, p.PracID, p.Role, p.Country)
			}
			return tw.Flush()
		},
	}
	fetchCmd.Flags().Bool("details", false, "Also list active providers")
	fetchCmd.Flags().Int("limit", 50, "Maximum providers listed with --details")
	cmd.AddCommand(fetchCmd)

	return cmd
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the provider → patient index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the patient id cache from appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			pool, err := a.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			cache, err := roster.NewService(roster.NewRepo(pool), rosterFiles(a), a.logger).RebuildPatientCache(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cached %d unique patient ids in %s\n", len(cache.PatientIDs), a.cfg.PatientIDsFile)
			return nil
		},
	})

	return cmd
}
