package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/notemigrate/internal/platform/db"
	"github.com/ehr/notemigrate/migrations"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending lookup-index migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

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

			migrator := db.NewMigrator(pool, migrations.FS, a.logger)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	migrateCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(migrateCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, pool statistics and migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

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

			out := cmd.OutOrStdout()
			stats := db.Check(ctx, pool, db.GetPoolStats(pool))
			fmt.Fprintf(out, "Database healthy: %t (latency %s)\n", stats.Healthy, stats.Latency)
			if stats.Error != "" {
				fmt.Fprintf(out, "  error: %s\n", stats.Error)
			}
			fmt.Fprintf(out, "Pool: %d total, %d idle, %d acquired, %d max\n\n",
				stats.TotalConns, stats.IdleConns, stats.AcquiredConns, stats.MaxConns)

			statuses, err := db.NewMigrator(pool, migrations.FS, a.logger).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}
