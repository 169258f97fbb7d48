package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/visionbench/internal/store"
)

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireDatabase(); err != nil {
				return err
			}
			if err := store.RunMigrations(g.databaseURL, g.migrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireDatabase(); err != nil {
				return err
			}
			if err := store.RollbackMigrations(g.databaseURL, g.migrationsDir, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireDatabase(); err != nil {
				return err
			}
			v, dirty, err := store.MigrationVersion(g.databaseURL, g.migrationsDir)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"version": v, "dirty": dirty})
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}
