package main

import (
	"database/sql"

	"github.com/memechat/server/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(fn func(*sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			database, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()
			return fn(database)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run(db.Migrate),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE:  run(db.MigrateDown),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print migration status",
			Args:  cobra.NoArgs,
			RunE:  run(db.MigrationStatus),
		},
	)
	return cmd
}
