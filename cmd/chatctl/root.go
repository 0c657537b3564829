package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/memechat/server/internal/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Operate a memechat server database",
		Long: `Operator commands for the memechat API database.

Examples:
  chatctl migrate up
  chatctl sweep --grace 1h
  chatctl sessions revoke --user 8f1c...
  chatctl keys show --user 8f1c...`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load(".env")
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		},
	}

	root.PersistentFlags().String("database-url", "", "PostgreSQL DSN (defaults to $DATABASE_URL)")
	_ = v.BindPFlag("DATABASE_URL", root.PersistentFlags().Lookup("database-url"))

	open := func(ctx context.Context) (*sql.DB, error) {
		dsn := strings.TrimSpace(v.GetString("DATABASE_URL"))
		if dsn == "" {
			return nil, fmt.Errorf("DATABASE_URL is required (flag --database-url or environment)")
		}
		return db.Open(ctx, dsn, db.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	}

	root.AddCommand(
		newMigrateCmd(open),
		newSweepCmd(open),
		newSessionsCmd(open),
		newKeysCmd(open),
	)
	return root
}

type openFunc func(ctx context.Context) (*sql.DB, error)
