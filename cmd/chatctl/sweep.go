package main

import (
	"fmt"
	"time"

	"github.com/memechat/server/internal/repo"
	"github.com/spf13/cobra"
)

func newSweepCmd(open openFunc) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired challenges and sessions",
		Long: `Delete auth challenges and sessions whose expiry is older than --grace.
Used and unused challenges are both removed once expired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if grace < 0 {
				return fmt.Errorf("--grace must not be negative")
			}
			database, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			cutoff := time.Now().Add(-grace)
			challenges, err := repo.NewChallengeRepo(database).DeleteExpired(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("sweep challenges: %w", err)
			}
			sessions, err := repo.NewSessionRepo(database).DeleteExpired(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("sweep sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d challenges, %d sessions\n", challenges, sessions)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", time.Hour, "keep rows that expired less than this long ago")
	return cmd
}
