package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/repo"
	"github.com/spf13/cobra"
)

func newSessionsCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage user sessions",
	}

	var userFlag string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke every active session of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("--user must be a UUID: %w", err)
			}
			database, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			n, err := repo.NewSessionRepo(database).RevokeAllForUser(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("revoke sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", n)
			return nil
		},
	}
	revoke.Flags().StringVar(&userFlag, "user", "", "user id")
	_ = revoke.MarkFlagRequired("user")

	cmd.AddCommand(revoke)
	return cmd
}
