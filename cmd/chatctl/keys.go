package main

import (
	"encoding/base64"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
	"github.com/spf13/cobra"
)

func newKeysCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect published encryption keys",
	}

	var (
		userFlag string
		version  int
	)
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a user's current (or a historical) public key",
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

			keyRepo := repo.NewKeyRepo(database)
			var rec model.EncryptionKeyRecord
			if version > 0 {
				rec, err = keyRepo.GetVersion(cmd.Context(), userID, version)
			} else {
				rec, err = keyRepo.GetCurrent(cmd.Context(), userID)
			}
			if err != nil {
				return fmt.Errorf("lookup key: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "USER\t%s\n", rec.UserID)
			fmt.Fprintf(w, "VERSION\t%d\n", rec.KeyVersion)
			fmt.Fprintf(w, "PUBLIC KEY\t%s\n", base64.StdEncoding.EncodeToString(rec.PublicKey))
			fmt.Fprintf(w, "UPDATED\t%s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05Z07:00"))
			return w.Flush()
		},
	}
	show.Flags().StringVar(&userFlag, "user", "", "user id")
	show.Flags().IntVar(&version, "version", 0, "historical key version (default: current)")
	_ = show.MarkFlagRequired("user")

	cmd.AddCommand(show)
	return cmd
}
