package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"waypoint/internal/services/identity"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return identity.ValidatePassphrase(cfg.Passphrase)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := appCtx.Keys.LoadOrCreateIdentity(ctx); err != nil {
				return err
			}
			fp, err := appCtx.Keys.Fingerprint(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Identity ready.\nFingerprint: %s\n", fp)
			return nil
		},
	}
}
