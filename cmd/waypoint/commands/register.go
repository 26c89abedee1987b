package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	var rotate bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish your key bundle to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rotate {
				signer, err := appCtx.Keys.Signer(cmd.Context())
				if err != nil {
					return err
				}
				spk, err := appCtx.Keys.RotateSignedPreKey(cmd.Context(), signer)
				if err != nil {
					return fmt.Errorf("rotating signed pre-key: %w", err)
				}
				fmt.Printf("Signed pre-key rotated to %s\n", spk.ID)
			}
			r, err := appCtx.Replenisher(cmd.Context())
			if err != nil {
				return err
			}
			bundle, err := r.Replenish(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s with %d one-time pre-keys\n", bundle.User, len(bundle.OneTimePreKeys))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rotate, "rotate", false, "mint a new signed pre-key before publishing")
	return cmd
}
