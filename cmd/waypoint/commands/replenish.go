package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func replenishCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "replenish",
		Short: "Top up one-time pre-keys on the relay",
		Long: "Checks the relay's count of your one-time pre-keys and publishes a fresh batch when it is low.\n" +
			"With --watch, keeps listening for low-supply signals until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := appCtx.Replenisher(ctx)
			if err != nil {
				return err
			}
			if watch {
				fmt.Println("Watching for low pre-key signals, Ctrl-C to stop")
				return r.Run(ctx)
			}

			status, err := appCtx.Relay.PreKeyStatus(ctx, appCtx.Config.User)
			if err != nil {
				return err
			}
			if !status.Low {
				fmt.Printf("%d one-time pre-keys left, nothing to do\n", status.Remaining)
				return nil
			}
			if err := r.HandleStatus(ctx, status); err != nil {
				return err
			}
			fmt.Println("Published a fresh batch of one-time pre-keys")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and replenish on every low signal")
	return cmd
}
