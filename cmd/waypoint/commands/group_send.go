package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"waypoint/internal/domain"
)

func groupSendCmd() *cobra.Command {
	var members []string
	cmd := &cobra.Command{
		Use:   "group-send <group> <message>",
		Short: "Encrypt a message once and send it to every group member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.RequireRelay(); err != nil {
				return err
			}
			ids := make([]domain.UserID, 0, len(members))
			for _, m := range members {
				ids = append(ids, domain.UserID(m))
			}
			report, err := appCtx.Messages.SendGroup(cmd.Context(), domain.GroupID(args[0]), ids, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("message %s delivered to %d member(s)\n", report.MessageID, len(report.Delivered))
			for _, f := range report.Failed {
				fmt.Printf("  %s: %v\n", f.Recipient, f.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&members, "member", "m", nil, "group member (repeatable)")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}
