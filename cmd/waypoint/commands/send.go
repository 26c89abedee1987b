package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"waypoint/internal/domain"
)

// send <peer> <message>: encrypt and send a message to <peer>.
func sendCmd() *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.RequireRelay(); err != nil {
				return err
			}
			peer := domain.UserID(args[0])
			if err := appCtx.Messages.SendMessage(cmd.Context(), peer, conversationID(conversation, peer), []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default: the peer id)")
	return cmd
}
