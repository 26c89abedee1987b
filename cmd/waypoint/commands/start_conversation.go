package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"waypoint/internal/domain"
)

// startConversationCmd runs the handshake against the peer's published
// bundle and sends the invitation. Running it again renegotiates.
func startConversationCmd() *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "start-conversation <peer>",
		Short: "Open (or renegotiate) an encrypted conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.RequireRelay(); err != nil {
				return err
			}
			peer := domain.UserID(args[0])
			conv := conversationID(conversation, peer)
			if err := appCtx.Messages.StartConversation(cmd.Context(), peer, conv); err != nil {
				return fmt.Errorf("starting conversation with %q: %w", peer, err)
			}
			fmt.Printf("Conversation %s with %s started\n", conv, peer)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default: the peer id)")
	return cmd
}

// conversationID defaults the conversation to one per peer.
func conversationID(flag string, peer domain.UserID) domain.ConversationID {
	if flag != "" {
		return domain.ConversationID(flag)
	}
	return domain.ConversationID(peer)
}
