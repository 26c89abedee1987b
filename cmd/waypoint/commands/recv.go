package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"waypoint/internal/domain"
)

// recv: fetch and decrypt queued messages.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.RequireRelay(); err != nil {
				return err
			}
			msgs, err := appCtx.Messages.ReceiveMessages(cmd.Context(), limit)
			for _, m := range msgs {
				ts := time.Unix(m.Timestamp, 0).Format(time.DateTime)
				if m.Group != "" {
					fmt.Printf("%s [%s@%s] %s\n", ts, m.From, m.Group, m.Plaintext)
					continue
				}
				fmt.Printf("%s [%s] %s\n", ts, m.From, m.Plaintext)
			}
			if errors.Is(err, domain.ErrMaxSkipExceeded) {
				fmt.Fprintln(os.Stderr, "a conversation fell too far behind; run start-conversation to renegotiate")
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "fetch at most n deliveries (0 = all)")
	return cmd
}
