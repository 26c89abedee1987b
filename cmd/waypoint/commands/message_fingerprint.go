package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// messageFingerprintCmd prints the ratchet key fingerprint of a stored
// ciphertext without decrypting it.
func messageFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message-fingerprint <file>",
		Short: "Print the ratchet fingerprint of an encoded ciphertext",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fp, err := appCtx.Conversations.ConversationFingerprint(raw)
			if err != nil {
				return err
			}
			fmt.Println(fp)
			return nil
		},
	}
}
