package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"waypoint/internal/app"
	"waypoint/internal/domain"
)

var (
	cfg    app.Config
	appCtx *app.Wire

	home       string
	passphrase string
	relayURL   string
	user       string
	storeKind  string
)

// Execute runs the root command.
func Execute() error {
	cfg = app.LoadConfig()

	root := &cobra.Command{
		Use:           "waypoint",
		Short:         "End-to-end encrypted messaging CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home != "" {
				cfg.Home = home
			}
			if passphrase != "" {
				cfg.Passphrase = passphrase
			}
			if relayURL != "" {
				cfg.RelayURL = relayURL
			}
			if user != "" {
				cfg.User = domain.UserID(user)
			}
			if storeKind != "" {
				cfg.Store = storeKind
			}

			w, err := app.NewWire(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			appCtx = w
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appCtx != nil {
				appCtx.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "key directory (default $WAYPOINT_HOME or ~/.waypoint)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the keys (default $WAYPOINT_PASSPHRASE)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL, e.g. http://127.0.0.1:8080")
	root.PersistentFlags().StringVarP(&user, "user", "u", "", "your user id on the relay (default $WAYPOINT_USER)")
	root.PersistentFlags().StringVar(&storeKind, "store", "", "key store backend: file or postgres")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		replenishCmd(),
		startConversationCmd(),
		sendCmd(),
		recvCmd(),
		groupSendCmd(),
		messageFingerprintCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}
