package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/channels/whatsapp"
	"github.com/jholhewres/whatbot/pkg/whatbot/config"
	"github.com/spf13/cobra"
)

// logoutTimeout bounds the reconnect needed before unlinking.
const logoutTimeout = 30 * time.Second

// newLogoutCmd creates the `whatbot logout` command that unlinks the
// WhatsApp device and deletes the local session.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the WhatsApp device and delete the saved session",
		RunE:  runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Channel != config.ChannelWhatsApp {
		return fmt.Errorf("logout is only supported for the %s channel", config.ChannelWhatsApp)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), logoutTimeout)
	defer cancel()

	wa := whatsapp.New(cfg.WhatsApp, nil, logger)
	if err := wa.Open(ctx); err != nil {
		return err
	}
	defer wa.Disconnect()

	if !wa.Linked() {
		fmt.Fprintln(out, "No linked WhatsApp session.")
		return nil
	}

	if err := wa.Connect(ctx); err != nil {
		return err
	}
	if err := waitReady(ctx, wa.Events()); err != nil {
		return err
	}

	if err := wa.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged out. The device was unlinked and the session deleted.")
	return nil
}

// waitReady blocks until the channel reports ready or fails.
func waitReady(ctx context.Context, events <-chan channels.Event) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case evt, ok := <-events:
			if !ok {
				return channels.ErrChannelDisconnected
			}
			switch evt.Type {
			case channels.EventReady:
				return nil
			case channels.EventAuthFailure:
				return fmt.Errorf("%w: %s", channels.ErrConnectionFailed, evt.Reason)
			}
		}
	}
}
