package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jholhewres/whatbot/pkg/whatbot/bot"
	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/channels/discord"
	"github.com/jholhewres/whatbot/pkg/whatbot/channels/whatsapp"
	"github.com/jholhewres/whatbot/pkg/whatbot/completion"
	"github.com/jholhewres/whatbot/pkg/whatbot/config"
	"github.com/jholhewres/whatbot/pkg/whatbot/history"
	"github.com/jholhewres/whatbot/pkg/whatbot/responder"
	"github.com/jholhewres/whatbot/pkg/whatbot/setup"
	"github.com/jholhewres/whatbot/pkg/whatbot/terminal"
	"github.com/spf13/cobra"
)

// resolveAPIKey is replaceable in tests so the OS keyring is never read.
var resolveAPIKey = config.ResolveAPIKey

// newServeCmd creates the `whatbot serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Link the account and start answering messages",
		Long: `Connect to the configured channel, pair if needed, select contacts
and answer their messages until interrupted.

Examples:
  whatbot serve
  whatbot serve --config ./whatbot.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	console := terminal.NewConsole(cmd.OutOrStdout())

	// ── Load config ──
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg, cmd.ErrOrStderr())

	// ── Resolve secrets ──
	// The key must be known before any connection is attempted.
	resolveAPIKey(cfg, logger)
	if err := cfg.RequireAPIKey(); err != nil {
		console.Failure("MISSING API KEY", err)
		return &reportedError{err: err}
	}

	// ── History ──
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retention := history.NewRetention(store, cfg.History.Retention, cfg.History.PruneSchedule, logger)
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	// ── Channel ──
	ch, err := newChannel(cfg, store, logger)
	if err != nil {
		return err
	}

	b := bot.New(
		ch,
		completion.NewClient(cfg.Completion, logger),
		setup.HuhPrompter{},
		console,
		bot.Config{
			Personality: cfg.Personality,
			ChatChoices: cfg.ChatChoices,
			Responder: responder.Config{
				HistoryLimit: cfg.HistoryLimit,
				Params:       completion.DefaultParams(),
			},
		},
		logger,
	)

	logger.Info("starting whatbot", "channel", ch.Name(), "model", cfg.Completion.Model)
	runErr := b.Run(ctx)

	logger.Info("shutting down")
	if err := ch.Disconnect(); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}

	if runErr != nil {
		console.Failure("CONNECTION FAILURE", runErr)
		return &reportedError{err: fmt.Errorf("running bot: %w", runErr)}
	}
	return nil
}

// loadConfig loads and validates the configuration named by --config, or
// the auto-discovered one.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the slog logger from the logging section.
func newLogger(cmd *cobra.Command, cfg *config.Config, out io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch {
	case verbose || cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// newChannel creates the configured messaging channel.
func newChannel(cfg *config.Config, rec history.Recorder, logger *slog.Logger) (channels.Messenger, error) {
	switch cfg.Channel {
	case config.ChannelWhatsApp:
		return whatsapp.New(cfg.WhatsApp, rec, logger), nil
	case config.ChannelDiscord:
		return discord.New(cfg.Discord, rec, logger), nil
	}
	return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
}
