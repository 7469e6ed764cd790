// Package bot drives a messaging channel through the pairing and
// authentication lifecycle, runs the one-time contact selection and hands
// inbound messages to the responder.
//
// All channel events are consumed by a single loop. Each event is fed to
// the lifecycle machine first and its entry action runs only when the
// transition is allowed.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/lifecycle"
	"github.com/jholhewres/whatbot/pkg/whatbot/responder"
	"github.com/jholhewres/whatbot/pkg/whatbot/setup"
)

// Console is the operator-facing output.
type Console interface {
	responder.Transcript
	PairingCode(code string)
	Info(format string, args ...any)
	Success(msg string)
}

// Config tunes the bot.
type Config struct {
	// Personality pre-fills the setup prompt.
	Personality string

	// ChatChoices is the number of chats offered during setup.
	ChatChoices int

	// Responder configures message handling.
	Responder responder.Config
}

// Bot wires a channel to the responder.
type Bot struct {
	channel   channels.Messenger
	completer responder.Completer
	prompter  setup.Prompter
	console   Console
	machine   *lifecycle.Machine
	cfg       Config
	logger    *slog.Logger

	// responder is nil until setup commits.
	responder atomic.Pointer[responder.Responder]
}

// New creates a bot. Nothing happens until Run.
func New(ch channels.Messenger, completer responder.Completer, prompter setup.Prompter, console Console, cfg Config, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		channel:   ch,
		completer: completer,
		prompter:  prompter,
		console:   console,
		machine:   lifecycle.NewMachine(),
		cfg:       cfg,
		logger:    logger.With("component", "bot"),
	}
}

// State returns the current lifecycle state.
func (b *Bot) State() lifecycle.State { return b.machine.State() }

// Run connects the channel and processes its events until ctx is
// cancelled or the channel closes its event stream. In-flight message
// handlers are not awaited.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.channel.Connect(ctx); err != nil {
		return err
	}

	events := b.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.dispatch(ctx, evt)
		}
	}
}

// dispatch fires evt on the lifecycle machine and runs the entry action.
func (b *Bot) dispatch(ctx context.Context, evt channels.Event) {
	tr, err := b.machine.Fire(evt.Type)
	if err != nil {
		b.logger.Debug("ignoring event", "error", err)
		return
	}
	if tr.From != tr.To {
		b.logger.Debug("lifecycle transition", "from", tr.From, "to", tr.To, "event", tr.Event)
	}

	switch evt.Type {
	case channels.EventPairingCode:
		b.console.PairingCode(evt.Code)

	case channels.EventAuthenticated:
		if tr.Entered(lifecycle.StateAuthenticating) {
			b.onAuthenticated(ctx)
		}

	case channels.EventAuthFailure:
		b.logger.Error("authentication failed", "reason", evt.Reason)
		b.console.Failure(platformLabel(b.channel.Name())+" AUTHENTICATION FAILURE", errors.New(evt.Reason))

	case channels.EventReady:
		if tr.Entered(lifecycle.StateReady) {
			b.console.Info("Whatbot is ready!")
			go b.runSetup(ctx)
		}

	case channels.EventMessage:
		r := b.responder.Load()
		if r == nil || evt.Message == nil {
			return
		}
		go r.Handle(ctx, evt.Message)
	}
}

// onAuthenticated persists the session. Failure is logged only.
func (b *Bot) onAuthenticated(ctx context.Context) {
	if err := b.channel.SaveSession(ctx); err != nil {
		b.logger.Warn("saving session failed", "error", err)
	}
	b.console.Success(platformName(b.channel.Name()) + " authentication successful.")
}

// runSetup asks the operator once for personality and contacts. On error
// the bot stays inert.
func (b *Bot) runSetup(ctx context.Context) {
	settings, err := setup.Run(ctx, b.channel, b.prompter, b.cfg.Personality, b.cfg.ChatChoices)
	if err != nil {
		b.logger.Error("setup failed, no contacts selected", "error", err)
		b.console.Failure("PROMPT FAILURE", err)
		return
	}

	r := responder.New(settings, b.channel, b.completer, b.console, b.cfg.Responder, b.logger)
	b.responder.Store(r)
	b.logger.Info("setup committed", "contacts", settings.ContactCount())
	b.console.Success("AI activated. Listening for messages...")
}

func platformName(channel string) string {
	switch channel {
	case "whatsapp":
		return "WhatsApp"
	case "discord":
		return "Discord"
	}
	return channel
}

func platformLabel(channel string) string {
	switch channel {
	case "whatsapp":
		return "WHATSAPP"
	case "discord":
		return "DISCORD"
	}
	return "CHANNEL"
}
