package responder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/completion"
)

// DefaultHistoryLimit is how many recent chat messages feed each prompt.
const DefaultHistoryLimit = 6

// Messenger is the part of a channel the responder talks to.
type Messenger interface {
	channels.Directory
	channels.HistoryReader
	channels.PresenceChannel
	Send(ctx context.Context, to string, message *channels.OutgoingMessage) error
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, p completion.Params) (string, error)
}

// Transcript receives the operator-facing conversation lines.
type Transcript interface {
	Incoming(name, body string)
	Reply(name, text string)
	Failure(label string, err error)
}

// Config tunes a Responder.
type Config struct {
	// HistoryLimit is the number of recent messages fetched per reply.
	HistoryLimit int

	// Params are the generation parameters for every completion.
	Params completion.Params
}

// Responder answers messages from the selected contacts.
type Responder struct {
	settings   Settings
	messenger  Messenger
	completer  Completer
	transcript Transcript
	cfg        Config
	logger     *slog.Logger
}

// New creates a Responder bound to the committed settings.
func New(settings Settings, messenger Messenger, completer Completer, transcript Transcript, cfg Config, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Params == (completion.Params{}) {
		cfg.Params = completion.DefaultParams()
	}
	return &Responder{
		settings:   settings,
		messenger:  messenger,
		completer:  completer,
		transcript: transcript,
		cfg:        cfg,
		logger:     logger.With("component", "responder"),
	}
}

// Settings returns the settings the responder was created with.
func (r *Responder) Settings() Settings { return r.settings }

// Handle processes one inbound message. Messages from senders outside the
// selected contacts are ignored without any lookup. Failures are logged
// and end the handling of this message only.
func (r *Responder) Handle(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil || !r.settings.Allows(msg.From) {
		return
	}

	logger := r.logger.With("request_id", uuid.NewString(), "from", msg.From)
	start := time.Now()

	selfName, err := r.messenger.SelfName(ctx)
	if err != nil {
		logger.Error("resolving own name failed", "error", err)
		r.transcript.Failure("PROFILE LOOKUP FAILURE", err)
		return
	}
	operator := FirstName(selfName)

	// In groups the prompt is written to the member who spoke; the reply
	// still goes to the group.
	speaker := msg.From
	if msg.Participant != "" {
		speaker = msg.Participant
	}

	contactName, err := r.messenger.ContactName(ctx, speaker)
	if err != nil || contactName == "" {
		logger.Debug("contact lookup fell back to push name", "error", err)
		contactName = msg.FromName
	}
	if contactName == "" {
		contactName = speaker
	}

	r.transcript.Incoming(contactName, msg.Content)

	chatID := msg.ChatID
	if chatID == "" {
		chatID = msg.From
	}
	history, err := r.messenger.History(ctx, chatID, r.cfg.HistoryLimit)
	if err != nil {
		logger.Error("fetching history failed", "chat", chatID, "error", err)
		r.transcript.Failure("HISTORY FETCH FAILURE", err)
		return
	}

	prompt := BuildPrompt(r.settings.Personality(), speaker, contactName, operator, history)

	if err := r.messenger.SendTyping(ctx, chatID); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}

	text, err := r.completer.Complete(ctx, prompt, r.cfg.Params)
	if err != nil {
		logger.Error("completion request failed", "error", err)
		r.transcript.Failure("GPT REQUEST FAILURE", err)
		return
	}

	reply := strings.TrimSpace(text)
	if reply == "" {
		logger.Warn("completion returned empty text, nothing sent")
		return
	}

	if err := r.messenger.Send(ctx, msg.From, &channels.OutgoingMessage{Content: reply}); err != nil {
		logger.Error("sending reply failed", "error", err)
		r.transcript.Failure("SEND FAILURE", err)
		return
	}

	r.transcript.Reply(operator, reply)
	logger.Debug("reply sent",
		"history", len(history),
		"prompt_chars", len(prompt),
		"duration_ms", time.Since(start).Milliseconds())
}
