// Package discord implements the Discord channel for Whatbot using
// discordgo. Contacts are Discord user IDs and conversations are direct
// messages with the bot user.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/history"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`
}

// Discord implements channels.Messenger.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session
	history history.Recorder

	events    chan channels.Event
	eventsMu  sync.RWMutex
	closed    bool
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance. The recorder remembers which
// users have written to the bot so they can be offered during setup.
func New(cfg Config, rec history.Recorder, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:     cfg,
		logger:  logger.With("component", "discord"),
		history: rec,
		events:  make(chan channels.Event, 256),
		ctx:     context.Background(),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Events returns the lifecycle and message event stream.
func (d *Discord) Events() <-chan channels.Event { return d.events }

// IsConnected returns true if the gateway session is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onReady)
	session.AddHandler(d.onMessageCreate)

	d.session = session
	if err := session.Open(); err != nil {
		d.emit(channels.Event{Type: channels.EventAuthFailure, Reason: err.Error()})
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	return nil
}

// Disconnect closes the Discord gateway connection and the event stream.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)

	d.eventsMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.eventsMu.Unlock()

	d.logger.Info("discord: disconnected")
	return nil
}

// SaveSession is a no-op: bot tokens need no session persistence.
func (d *Discord) SaveSession(context.Context) error { return nil }

// Send opens (or reuses) the DM channel with the user and sends the text.
func (d *Discord) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	dm, err := d.session.UserChannelCreate(to)
	if err != nil {
		return fmt.Errorf("%w: opening DM: %v", channels.ErrSendFailed, err)
	}

	for i, chunk := range splitDiscordMessage(message.Content, maxMessageLen) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if _, err := d.session.ChannelMessageSendComplex(dm.ID, msgSend); err != nil {
			return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(_ context.Context, chatID string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(chatID)
}

// ---------- Directory / HistoryReader ----------

// SelfName returns the bot's display name.
func (d *Discord) SelfName(context.Context) (string, error) {
	if d.session == nil || d.session.State == nil || d.session.State.User == nil {
		return "", channels.ErrChannelDisconnected
	}
	return displayName(d.session.State.User), nil
}

// ContactName returns the display name of a Discord user.
func (d *Discord) ContactName(_ context.Context, id string) (string, error) {
	if d.session == nil {
		return "", channels.ErrChannelDisconnected
	}
	user, err := d.session.User(id)
	if err != nil {
		return "", fmt.Errorf("discord: fetching user: %w", err)
	}
	return displayName(user), nil
}

// Chats returns users with an open DM channel, followed by users who wrote
// to the bot in earlier runs.
func (d *Discord) Chats(ctx context.Context, limit int) ([]channels.Chat, error) {
	if d.session == nil || d.session.State == nil {
		return nil, channels.ErrChannelDisconnected
	}

	chats := chatsFromChannels(d.session.State.PrivateChannels)
	if len(chats) < limit && d.history != nil {
		known, err := d.history.RecentChats(ctx, limit)
		if err != nil {
			return nil, err
		}
		chats = mergeChats(chats, known)
	}
	if len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

// History returns the newest limit messages of a DM channel in
// chronological order.
func (d *Discord) History(_ context.Context, chatID string, limit int) ([]channels.HistoryMessage, error) {
	if d.session == nil {
		return nil, channels.ErrChannelDisconnected
	}
	msgs, err := d.session.ChannelMessages(chatID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("discord: fetching messages: %w", err)
	}
	selfID := ""
	if d.session.State != nil && d.session.State.User != nil {
		selfID = d.session.State.User.ID
	}
	return toHistory(msgs, selfID), nil
}

// ---------- Event Handlers ----------

// onReady marks the session usable.
func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.connected.Store(true)
	if r.User != nil {
		d.logger.Info("discord: connected", "bot", r.User.Username, "id", r.User.ID)
	}
	d.emit(channels.Event{Type: channels.EventAuthenticated})
	d.emit(channels.Event{Type: channels.EventReady})
}

// onMessageCreate forwards direct messages from users.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	// Guild channels are not conversations with the bot.
	if m.GuildID != "" || strings.TrimSpace(m.Content) == "" {
		return
	}

	if d.history != nil {
		err := d.history.Record(d.ctx, history.Entry{
			ChatID:   m.Author.ID,
			ChatName: displayName(m.Author),
			HistoryMessage: channels.HistoryMessage{
				ID:     m.ID,
				Sender: m.Author.ID,
				Body:   m.Content,
				SentAt: m.Timestamp,
			},
		})
		if err != nil {
			d.logger.Warn("discord: recording message failed", "error", err)
		}
	}

	d.emit(channels.Event{
		Type: channels.EventMessage,
		Message: &channels.IncomingMessage{
			ID:        m.ID,
			Channel:   "discord",
			From:      m.Author.ID,
			FromName:  displayName(m.Author),
			ChatID:    m.ChannelID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		},
		Timestamp: m.Timestamp,
	})
}

// emit publishes an event without blocking the gateway goroutine.
func (d *Discord) emit(evt channels.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	d.eventsMu.RLock()
	defer d.eventsMu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.events <- evt:
	default:
		d.logger.Warn("discord: event buffer full, dropping event", "type", evt.Type)
	}
}

// ---------- Helpers ----------

// displayName prefers the global display name over the username.
func displayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// toHistory converts newest-first API messages into chronological history.
func toHistory(msgs []*discordgo.Message, selfID string) []channels.HistoryMessage {
	out := make([]channels.HistoryMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Author == nil || m.Content == "" {
			continue
		}
		out = append(out, channels.HistoryMessage{
			ID:     m.ID,
			Sender: m.Author.ID,
			Body:   m.Content,
			FromMe: m.Author.ID == selfID,
			SentAt: m.Timestamp,
		})
	}
	return out
}

// chatsFromChannels lists the recipients of one-to-one DM channels.
func chatsFromChannels(chs []*discordgo.Channel) []channels.Chat {
	var out []channels.Chat
	for _, ch := range chs {
		if ch == nil || ch.Type != discordgo.ChannelTypeDM || len(ch.Recipients) != 1 {
			continue
		}
		u := ch.Recipients[0]
		out = append(out, channels.Chat{ID: u.ID, Name: displayName(u)})
	}
	return out
}

// mergeChats appends chats whose IDs are not present yet.
func mergeChats(chats, more []channels.Chat) []channels.Chat {
	seen := make(map[string]bool, len(chats))
	for _, c := range chats {
		seen[c.ID] = true
	}
	for _, c := range more {
		if !seen[c.ID] {
			seen[c.ID] = true
			chats = append(chats, c)
		}
	}
	return chats
}

// splitDiscordMessage splits a message into chunks respecting the 2000 char limit.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Prefer splitting at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var _ channels.Messenger = (*Discord)(nil)
