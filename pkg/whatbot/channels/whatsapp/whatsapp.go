// Package whatsapp implements the WhatsApp channel for Whatbot using
// whatsmeow, a native Go WhatsApp Web API library.
//
// The device session lives in a SQLite database (whatsmeow_ tables) and is
// reused across restarts; a QR pairing code is emitted only when no linked
// device exists. Linked devices do not get chat history on demand, so every
// text message seen here is written to the history recorder.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/history"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the device session.
	DatabasePath string `yaml:"database_path"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`

	// RespondToGroups emits message events for group chats too.
	RespondToGroups bool `yaml:"respond_to_groups"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath: "./.session/whatsapp.db",
		DeviceName:   "Whatbot",
	}
}

// WhatsApp implements channels.Messenger.
type WhatsApp struct {
	cfg     Config
	client  *whatsmeow.Client
	history history.Recorder
	logger  *slog.Logger

	events    chan channels.Event
	eventsMu  sync.RWMutex
	closed    bool
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, rec history.Recorder, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultConfig().DatabasePath
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultConfig().DeviceName
	}
	return &WhatsApp{
		cfg:     cfg,
		history: rec,
		logger:  logger.With("component", "whatsapp"),
		events:  make(chan channels.Event, 256),
		ctx:     context.Background(),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Events returns the lifecycle and message event stream.
func (w *WhatsApp) Events() <-chan channels.Event { return w.events }

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Linked reports whether a device session exists. Valid after Open.
func (w *WhatsApp) Linked() bool {
	return w.client != nil && w.client.Store.ID != nil
}

// Open loads (or creates) the device session without connecting.
func (w *WhatsApp) Open(ctx context.Context) error {
	if w.client != nil {
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	if dir := filepath.Dir(w.cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating session dir: %w", err)
		}
	}

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	return nil
}

// Connect opens the session and connects. Without a linked device the QR
// pairing flow starts and each code is emitted as EventPairingCode.
func (w *WhatsApp) Connect(ctx context.Context) error {
	if err := w.Open(ctx); err != nil {
		return err
	}

	if !w.Linked() {
		qrChan, err := w.client.GetQRChannel(w.ctx)
		if err != nil {
			return fmt.Errorf("getting QR channel: %w", err)
		}
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("connecting for QR: %w", err)
		}
		w.logger.Info("no existing session, waiting for QR scan")
		go w.consumeQR(qrChan)
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	w.logger.Info("connecting with existing session", "jid", w.ownJID())
	return nil
}

// Disconnect gracefully closes the connection and the event stream.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}

	w.eventsMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.eventsMu.Unlock()

	w.logger.Info("disconnected")
	return nil
}

// Logout unlinks the device from the phone and deletes the local session.
// The channel must be connected.
func (w *WhatsApp) Logout(ctx context.Context) error {
	if !w.Linked() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	w.connected.Store(false)
	if err := w.client.Logout(ctx); err != nil {
		w.logger.Warn("logout error, forcing cleanup", "error", err)
		w.client.Disconnect()
		if delErr := w.client.Store.Delete(ctx); delErr != nil {
			return fmt.Errorf("deleting session: %w", delErr)
		}
	}
	w.logger.Info("logged out, session cleared")
	return nil
}

// SaveSession flushes the device store.
func (w *WhatsApp) SaveSession(ctx context.Context) error {
	if w.client == nil || w.client.Store == nil {
		return channels.ErrChannelDisconnected
	}
	return w.client.Store.Save(ctx)
}

// Send sends a text message and records it in the chat history.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}

	resp, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg.Content))
	if err != nil {
		return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}

	w.record(history.Entry{
		ChatID: jid.String(),
		HistoryMessage: channels.HistoryMessage{
			ID:     string(resp.ID),
			Sender: w.ownJID(),
			Body:   msg.Content,
			FromMe: true,
			SentAt: resp.Timestamp,
		},
	})
	return nil
}

// SendTyping sends a typing indicator.
func (w *WhatsApp) SendTyping(ctx context.Context, chatID string) error {
	if !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// SelfName returns the push name of the linked account.
func (w *WhatsApp) SelfName(context.Context) (string, error) {
	if !w.Linked() {
		return "", channels.ErrChannelDisconnected
	}
	if name := w.client.Store.PushName; name != "" {
		return name, nil
	}
	return w.client.Store.ID.User, nil
}

// ContactName returns the best known short name of a contact, or "" when
// the address book knows nothing about it.
func (w *WhatsApp) ContactName(ctx context.Context, id string) (string, error) {
	if w.client == nil {
		return "", channels.ErrChannelDisconnected
	}
	jid, err := parseJID(id)
	if err != nil {
		return "", err
	}
	info, err := w.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("looking up contact: %w", err)
	}
	return contactName(info), nil
}

// chatOverscan is how many extra recent chats are read before filtering.
const chatOverscan = 50

// Chats returns the most recently active chats known to the history
// recorder, topped up from the address book. Group chats are offered only
// when RespondToGroups is set.
func (w *WhatsApp) Chats(ctx context.Context, limit int) ([]channels.Chat, error) {
	if w.client == nil {
		return nil, channels.ErrChannelDisconnected
	}

	// Over-fetch so dropped group chats do not starve the selection.
	chats, err := w.history.RecentChats(ctx, limit+chatOverscan)
	if err != nil {
		return nil, err
	}
	chats = selectableChats(chats, w.cfg.RespondToGroups, limit)

	seen := make(map[string]bool, len(chats))
	for i := range chats {
		seen[chats[i].ID] = true
		if chats[i].Name == "" {
			if name, err := w.ContactName(ctx, chats[i].ID); err == nil {
				chats[i].Name = name
			}
		}
	}
	if len(chats) >= limit {
		return chats, nil
	}

	contacts, err := w.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		w.logger.Warn("listing contacts failed", "error", err)
		return chats, nil
	}
	return fillFromContacts(chats, seen, contacts, limit), nil
}

// History returns the newest limit recorded messages of a chat.
func (w *WhatsApp) History(ctx context.Context, chatID string, limit int) ([]channels.HistoryMessage, error) {
	jid, err := parseJID(chatID)
	if err != nil {
		return nil, err
	}
	return w.history.Recent(ctx, jid.String(), limit)
}

// ---------- Internal ----------

// getDevice retrieves an existing device or creates a new one.
func getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// consumeQR forwards pairing codes until the QR flow ends.
func (w *WhatsApp) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	attempts := 0
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			attempts++
			w.logger.Debug("QR code ready", "attempt", attempts)
			w.emit(channels.Event{Type: channels.EventPairingCode, Code: evt.Code})

		case "success":
			w.logger.Info("QR login successful")
			return

		case "timeout":
			w.logger.Warn("QR code expired")
			w.emit(channels.Event{Type: channels.EventAuthFailure, Reason: "QR code timeout"})
			return

		default:
			reason := evt.Event
			if evt.Error != nil {
				reason = evt.Error.Error()
			}
			w.logger.Error("QR login error", "event", evt.Event, "error", evt.Error)
			w.emit(channels.Event{Type: channels.EventAuthFailure, Reason: reason})
			return
		}
	}
}

// emit publishes an event without blocking the whatsmeow dispatcher.
func (w *WhatsApp) emit(evt channels.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	w.eventsMu.RLock()
	defer w.eventsMu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.events <- evt:
	default:
		w.logger.Warn("event channel full, dropping event", "type", evt.Type)
	}
}

// record writes to the history recorder, logging failures.
func (w *WhatsApp) record(e history.Entry) {
	if w.history == nil || e.Body == "" {
		return
	}
	if err := w.history.Record(w.ctx, e); err != nil {
		w.logger.Warn("recording message failed", "chat", e.ChatID, "error", err)
	}
}

// ownJID returns the account JID without device suffix.
func (w *WhatsApp) ownJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.ToNonAD().String()
	}
	return ""
}

// Compile-time interface verification.
var _ channels.Messenger = (*WhatsApp)(nil)
