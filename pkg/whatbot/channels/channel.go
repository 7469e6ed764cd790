// Package channels defines the interfaces and types shared by the Whatbot
// messaging channels. Each channel (WhatsApp, Discord) implements Messenger
// so the bot can drive pairing, contact selection and replies without
// knowing which platform it is talking to.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel defines the lifecycle and transport every messaging channel must
// implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	// Lifecycle progress is reported through Events.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Events returns the Go channel that emits lifecycle and message events.
	// It is closed by Disconnect.
	Events() <-chan Event

	// IsConnected returns true if the channel is connected.
	IsConnected() bool
}

// Directory resolves names and known chats on the platform.
type Directory interface {
	// SelfName returns the display name of the linked account.
	SelfName(ctx context.Context) (string, error)

	// ContactName returns the short display name of a contact.
	ContactName(ctx context.Context, id string) (string, error)

	// Chats returns up to limit known chats, most recently active first.
	Chats(ctx context.Context, limit int) ([]Chat, error)
}

// HistoryReader fetches recent messages of a chat.
type HistoryReader interface {
	// History returns the newest limit messages of chatID in
	// chronological order.
	History(ctx context.Context, chatID string, limit int) ([]HistoryMessage, error)
}

// PresenceChannel adds typing indicators.
type PresenceChannel interface {
	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, chatID string) error
}

// SessionStore persists the authenticated session of a channel.
type SessionStore interface {
	// SaveSession flushes the current session to durable storage.
	SaveSession(ctx context.Context) error
}

// Messenger is the full surface the bot needs from a channel.
type Messenger interface {
	Channel
	Directory
	HistoryReader
	PresenceChannel
	SessionStore
}

// EventType identifies a lifecycle or message event.
type EventType string

const (
	EventPairingCode   EventType = "pairing_code"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailure   EventType = "auth_failure"
	EventReady         EventType = "ready"
	EventMessage       EventType = "message"
)

// Event is emitted by a channel on its Events stream.
type Event struct {
	Type EventType

	// Code is the pairing code (EventPairingCode only).
	Code string

	// Reason describes an authentication failure (EventAuthFailure only).
	Reason string

	// Message is the inbound message (EventMessage only).
	Message *IncomingMessage

	Timestamp time.Time
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the conversation the message belongs to and the reply
	// target: the sender for direct chats, the group for group chats.
	From string

	// Participant is the member who wrote a group message. Empty for
	// direct chats.
	Participant string

	// FromName is the sender display name advertised by the platform.
	FromName string

	// ChatID is the chat the message arrived in.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// HistoryMessage is one entry of a chat history window.
type HistoryMessage struct {
	ID     string
	Sender string
	Body   string
	FromMe bool
	SentAt time.Time
}

// Chat is a known conversation offered during contact selection.
type Chat struct {
	// ID is the identifier compared against IncomingMessage.From.
	ID string

	// Name is the human readable chat name.
	Name string
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
)
