// Package history keeps a local SQLite log of chat messages so the bot can
// rebuild a recent-conversation window for every inbound message. Messaging
// platforms like WhatsApp do not serve message history on demand to linked
// devices, so every text message seen by the channel is recorded here.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS whatbot_messages (
	chat_id     TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	sender      TEXT    NOT NULL,
	body        TEXT    NOT NULL,
	from_me     INTEGER NOT NULL DEFAULT 0,
	sent_at     INTEGER NOT NULL,
	PRIMARY KEY (chat_id, id)
);
CREATE INDEX IF NOT EXISTS idx_whatbot_messages_chat_time
	ON whatbot_messages (chat_id, sent_at);

CREATE TABLE IF NOT EXISTS whatbot_chats (
	chat_id         TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	last_message_at INTEGER NOT NULL
);
`

// Entry is a message to record.
type Entry struct {
	ChatID   string
	ChatName string
	channels.HistoryMessage
}

// Recorder is the part of the store used by channels.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, chatID string, limit int) ([]channels.HistoryMessage, error)
	RecentChats(ctx context.Context, limit int) ([]channels.Chat, error)
}

var _ Recorder = (*Store)(nil)

// Store persists chat messages in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a message and bumps the chat's activity. Recording the
// same (chat, id) twice keeps the first copy.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ChatID == "" || e.ID == "" {
		return fmt.Errorf("history: chat id and message id are required")
	}
	sentAt := e.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO whatbot_messages (chat_id, id, sender, body, from_me, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ChatID, e.ID, e.Sender, e.Body, e.FromMe, sentAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("history: insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO whatbot_chats (chat_id, name, last_message_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE whatbot_chats.name END,
			last_message_at = MAX(whatbot_chats.last_message_at, excluded.last_message_at)`,
		e.ChatID, e.ChatName, sentAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("history: upsert chat: %w", err)
	}

	return tx.Commit()
}

// Recent returns the newest limit messages of a chat in chronological order.
func (s *Store) Recent(ctx context.Context, chatID string, limit int) ([]channels.HistoryMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, body, from_me, sent_at FROM whatbot_messages
		WHERE chat_id = ?
		ORDER BY sent_at DESC, rowid DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []channels.HistoryMessage
	for rows.Next() {
		var (
			m      channels.HistoryMessage
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Body, &m.FromMe, &sentAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		m.SentAt = time.Unix(0, sentAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecentChats returns up to limit chats ordered by last activity.
func (s *Store) RecentChats(ctx context.Context, limit int) ([]channels.Chat, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, name FROM whatbot_chats
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query chats: %w", err)
	}
	defer rows.Close()

	var out []channels.Chat
	for rows.Next() {
		var c channels.Chat
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("history: scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes messages sent before the cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM whatbot_messages WHERE sent_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}
