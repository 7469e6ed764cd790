// Package config defines the Whatbot configuration and how it is loaded
// from YAML, .env files, the environment and the OS keyring.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels/discord"
	"github.com/jholhewres/whatbot/pkg/whatbot/channels/whatsapp"
	"github.com/jholhewres/whatbot/pkg/whatbot/completion"
	"github.com/jholhewres/whatbot/pkg/whatbot/responder"
	"github.com/jholhewres/whatbot/pkg/whatbot/setup"
)

const (
	// APIKeyEnv holds the completion API secret.
	APIKeyEnv = "OPENAI_SECRET_KEY"

	// PersonalityEnv overrides the built-in personality prompt.
	PersonalityEnv = "DEFAULT_PROMPT"

	// DefaultPersonality is used when neither config nor environment set one.
	DefaultPersonality = "I am a person who perceives the world without prejudice or bias. " +
		"Fully neutral and objective, I see reality as it actually is and can easily draw " +
		"accurate conclusions about advanced topics and human society in general."
)

// Channel names.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelDiscord  = "discord"
)

// ErrMissingAPIKey is returned when no completion API secret is configured.
var ErrMissingAPIKey = errors.New("missing API key: please create an .env file that includes a variable named " + APIKeyEnv)

// Config is the complete Whatbot configuration.
type Config struct {
	// Channel selects the messaging platform: "whatsapp" or "discord".
	Channel string `yaml:"channel"`

	// Personality is the default personality prompt offered during setup.
	Personality string `yaml:"personality"`

	// HistoryLimit is the number of recent messages fed into each prompt.
	HistoryLimit int `yaml:"history_limit"`

	// ChatChoices is the number of chats offered during setup.
	ChatChoices int `yaml:"chat_choices"`

	Completion completion.Config `yaml:"completion"`
	WhatsApp   whatsapp.Config   `yaml:"whatsapp"`
	Discord    discord.Config    `yaml:"discord"`
	History    HistoryConfig     `yaml:"history"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// HistoryConfig configures the local message log.
type HistoryConfig struct {
	// Path is the SQLite file for recorded messages.
	Path string `yaml:"path"`

	// Retention is how long messages are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression for the prune job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Channel:      ChannelWhatsApp,
		Personality:  DefaultPersonality,
		HistoryLimit: responder.DefaultHistoryLimit,
		ChatChoices:  setup.DefaultChatChoices,
		Completion: completion.Config{
			URL:   completion.DefaultURL,
			Model: completion.DefaultModel,
		},
		WhatsApp: whatsapp.DefaultConfig(),
		History: HistoryConfig{
			Path:          "./.session/history.db",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Channel {
	case ChannelWhatsApp:
	case ChannelDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("discord channel selected but discord.token is empty")
		}
	default:
		return fmt.Errorf("unknown channel %q (want %q or %q)", c.Channel, ChannelWhatsApp, ChannelDiscord)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit)
	}
	if c.ChatChoices <= 0 {
		return fmt.Errorf("chat_choices must be positive, got %d", c.ChatChoices)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	return nil
}

// RequireAPIKey returns ErrMissingAPIKey when no completion secret was
// resolved.
func (c *Config) RequireAPIKey() error {
	if c.Completion.APIKey == "" || IsEnvReference(c.Completion.APIKey) {
		return ErrMissingAPIKey
	}
	return nil
}
