package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whatbot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func stubKeyring(t *testing.T, val string, err error) {
	t.Helper()
	origGet, origSet := keyringGet, keyringSet
	keyringGet = func(string, string) (string, error) { return val, err }
	keyringSet = func(string, string, string) error { return nil }
	t.Cleanup(func() { keyringGet, keyringSet = origGet, origSet })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Personality != DefaultPersonality {
		t.Errorf("unexpected default personality %q", cfg.Personality)
	}
	if cfg.HistoryLimit != 6 || cfg.ChatChoices != 6 {
		t.Errorf("expected history limit and chat choices of 6, got %d/%d", cfg.HistoryLimit, cfg.ChatChoices)
	}
	if cfg.Channel != ChannelWhatsApp {
		t.Errorf("expected whatsapp channel, got %q", cfg.Channel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
channel: discord
history_limit: 10
discord:
  token: abc
completion:
  model: davinci-002
  timeout: 30s
history:
  retention: 48h
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Channel != ChannelDiscord || cfg.Discord.Token != "abc" {
		t.Errorf("unexpected channel config %+v", cfg)
	}
	if cfg.HistoryLimit != 10 {
		t.Errorf("expected history limit 10, got %d", cfg.HistoryLimit)
	}
	if cfg.Completion.Model != "davinci-002" || cfg.Completion.Timeout != 30*time.Second {
		t.Errorf("unexpected completion config %+v", cfg.Completion)
	}
	if cfg.History.Retention != 48*time.Hour {
		t.Errorf("expected 48h retention, got %v", cfg.History.Retention)
	}

	// Unset keys keep their defaults.
	if cfg.ChatChoices != 6 || cfg.Completion.URL == "" || cfg.History.PruneSchedule != "@daily" {
		t.Errorf("expected defaults for unset keys, got %+v", cfg)
	}

	if _, err := ParseConfig([]byte("channel: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown channel", func(c *Config) { c.Channel = "irc" }},
		{"discord without token", func(c *Config) { c.Channel = ChannelDiscord }},
		{"zero history limit", func(c *Config) { c.HistoryLimit = 0 }},
		{"zero chat choices", func(c *Config) { c.ChatChoices = 0 }},
		{"negative retention", func(c *Config) { c.History.Retention = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WHATBOT_TEST_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"key: ${WHATBOT_TEST_SET}", "key: value"},
		{"key: ${WHATBOT_TEST_UNSET}", "key: ${WHATBOT_TEST_UNSET}"},
		{"key: ${WHATBOT_TEST_UNSET:-fallback}", "key: fallback"},
		{"key: ${WHATBOT_TEST_SET:-fallback}", "key: value"},
		{"key: plain $text", "key: plain $text"},
	}
	for _, tt := range tests {
		got, missing := expandEnvVars(tt.in)
		if got != tt.want || len(missing) != 0 {
			t.Errorf("expandEnvVars(%q) = %q (missing %v), want %q", tt.in, got, missing, tt.want)
		}
	}

	_, err := expandEnvVarsWithValidation("key: ${WHATBOT_TEST_UNSET:?set the key}\nother: 1")
	if err == nil || !strings.Contains(err.Error(), "WHATBOT_TEST_UNSET - set the key") {
		t.Errorf("expected required-variable error, got %v", err)
	}

	_, err = expandEnvVarsWithValidation("a: ${WHATBOT_TEST_UNSET:?first}\nb: ${WHATBOT_TEST_OTHER_UNSET:?}")
	if err == nil || !strings.Contains(err.Error(), "WHATBOT_TEST_UNSET - first") ||
		!strings.Contains(err.Error(), "WHATBOT_TEST_OTHER_UNSET - required environment variable not set") {
		t.Errorf("expected every missing variable reported, got %v", err)
	}
}

func TestLoadConfigFromFileKeepsErrorText(t *testing.T) {
	path := writeConfig(t, `personality: "Reply as a sysadmin. Never print ERROR: lines."
discord:
  token: "ERROR:abc:def"
`)
	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if cfg.Personality != "Reply as a sysadmin. Never print ERROR: lines." {
		t.Errorf("unexpected personality %q", cfg.Personality)
	}
	if cfg.Discord.Token != "ERROR:abc:def" {
		t.Errorf("unexpected token %q", cfg.Discord.Token)
	}
}

func TestLoad(t *testing.T) {
	t.Run("file with env expansion and relative paths", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "")
		t.Setenv(PersonalityEnv, "")
		t.Setenv("WHATBOT_TEST_KEY", "sk-from-file")

		path := writeConfig(t, `
personality: "Custom persona."
completion:
  api_key: ${WHATBOT_TEST_KEY}
history:
  path: data/history.db
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Completion.APIKey != "sk-from-file" {
			t.Errorf("expected expanded key, got %q", cfg.Completion.APIKey)
		}
		if cfg.Personality != "Custom persona." {
			t.Errorf("unexpected personality %q", cfg.Personality)
		}
		want := filepath.Join(filepath.Dir(path), "data/history.db")
		if cfg.History.Path != want {
			t.Errorf("expected history path %q, got %q", want, cfg.History.Path)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "sk-env")
		t.Setenv(PersonalityEnv, "Env persona.")

		path := writeConfig(t, "completion:\n  api_key: sk-file\npersonality: File persona.\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Completion.APIKey != "sk-env" {
			t.Errorf("expected env key to win, got %q", cfg.Completion.APIKey)
		}
		if cfg.Personality != "Env persona." {
			t.Errorf("expected env personality to win, got %q", cfg.Personality)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing explicit config file")
		}
	})
}

func TestRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.RequireAPIKey()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if !strings.Contains(err.Error(), APIKeyEnv) {
		t.Errorf("expected diagnostic to name %s, got %q", APIKeyEnv, err)
	}

	cfg.Completion.APIKey = "${" + APIKeyEnv + "}"
	if err := cfg.RequireAPIKey(); err == nil {
		t.Error("expected unexpanded reference to count as missing")
	}

	cfg.Completion.APIKey = "sk-123"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolveAPIKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("config value wins", func(t *testing.T) {
		stubKeyring(t, "sk-keyring", nil)
		cfg := DefaultConfig()
		cfg.Completion.APIKey = "sk-config"
		if src := ResolveAPIKey(cfg, logger); src != SourceConfig || cfg.Completion.APIKey != "sk-config" {
			t.Errorf("unexpected resolution %q / %q", src, cfg.Completion.APIKey)
		}
	})

	t.Run("falls back to keyring", func(t *testing.T) {
		stubKeyring(t, "sk-keyring", nil)
		cfg := DefaultConfig()
		if src := ResolveAPIKey(cfg, logger); src != SourceKeyring || cfg.Completion.APIKey != "sk-keyring" {
			t.Errorf("unexpected resolution %q / %q", src, cfg.Completion.APIKey)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		stubKeyring(t, "", keyring.ErrNotFound)
		cfg := DefaultConfig()
		if src := ResolveAPIKey(cfg, logger); src != SourceNone {
			t.Errorf("expected no source, got %q", src)
		}
		if err := cfg.RequireAPIKey(); !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("expected ErrMissingAPIKey, got %v", err)
		}
	})
}

func TestSaveConfigToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := DefaultConfig()
	cfg.Completion.APIKey = "sk-secret"

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved config: %v", err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("secret must not be written to disk")
	}
	if !strings.Contains(string(data), "${"+APIKeyEnv+"}") {
		t.Errorf("expected env reference in saved config:\n%s", data)
	}
	if cfg.Completion.APIKey != "sk-secret" {
		t.Error("saving must not mutate the caller's config")
	}

	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("reloading saved config: %v", err)
	}
	if loaded.History.Retention != cfg.History.Retention {
		t.Errorf("retention round trip: got %v want %v", loaded.History.Retention, cfg.History.Retention)
	}
}
