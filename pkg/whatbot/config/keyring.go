package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "whatbot"

	// keyringAPIKey is the key name for the completion API secret.
	keyringAPIKey = "api_key"
)

// Keyring access, replaceable in tests.
var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// StoreAPIKey saves the completion API secret to the OS keyring.
func StoreAPIKey(value string) error {
	if err := keyringSet(keyringService, keyringAPIKey, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	return nil
}

// APIKeySource names where ResolveAPIKey found the secret.
type APIKeySource string

const (
	SourceNone    APIKeySource = ""
	SourceConfig  APIKeySource = "config"
	SourceKeyring APIKeySource = "keyring"
)

// ResolveAPIKey fills cfg.Completion.APIKey from the OS keyring when the
// environment and config file left it empty. The environment has already
// been applied by Load.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) APIKeySource {
	if cfg.Completion.APIKey != "" && !IsEnvReference(cfg.Completion.APIKey) {
		logger.Debug("API key loaded from config/env")
		return SourceConfig
	}

	val, err := keyringGet(keyringService, keyringAPIKey)
	if err == nil && val != "" {
		cfg.Completion.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return SourceKeyring
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		logger.Debug("OS keyring unavailable", "error", err)
	}
	return SourceNone
}

// ReadPassword prints prompt and reads a line without echo.
func ReadPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
