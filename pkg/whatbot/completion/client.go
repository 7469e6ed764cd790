// Package completion implements the client for OpenAI-style text
// completion endpoints: a single stateless JSON POST carrying a prompt and
// generation parameters, answered with a list of choices.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultURL is the completions endpoint used when none is configured.
	DefaultURL = "https://api.openai.com/v1/completions"

	// DefaultModel is the completion model used when none is configured.
	DefaultModel = "gpt-3.5-turbo-instruct"
)

// ErrNoChoices is returned when the API answers without any completion.
var ErrNoChoices = errors.New("completion: response has no choices")

// Params are the generation parameters sent with every prompt.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	N           int
	Stop        string
}

// DefaultParams returns the parameters used for chat replies: short,
// single-line completions.
func DefaultParams() Params {
	return Params{
		MaxTokens:   100,
		Temperature: 0.8,
		TopP:        1,
		N:           1,
		Stop:        "\n",
	}
}

// Config configures a Client.
type Config struct {
	// URL is the full completions endpoint.
	URL string `yaml:"url"`

	// Model is sent as the "model" field; omitted when empty.
	Model string `yaml:"model"`

	// APIKey is sent as a Bearer token.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a whole request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// APIError captures a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

type request struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	N           int     `json:"n"`
	Stop        string  `json:"stop"`
}

type response struct {
	Choices []struct {
		Text *string `json:"text"`
	} `json:"choices"`
}

// Client talks to the completion endpoint.
type Client struct {
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a completion client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:    url,
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger.With("component", "completion"),
	}
}

// Complete sends prompt with the given parameters and returns the text of
// the first choice exactly as the API produced it.
func (c *Client) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	body, err := json.Marshal(request{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		N:           p.N,
		Stop:        p.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending completion",
		"endpoint", c.url,
		"model", c.model,
		"prompt_chars", len(prompt))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrNoChoices
	}
	if parsed.Choices[0].Text == nil {
		return "", fmt.Errorf("parsing response: first choice has no text")
	}

	c.logger.Debug("completion done",
		"duration_ms", time.Since(start).Milliseconds(),
		"choices", len(parsed.Choices))

	return *parsed.Choices[0].Text, nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
