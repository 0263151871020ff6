// Package llm is a thin client for the Mistral chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"alchemistral/internal/config"
	"alchemistral/internal/logging"
)

const (
	defaultBaseURL = "https://api.mistral.ai/v1"
	requestTimeout = 60 * time.Second

	// ModelSmall handles reprompt classification, ModelLarge handles planning.
	ModelSmall = "mistral-small-latest"
	ModelLarge = "mistral-large-latest"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client performs one-shot chat completions. The API key is consulted through
// the config source on every request so rotations take effect immediately.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        config.Source
	logger     logging.Logger
}

// NewClient builds a client against the public Mistral endpoint.
func NewClient(cfg config.Source) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		cfg:        cfg,
		logger:     logging.NewComponentLogger("LLMClient"),
	}
}

// NewClientWithBaseURL is used by tests to point at an httptest server.
func NewClientWithBaseURL(cfg config.Source, baseURL string) *Client {
	c := NewClient(cfg)
	c.baseURL = baseURL
	return c
}

// HasKey reports whether an API key is currently configured.
func (c *Client) HasKey() bool {
	return c.cfg.APIKey() != ""
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one completion request and returns the assistant text.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	apiKey := c.cfg.APIKey()
	if apiKey == "" {
		return "", fmt.Errorf("MISTRAL_API_KEY not set")
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("chat completion returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		return "", fmt.Errorf("chat completion returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
