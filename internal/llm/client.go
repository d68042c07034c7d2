// Package llm is the HTTP client to the conversational AI backend.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/resilience"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
)

const (
	callTimeout        = 60 * time.Second
	maxAttempts        = 4
	breakerMaxFailures = 5
	breakerCooldown    = 30 * time.Second
	maxTokens          = 1024

	fallbackReply = "I'm having trouble right now — a human from the team will reach out soon."
)

// Message is one turn in a conversation.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type chatResponse struct {
	Content string `json:"content"`
}

// Client talks to the conversational LLM backend over HTTP.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	cb      *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	logger  *slog.Logger
}

// New builds an LLM Client. model is the backend model identifier; apiKey is
// sent as a bearer token.
func New(baseURL, model, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: callTimeout},
		cb:      resilience.NewCircuitBreaker(breakerMaxFailures, breakerCooldown),
		retry:   resilience.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second},
		logger:  logger,
	}
}

// Chat sends systemPrompt plus the message history and returns the
// assistant's reply. On any failure it returns the canned safe fallback
// reply and increments llm_errors_total — it never propagates the error, so
// a DM session can always show the user something (§4.10, §7).
func (c *Client) Chat(ctx context.Context, systemPrompt string, messages []Message) string {
	reply, err := c.chat(ctx, systemPrompt, messages)
	if err != nil {
		telemetry.LLMErrorsTotal.Inc()
		c.logger.Warn("llm backend unavailable, returning fallback reply", "error", err)
		return fallbackReply
	}
	return reply
}

func (c *Client) chat(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:     c.model,
		System:    systemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	var result chatResponse
	err = resilience.Do(ctx, c.retry, c.cb, resilience.IsRetryable, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("llm backend returned %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("llm backend rate limited") // retryable
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return resilience.NonRetryable(fmt.Errorf("llm backend returned %d: %s", resp.StatusCode, body))
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return resilience.NonRetryable(fmt.Errorf("decoding llm response: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return result.Content, nil
}
