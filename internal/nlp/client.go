// Package nlp is the HTTP client to the external crisis classifier.
package nlp

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
	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
)

const (
	callTimeout        = 30 * time.Second
	maxAttempts        = 4
	breakerMaxFailures = 5
	breakerCooldown    = 30 * time.Second
)

// HistoryItem is one history entry sent to the classifier as context.
type HistoryItem struct {
	Text        string  `json:"text"`
	Timestamp   int64   `json:"timestamp"`
	CrisisScore float64 `json:"crisis_score"`
	Severity    string  `json:"severity"`
}

type analyzeRequest struct {
	Text      string        `json:"text"`
	UserID    string        `json:"user_id"`
	ChannelID string        `json:"channel_id"`
	History   []HistoryItem `json:"history"`
}

// Result is the classifier's response, immutable after construction.
type Result struct {
	CrisisScore    float64           `json:"crisis_score"`
	Severity       severity.Severity `json:"-"`
	SeverityRaw    string            `json:"severity"`
	Categories     []string          `json:"categories"`
	Confidence     float64           `json:"confidence"`
	ModelAgreement string            `json:"model_agreement"`
	GapsDetected   bool              `json:"gaps_detected"`
	Reasoning      string            `json:"reasoning,omitempty"`

	// Reason is set on the fail-open sentinel result; empty otherwise.
	Reason string `json:"-"`
}

// Client talks to the NLP classifier over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	logger  *slog.Logger
}

// New builds an NLP Client.
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: callTimeout},
		cb:      resilience.NewCircuitBreaker(breakerMaxFailures, breakerCooldown),
		retry:   resilience.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second},
		logger:  logger,
	}
}

// Analyze classifies text in the context of the given history. On any
// failure (timeout, circuit open, exhausted retries) it returns the
// fail-open sentinel — severity Safe, Reason "nlp_unavailable" — and never
// propagates the error to the caller: the classification pipeline must not
// be able to raise an alert because the classifier is down (§4.5, §7).
func (c *Client) Analyze(ctx context.Context, text, userID, channelID string, history []HistoryItem) Result {
	start := time.Now()
	result, err := c.analyze(ctx, text, userID, channelID, history)
	telemetry.NLPRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.NLPErrorsTotal.Inc()
		c.logger.Warn("nlp classifier unavailable, failing open to safe", "error", err)
		return Result{Severity: severity.Safe, SeverityRaw: "safe", Reason: "nlp_unavailable"}
	}
	return result
}

func (c *Client) analyze(ctx context.Context, text, userID, channelID string, history []HistoryItem) (Result, error) {
	reqBody, err := json.Marshal(analyzeRequest{Text: text, UserID: userID, ChannelID: channelID, History: history})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling analyze request: %w", err)
	}

	var result Result
	err = resilience.Do(ctx, c.retry, c.cb, resilience.IsRetryable, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err // transport error: retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("nlp classifier returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return resilience.NonRetryable(fmt.Errorf("nlp classifier returned %d: %s", resp.StatusCode, body))
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return resilience.NonRetryable(fmt.Errorf("decoding nlp response: %w", err))
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	result.Severity = severity.Parse(result.SeverityRaw)
	return result, nil
}

// Healthy reports whether the classifier's health endpoint responds, for
// the readiness probe.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
