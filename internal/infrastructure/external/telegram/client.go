// Package telegram delivers reminders through the Telegram Bot API.
package telegram

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

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/pkg/retry"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	maxReplyBytes  = 1 << 20
)

// ClientConfig configures Client.
type ClientConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{Token: token, BaseURL: defaultBaseURL, Timeout: 10 * time.Second}
}

// Client issues single Bot API calls. It does not retry.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimRight(config.BaseURL, "/") + "/bot" + config.Token + "/",
		http:     &http.Client{Timeout: config.Timeout},
		logger:   config.Logger.With("component", "telegram_client"),
	}
}

// SendMessageParams is the sendMessage request body.
type SendMessageParams struct {
	ChatID              int64  `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// Message is the part of a sent message we keep.
type Message struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
}

func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	var msg Message
	if err := c.invoke(ctx, "sendMessage", params, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// GetMe checks that the token is accepted.
func (c *Client) GetMe(ctx context.Context) error {
	return c.invoke(ctx, "getMe", struct{}{}, nil)
}

// envelope is the common Bot API reply.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) invoke(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("telegram api call", "method", method, "status", resp.StatusCode, "took", time.Since(started))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("%s: read reply: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Code: resp.StatusCode, Description: "unreadable reply: " + err.Error()}
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{
			Code:        code,
			Description: env.Description,
			RetryAfter:  time.Duration(env.Parameters.RetryAfter) * time.Second,
		}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// APIError is a reply with ok=false.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// reason maps the reply to a ledger failure reason.
func (e *APIError) reason() string {
	desc := strings.ToLower(e.Description)
	switch {
	case e.Code == http.StatusTooManyRequests:
		return delivery.ReasonQuotaExceeded
	case e.Code == http.StatusForbidden,
		strings.Contains(desc, "bot was blocked"),
		strings.Contains(desc, "user is deactivated"),
		strings.Contains(desc, "blocked_by_user"):
		return delivery.ReasonRecipientBlocked
	case e.Code == http.StatusBadRequest && strings.Contains(desc, "chat not found"),
		e.Code == http.StatusBadRequest && strings.Contains(desc, "chat_not_found"):
		return delivery.ReasonChatNotFound
	}
	return ""
}

// classify tags err for the retrier. Flood control waits for retry_after,
// server errors and transport errors are retried, other replies are final.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return retry.Retryable(err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return retry.RetryableAfter(err, apiErr.RetryAfter)
	case apiErr.Code >= http.StatusInternalServerError:
		return retry.Retryable(err)
	}
	return retry.Permanent(err)
}
