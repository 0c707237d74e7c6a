// Package telegram is a minimal Telegram Bot API client. The scheduler only
// needs sendMessage; bot command handling lives outside this service.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized indicates a rejected bot token. The channel is unusable as
// a whole, not just for one recipient.
var ErrUnauthorized = errors.New("telegram: unauthorized")

// Config holds Telegram client settings.
type Config struct {
	Token   string
	BaseURL string        // default https://api.telegram.org
	Timeout time.Duration // per-request timeout, default 10s
}

// Client talks to the Telegram Bot API over HTTP.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Telegram client. It fails fast on a missing token so a
// misconfigured scheduler dies at startup, not on the first tick.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		token:   cfg.Token,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// SendMessage delivers text to one chat. Errors for one recipient (blocked
// bot, unknown chat) come back as ordinary errors; a bad token comes back as
// ErrUnauthorized.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("telegram: decode response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResp.OK {
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiResp.Description)
		}
		return fmt.Errorf("telegram: sendMessage failed (code %d): %s", apiResp.ErrorCode, apiResp.Description)
	}

	c.logger.Debug("telegram message sent", zap.Int64("chat_id", chatID))
	return nil
}
