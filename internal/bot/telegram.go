package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	defaultRetries = 3
)

type (
	Update struct {
		UpdateID      int64          `json:"update_id"`
		Message       *Message       `json:"message,omitempty"`
		CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
	}

	Message struct {
		MessageID int64  `json:"message_id"`
		Chat      Chat   `json:"chat"`
		Text      string `json:"text,omitempty"`
	}

	Chat struct {
		ID int64 `json:"id"`
	}

	CallbackQuery struct {
		ID      string   `json:"id"`
		Message *Message `json:"message,omitempty"`
		Data    string   `json:"data,omitempty"`
	}

	Keyboard struct {
		InlineKeyboard [][]Button `json:"inline_keyboard"`
	}

	Button struct {
		Text         string `json:"text"`
		CallbackData string `json:"callback_data"`
	}
)

// APIError is a response of the Bot API with ok=false.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

func (e *APIError) temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

type ClientConfig struct {
	Token   string
	BaseURL string
	// Timeout must exceed the long-poll timeout.
	Timeout time.Duration
	Retries uint
}

// Client is a minimal Bot API client: long polling, sending and editing
// messages, answering callback queries.
type Client struct {
	token   string
	baseURL string
	retries uint
	http    *http.Client
}

func NewClient(c ClientConfig) *Client {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	if c.Retries == 0 {
		c.Retries = defaultRetries
	}

	return &Client{
		token:   c.Token,
		baseURL: c.BaseURL,
		retries: c.Retries,
		http:    &http.Client{Timeout: c.Timeout},
	}
}

func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		body["offset"] = offset
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, kb *Keyboard) (*Message, error) {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if kb != nil {
		body["reply_markup"] = kb
	}

	var m Message
	if err := c.call(ctx, "sendMessage", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EditMessageText replaces the text and keyboard of a sent message. A nil
// keyboard removes the buttons.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, kb *Keyboard) error {
	if kb == nil {
		kb = &Keyboard{InlineKeyboard: [][]Button{}}
	}

	body := map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"text":         text,
		"reply_markup": kb,
	}

	var m json.RawMessage
	return c.call(ctx, "editMessageText", body, &m)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, id string) error {
	var ok bool
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": id}, &ok)
}

// DeleteWebhook switches the bot to long polling.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	var ok bool
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, &ok)
}

type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// call posts a method and decodes its result. Transport failures, rate limits
// and server errors are retried with exponential backoff.
func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	res, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		return c.post(ctx, url, payload)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.retries),
	)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}

	if err := json.Unmarshal(res, result); err != nil {
		return fmt.Errorf("telegram: decode %s: %w", method, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if !r.OK {
		e := &APIError{Code: r.ErrorCode, Description: r.Description}
		if r.Parameters != nil {
			e.RetryAfter = r.Parameters.RetryAfter
		}
		if !e.temporary() {
			return nil, backoff.Permanent(e)
		}
		if e.RetryAfter > 0 {
			return nil, backoff.RetryAfter(e.RetryAfter)
		}
		return nil, e
	}

	return r.Result, nil
}
