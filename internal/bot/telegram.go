package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TelegramAPI is a minimal client for the Telegram Bot API: long polling
// plus sendMessage is all the bot needs.
type TelegramAPI struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewTelegramAPI creates a Bot API client
func NewTelegramAPI(token string) *TelegramAPI {
	return &TelegramAPI{
		token:   token,
		baseURL: "https://api.telegram.org",
		// The long-poll timeout rides on top of the request timeout, so
		// this must comfortably exceed the poll window.
		httpClient: &http.Client{Timeout: 70 * time.Second},
	}
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an incoming Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	From      *TgUser `json:"from"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// TgUser is the sender of a message.
type TgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// GetUpdates long-polls for new updates past the given offset.
func (t *TelegramAPI) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeoutSeconds))
	params.Set("allowed_updates", `["message"]`)

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", t.baseURL, t.token, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("telegram: decoding getUpdates response: %w", err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("telegram: getUpdates failed: %s", decoded.Description)
	}

	var updates []Update
	if err := json.Unmarshal(decoded.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram: decoding updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends an HTML-formatted message to a chat.
func (t *TelegramAPI) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: encoding sendMessage payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("telegram: decoding sendMessage response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("telegram: sendMessage failed: %s", decoded.Description)
	}
	return nil
}
