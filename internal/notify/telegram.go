// Package notify delivers update failure alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	telegramAPI = "https://api.telegram.org"

	// maxMessageLen is the Bot API limit for one text message.
	maxMessageLen = 4096
)

// Telegram posts plain-text messages to one chat. A nil *Telegram is a
// disabled notifier and Send on it does nothing.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram returns nil unless the notifier is enabled and fully configured.
func NewTelegram(enabled bool, token, chatID string) *Telegram {
	if !enabled || token == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the notifier at another Bot API endpoint.
func (t *Telegram) WithBaseURL(url string) *Telegram {
	if t != nil {
		t.baseURL = url
	}
	return t
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if t == nil || text == "" {
		return nil
	}
	buf, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  truncate(text, maxMessageLen),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var br botResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &br) == nil && br.Description != "" {
		return fmt.Errorf("telegram: %s: %s", resp.Status, br.Description)
	}
	return fmt.Errorf("telegram: %s", resp.Status)
}

// truncate cuts s to at most max runes, marking the cut.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	const marker = "\n…"
	runes := []rune(s)
	return string(runes[:max-utf8.RuneCountInString(marker)]) + marker
}
