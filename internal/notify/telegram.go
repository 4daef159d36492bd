package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

// Overridable so tests can point at a local server.
var telegramAPI = "https://api.telegram.org"

// sendTelegram uses sendPhoto with the frame attached when available,
// otherwise sendMessage. Captions are Markdown-formatted.
func (d *Dispatcher) sendTelegram(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	token := d.cfg.TelegramToken
	if token == "" {
		return fmt.Errorf("no telegram token configured")
	}
	chatID := pair.target
	if chatID == "" {
		chatID = d.cfg.TelegramChat
	}
	if chatID == "" {
		return fmt.Errorf("no telegram chat configured")
	}

	caption := fmt.Sprintf("*Alert: %s*\n%s", event.Rule.Name, message)

	if event.FrameBase64 != "" {
		jpeg, err := base64.StdEncoding.DecodeString(event.FrameBase64)
		if err != nil {
			return fmt.Errorf("bad frame payload: %w", err)
		}
		return d.telegramSendPhoto(ctx, token, chatID, caption, jpeg)
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       caption,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	return d.telegramPost(ctx, fmt.Sprintf("%s/bot%s/sendMessage", telegramAPI, token), "application/json", bytes.NewReader(body))
}

func (d *Dispatcher) telegramSendPhoto(ctx context.Context, token, chatID, caption string, jpeg []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("chat_id", chatID)
	_ = mw.WriteField("caption", caption)
	_ = mw.WriteField("parse_mode", "Markdown")
	part, err := mw.CreateFormFile("photo", "alert.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(jpeg); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return d.telegramPost(ctx, fmt.Sprintf("%s/bot%s/sendPhoto", telegramAPI, token), mw.FormDataContentType(), &buf)
}

func (d *Dispatcher) telegramPost(ctx context.Context, url, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}
