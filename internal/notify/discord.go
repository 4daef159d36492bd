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
	"time"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

var discordColor = map[string]int{
	rules.PriorityLow:      0x95a5a6,
	rules.PriorityMedium:   0x3498db,
	rules.PriorityHigh:     0xe67e22,
	rules.PriorityCritical: 0xe74c3c,
}

// sendDiscord posts an embed to a Discord webhook. With a frame present
// the payload goes multipart with the JPEG as files[0] and the embed
// referencing the attachment.
func (d *Dispatcher) sendDiscord(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	url := event.Rule.Notification.URL
	if url == "" {
		url = pair.target
	}
	if url == "" {
		return fmt.Errorf("no discord webhook configured")
	}

	embed := map[string]any{
		"title":       "Alert: " + event.Rule.Name,
		"description": message,
		"color":       discordColor[priorityOf(event)],
		"timestamp":   event.Evaluation.Timestamp.UTC().Format(time.RFC3339),
		"footer":      map[string]any{"text": "physical-mcp"},
	}

	if event.FrameBase64 != "" {
		jpeg, err := base64.StdEncoding.DecodeString(event.FrameBase64)
		if err != nil {
			return fmt.Errorf("bad frame payload: %w", err)
		}
		embed["image"] = map[string]any{"url": "attachment://alert.jpg"}
		return d.discordMultipart(ctx, url, embed, jpeg)
	}

	body, err := json.Marshal(map[string]any{"embeds": []any{embed}})
	if err != nil {
		return err
	}
	return d.discordPost(ctx, url, "application/json", bytes.NewReader(body))
}

func (d *Dispatcher) discordMultipart(ctx context.Context, url string, embed map[string]any, jpeg []byte) error {
	payload, err := json.Marshal(map[string]any{"embeds": []any{embed}})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("payload_json", string(payload))
	part, err := mw.CreateFormFile("files[0]", "alert.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(jpeg); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return d.discordPost(ctx, url, mw.FormDataContentType(), &buf)
}

func (d *Dispatcher) discordPost(ctx context.Context, url, contentType string, body io.Reader) error {
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
		return fmt.Errorf("discord status %d", resp.StatusCode)
	}
	return nil
}
