package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

// sendWebhook POSTs the full alert as JSON to a user-supplied endpoint.
func (d *Dispatcher) sendWebhook(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	url := event.Rule.Notification.URL
	if url == "" {
		url = d.cfg.WebhookURL
	}
	if url == "" {
		return fmt.Errorf("no webhook url configured")
	}

	payload := map[string]any{
		"rule_id":    event.Rule.ID,
		"rule_name":  event.Rule.Name,
		"condition":  event.Rule.Condition,
		"priority":   priorityOf(event),
		"camera_id":  event.Rule.CameraID,
		"reasoning":  event.Evaluation.Reasoning,
		"confidence": event.Evaluation.Confidence,
		"message":    message,
		"timestamp":  event.Evaluation.Timestamp.UTC().Format(time.RFC3339),
	}
	if event.FrameBase64 != "" {
		payload["image_base64"] = event.FrameBase64
	}
	if event.Rule.CustomMessage != "" {
		payload["custom_message"] = event.Rule.CustomMessage
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
