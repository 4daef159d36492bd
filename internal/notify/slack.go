package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

var slackEmoji = map[string]string{
	rules.PriorityLow:      ":information_source:",
	rules.PriorityMedium:   ":bell:",
	rules.PriorityHigh:     ":warning:",
	rules.PriorityCritical: ":rotating_light:",
}

// sendSlack posts Block Kit blocks to an incoming webhook, with a plain
// text field for clients that do not render blocks.
func (d *Dispatcher) sendSlack(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	url := event.Rule.Notification.URL
	if url == "" {
		url = pair.target
	}
	if url == "" {
		return fmt.Errorf("no slack webhook configured")
	}

	emoji := slackEmoji[priorityOf(event)]
	payload := map[string]any{
		"text": fmt.Sprintf("%s Alert: %s - %s", emoji, event.Rule.Name, message),
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Alert: %s", emoji, event.Rule.Name),
				},
			},
			map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": message},
			},
			map[string]any{
				"type": "context",
				"elements": []any{
					map[string]any{
						"type": "mrkdwn",
						"text": fmt.Sprintf("priority: %s | confidence: %.0f%%",
							priorityOf(event), event.Evaluation.Confidence*100),
					},
				},
			},
		},
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
		return fmt.Errorf("slack status %d", resp.StatusCode)
	}
	return nil
}
