package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

const defaultNtfyServer = "https://ntfy.sh"

var ntfyPriority = map[string]string{
	rules.PriorityLow:      "2",
	rules.PriorityMedium:   "3",
	rules.PriorityHigh:     "4",
	rules.PriorityCritical: "5",
}

// sendNtfy publishes to an ntfy topic. With a frame the JPEG is PUT as
// the binary body and the text rides in the X-Message header; without
// one the text is POSTed directly.
func (d *Dispatcher) sendNtfy(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	topic := pair.target
	if topic == "" {
		topic = d.cfg.NtfyTopic
	}
	if topic == "" {
		return fmt.Errorf("no ntfy topic configured")
	}

	server := event.Rule.Notification.URL
	if server == "" {
		server = defaultNtfyServer
	}
	endpoint := strings.TrimRight(server, "/") + "/" + topic

	var req *http.Request
	var err error
	if event.FrameBase64 != "" {
		jpeg, decErr := base64.StdEncoding.DecodeString(event.FrameBase64)
		if decErr != nil {
			return fmt.Errorf("bad frame payload: %w", decErr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(jpeg))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "image/jpeg")
		req.Header.Set("Filename", "alert.jpg")
		// ntfy renders X-Message under the attached image.
		req.Header.Set("X-Message", sanitizeHeader(message))
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
		if err != nil {
			return err
		}
	}
	req.Header.Set("Title", sanitizeHeader("Alert: "+event.Rule.Name))
	req.Header.Set("Priority", ntfyPriority[priorityOf(event)])
	req.Header.Set("Tags", "rotating_light")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy status %d", resp.StatusCode)
	}
	return nil
}

// sanitizeHeader keeps multi-line alert text legal in an HTTP header.
func sanitizeHeader(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r", " "), "\n", " ")
}
