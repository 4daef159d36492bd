package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

const openclawTimeout = 15 * time.Second

// sendOpenClaw shells out to the openclaw CLI. Media delivery is tried
// first; if attaching fails the alert is resent text-only so the message
// still lands.
func (d *Dispatcher) sendOpenClaw(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	channel := pair.channel
	if channel == "" {
		channel = d.cfg.OpenClawChannel
	}
	target := pair.target
	if target == "" {
		target = d.cfg.OpenClawTarget
	}
	if channel == "" || target == "" {
		return fmt.Errorf("no openclaw channel/target configured")
	}

	ctx, cancel := context.WithTimeout(ctx, openclawTimeout)
	defer cancel()

	mediaPath := d.openclawMediaPath(event)
	if mediaPath != "" {
		err := d.runCmd(ctx, "openclaw",
			"message", "send",
			"--channel", channel,
			"--target", target,
			"-m", message,
			"--media", mediaPath,
		)
		if err == nil {
			return nil
		}
		d.log.WithError(err).Debug("openclaw media send failed, retrying text-only")
	}

	return d.runCmd(ctx, "openclaw",
		"message", "send",
		"--channel", channel,
		"--target", target,
		"-m", message,
	)
}

// openclawMediaPath materializes the frame to a file the CLI can attach.
// The perception loop already snapshots to framePath; the event's own
// frame wins when present because it is the exact alerting frame.
func (d *Dispatcher) openclawMediaPath(event rules.AlertEvent) string {
	if event.FrameBase64 != "" {
		jpeg, err := base64.StdEncoding.DecodeString(event.FrameBase64)
		if err == nil {
			f, err := os.CreateTemp("", "physical-mcp-alert-*.jpg")
			if err == nil {
				if _, err := f.Write(jpeg); err == nil {
					f.Close()
					return f.Name()
				}
				f.Close()
				os.Remove(f.Name())
			}
		}
	}
	if d.framePath != "" {
		if _, err := os.Stat(d.framePath); err == nil {
			return d.framePath
		}
	}
	return ""
}
