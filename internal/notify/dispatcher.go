// Package notify delivers alert events to their configured channels:
// desktop banners, ntfy, Telegram, Discord, Slack, plain webhooks, and
// the openclaw CLI. Delivery failures are logged and reported as false,
// never raised, so a dead webhook cannot stall perception.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/rules"
)

const (
	dedupCacheSize  = 512
	desktopInterval = 10 * time.Second
	httpSendTimeout = 5 * time.Second
)

// Dispatcher fans an AlertEvent out to one or more channel/target pairs.
type Dispatcher struct {
	cfg       config.Notifications
	log       *logrus.Logger
	client    *http.Client
	framePath string

	dedup *lru.Cache[string, time.Time]

	desktopMu   sync.Mutex
	lastDesktop time.Time

	clock  func() time.Time
	runCmd commandRunner
}

// commandRunner abstracts subprocess execution for desktop and openclaw
// delivery so tests can intercept it.
type commandRunner func(ctx context.Context, name string, args ...string) error

func NewDispatcher(cfg config.Notifications, framePath string, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cache, _ := lru.New[string, time.Time](dedupCacheSize)
	return &Dispatcher{
		cfg:       cfg,
		log:       log,
		client:    &http.Client{Timeout: httpSendTimeout},
		framePath: framePath,
		dedup:     cache,
		clock:     time.Now,
		runCmd:    runCommand,
	}
}

// SetClock overrides the time source for tests.
func (d *Dispatcher) SetClock(fn func() time.Time) { d.clock = fn }

// Dispatch delivers the event per its rule's notification target. It
// returns true only when every channel/target pair succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, event rules.AlertEvent) bool {
	if d.isDuplicate(event) {
		d.log.WithFields(logrus.Fields{
			"rule_id": event.Rule.ID,
			"camera":  event.Rule.CameraID,
		}).Debug("alert suppressed as duplicate")
		return true
	}

	target := event.Rule.Notification
	message := d.buildMessage(event)

	ok := true
	for _, pair := range fanoutPairs(target) {
		if err := d.deliver(ctx, event, pair, message); err != nil {
			d.log.WithFields(logrus.Fields{
				"rule_id": event.Rule.ID,
				"type":    target.Type,
				"channel": pair.channel,
				"target":  pair.target,
			}).WithError(err).Warn("notification delivery failed")
			ok = false
		}
	}

	// A globally enabled desktop adds a local banner alongside remote
	// channels so the operator sees alerts even when the phone does not.
	if d.cfg.DesktopEnabled && target.Type != rules.NotifyDesktop && target.Type != rules.NotifyLocal {
		d.sendDesktop("Alert: "+event.Rule.Name, message)
	}
	return ok
}

// Notice sends a lightweight informational banner outside the alert path.
// The perception loop uses it for scene changes in client mode. Desktop
// first when globally enabled, ntfy when a global topic exists.
func (d *Dispatcher) Notice(ctx context.Context, title, body string) {
	if d.cfg.DesktopEnabled {
		d.sendDesktop(title, body)
	}
	if d.cfg.NtfyTopic == "" {
		return
	}
	endpoint := defaultNtfyServer + "/" + d.cfg.NtfyTopic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Title", sanitizeHeader(title))
	req.Header.Set("Priority", "2")
	if resp, err := d.client.Do(req); err == nil {
		resp.Body.Close()
	} else {
		d.log.WithError(err).Debug("scene-change notice failed")
	}
}

type channelPair struct {
	channel string
	target  string
}

// fanoutPairs splits comma-separated channel and target lists and pairs
// them index-wise. When the lists are uneven the last value of the
// shorter list repeats.
func fanoutPairs(t rules.NotificationTarget) []channelPair {
	channels := splitList(t.Channel)
	targets := splitList(t.Target)

	n := len(channels)
	if len(targets) > n {
		n = len(targets)
	}
	if n == 0 {
		return []channelPair{{}}
	}

	pairs := make([]channelPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, channelPair{
			channel: pick(channels, i),
			target:  pick(targets, i),
		})
	}
	return pairs
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pick(list []string, i int) string {
	if len(list) == 0 {
		return ""
	}
	if i >= len(list) {
		return list[len(list)-1]
	}
	return list[i]
}

func (d *Dispatcher) deliver(ctx context.Context, event rules.AlertEvent, pair channelPair, message string) error {
	switch event.Rule.Notification.Type {
	case rules.NotifyLocal, "":
		// The tool response that reports the alert is the notification.
		return nil
	case rules.NotifyDesktop:
		if !d.sendDesktop("Alert: "+event.Rule.Name, message) {
			return fmt.Errorf("desktop notification failed")
		}
		return nil
	case rules.NotifyNtfy:
		return d.sendNtfy(ctx, event, pair, message)
	case rules.NotifyTelegram:
		return d.sendTelegram(ctx, event, pair, message)
	case rules.NotifyDiscord:
		return d.sendDiscord(ctx, event, pair, message)
	case rules.NotifySlack:
		return d.sendSlack(ctx, event, pair, message)
	case rules.NotifyWebhook:
		return d.sendWebhook(ctx, event, pair, message)
	case rules.NotifyOpenClaw:
		return d.sendOpenClaw(ctx, event, pair, message)
	default:
		return fmt.Errorf("unknown notification type %q", event.Rule.Notification.Type)
	}
}

// buildMessage uses the rule's custom message verbatim when set, otherwise
// composes the default alert body.
func (d *Dispatcher) buildMessage(event rules.AlertEvent) string {
	if event.Rule.CustomMessage != "" {
		return event.Rule.CustomMessage
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s", event.Rule.Name, event.Evaluation.Reasoning)
	if event.Evaluation.Confidence > 0 {
		fmt.Fprintf(&sb, " (confidence %.0f%%)", event.Evaluation.Confidence*100)
	}
	if event.SceneSummary != "" {
		fmt.Fprintf(&sb, "\nScene: %s", event.SceneSummary)
	}
	return sb.String()
}

// isDuplicate suppresses a second alert for the same rule and camera
// inside the rule's cooldown window. Queue replays and multi-transport
// fanout can otherwise deliver the same alert twice.
func (d *Dispatcher) isDuplicate(event rules.AlertEvent) bool {
	key := event.Rule.ID + "|" + event.Rule.CameraID
	window := time.Duration(event.Rule.CooldownSeconds) * time.Second
	if window <= 0 {
		window = time.Duration(rules.DefaultCooldownSeconds) * time.Second
	}
	now := d.clock()
	if sentAt, ok := d.dedup.Get(key); ok && now.Sub(sentAt) < window {
		return true
	}
	d.dedup.Add(key, now)
	return false
}

func priorityOf(event rules.AlertEvent) string {
	if event.Rule.Priority == "" {
		return rules.PriorityMedium
	}
	return event.Rule.Priority
}
