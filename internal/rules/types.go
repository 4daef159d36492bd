// Package rules implements the watch-rule engine: rule CRUD, evaluation
// post-processing with the confidence and cooldown gates, YAML persistence,
// and the built-in template catalog.
package rules

import (
	"errors"
	"time"
)

// Priority levels, lowest to highest.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Notification channel types.
const (
	NotifyLocal    = "local"
	NotifyDesktop  = "desktop"
	NotifyNtfy     = "ntfy"
	NotifyTelegram = "telegram"
	NotifyDiscord  = "discord"
	NotifySlack    = "slack"
	NotifyWebhook  = "webhook"
	NotifyOpenClaw = "openclaw"
)

var (
	ErrRuleNotFound = errors.New("rule_not_found")
	ErrInvalidRule  = errors.New("invalid_rule")
)

const DefaultCooldownSeconds = 60

// NotificationTarget says where an alert goes. Channel and Target may be
// comma-separated lists; the dispatcher fans out once per pair.
type NotificationTarget struct {
	Type    string `yaml:"type" json:"type"`
	URL     string `yaml:"url,omitempty" json:"url,omitempty"`
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`
	Target  string `yaml:"target,omitempty" json:"target,omitempty"`
}

// WatchRule is a natural-language condition the VLM evaluates against the
// current frame, plus a notification target and cooldown.
type WatchRule struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name" json:"name"`
	Condition       string             `yaml:"condition" json:"condition"`
	CameraID        string             `yaml:"camera_id,omitempty" json:"camera_id"` // "" means all cameras
	Priority        string             `yaml:"priority" json:"priority"`
	Enabled         bool               `yaml:"enabled" json:"enabled"`
	Notification    NotificationTarget `yaml:"notification" json:"notification"`
	CooldownSeconds int                `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	CustomMessage   string             `yaml:"custom_message,omitempty" json:"custom_message,omitempty"`
	OwnerID         string             `yaml:"owner_id,omitempty" json:"owner_id,omitempty"`
	OwnerName       string             `yaml:"owner_name,omitempty" json:"owner_name,omitempty"`
	CreatedAt       time.Time          `yaml:"created_at" json:"created_at"`
	LastTriggered   *time.Time         `yaml:"last_triggered,omitempty" json:"last_triggered,omitempty"`
}

// CooldownElapsed reports whether the rule may trigger again at now.
func (r *WatchRule) CooldownElapsed(now time.Time) bool {
	if r.LastTriggered == nil {
		return true
	}
	return now.Sub(*r.LastTriggered) >= time.Duration(r.CooldownSeconds)*time.Second
}

// AppliesTo reports whether the rule watches the given camera.
func (r *WatchRule) AppliesTo(cameraID string) bool {
	return r.CameraID == "" || r.CameraID == cameraID
}

// Evaluation is one VLM verdict for one rule.
type Evaluation struct {
	RuleID     string    `json:"rule_id"`
	Triggered  bool      `json:"triggered"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertEvent is an evaluation that passed every gate and must be delivered.
type AlertEvent struct {
	Rule         WatchRule  `json:"rule"`
	Evaluation   Evaluation `json:"evaluation"`
	SceneSummary string     `json:"scene_summary"`
	FrameBase64  string     `json:"frame_base64,omitempty"`
}
