package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/camera"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/rules"
)

type ruleArgs struct {
	Name                string `json:"name"`
	Condition           string `json:"condition"`
	CameraID            string `json:"camera_id"`
	Priority            string `json:"priority"`
	NotificationType    string `json:"notification_type"`
	NotificationURL     string `json:"notification_url"`
	NotificationChannel string `json:"notification_channel"`
	NotificationTarget  string `json:"notification_target"`
	CooldownSeconds     int    `json:"cooldown_seconds"`
	CustomMessage       string `json:"custom_message"`
	OwnerID             string `json:"owner_id"`
	OwnerName           string `json:"owner_name"`
}

// chooseNotification resolves a rule's delivery route. A rule left on
// "local" inherits the first configured global channel, so alerts created
// from chat still reach the user when the chat session is gone.
func (s *Server) chooseNotification(t rules.NotificationTarget) rules.NotificationTarget {
	if t.Type != "" && t.Type != rules.NotifyLocal {
		return t
	}
	n := s.cfg.Notifications
	switch {
	case n.OpenClawChannel != "":
		t.Type = rules.NotifyOpenClaw
		t.Channel = n.OpenClawChannel
		t.Target = n.OpenClawTarget
	case n.TelegramToken != "" && n.TelegramChat != "":
		t.Type = rules.NotifyTelegram
	case n.NtfyTopic != "":
		t.Type = rules.NotifyNtfy
	case n.DesktopEnabled:
		t.Type = rules.NotifyDesktop
	default:
		t.Type = rules.NotifyLocal
	}
	return t
}

// createRule runs the shared create path: add, persist, remember, announce,
// and make sure configured cameras are actually watching.
func (s *Server) createRule(ctx context.Context, r rules.WatchRule) (rules.WatchRule, error) {
	r.Notification = s.chooseNotification(r.Notification)
	created, err := s.deps.Engine.AddRule(r)
	if err != nil {
		return rules.WatchRule{}, err
	}

	if s.deps.RulesStore != nil {
		if err := s.deps.RulesStore.Save(s.deps.Engine.ListRules()); err != nil {
			s.log.WithError(err).Warn("rules persist failed")
		}
	}
	s.deps.Memory.AppendEvent(fmt.Sprintf("Watch rule added: %s (%s)", created.Name, created.Condition))

	stored := s.deps.Replay.Append(alerts.ReplayEvent{
		EventType: alerts.EventRuleChange,
		RuleID:    created.ID,
		RuleName:  created.Name,
		Message:   "watch rule added: " + created.Name,
	})
	s.deps.Bus.Publish(events.TopicMCPLog, events.LogEvent{
		EventID: stored.EventID,
		Type:    events.LogRuleChange,
		RuleID:  created.ID,
		Message: "watch rule added: " + created.Name,
	})

	s.startIdleCameras(ctx)
	return created, nil
}

// startIdleCameras launches loops for configured cameras that are not yet
// running, so a freshly created rule starts observing immediately.
func (s *Server) startIdleCameras(ctx context.Context) {
	for _, cc := range s.cfg.Cameras {
		if !cc.IsEnabled() {
			continue
		}
		id := camera.DeriveSourceID(cc)
		if _, running := s.deps.Runtime.Camera(id); running {
			continue
		}
		if err := s.deps.Runtime.StartCamera(ctx, cc); err != nil {
			s.log.WithField("camera", id).WithError(err).Warn("camera failed to start for new rule")
		}
	}
}

func (s *Server) handleAddWatchRule(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args ruleArgs
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if args.Name == "" || args.Condition == "" {
		return errResult("name and condition are required"), nil
	}

	created, err := s.createRule(ctx, rules.WatchRule{
		Name:      args.Name,
		Condition: args.Condition,
		CameraID:  args.CameraID,
		Priority:  args.Priority,
		Enabled:   true,
		Notification: rules.NotificationTarget{
			Type:    args.NotificationType,
			URL:     args.NotificationURL,
			Channel: args.NotificationChannel,
			Target:  args.NotificationTarget,
		},
		CooldownSeconds: args.CooldownSeconds,
		CustomMessage:   args.CustomMessage,
		OwnerID:         args.OwnerID,
		OwnerName:       args.OwnerName,
	})
	if err != nil {
		return errResult("rule rejected: " + err.Error()), nil
	}
	return textResult(created), nil
}

func (s *Server) handleListWatchRules(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	list := s.deps.Engine.ListRules()
	return textResult(map[string]any{"rules": list, "count": len(list)}), nil
}

func (s *Server) handleRemoveWatchRule(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		RuleID string `json:"rule_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}

	rule, found := s.deps.Engine.GetRule(args.RuleID)
	if !found || !s.deps.Engine.RemoveRule(args.RuleID) {
		return errResult("no rule with id " + args.RuleID), nil
	}
	// Queued alerts for a deleted rule must not surface later.
	if n := s.deps.Queue.FlushRule(args.RuleID); n > 0 {
		s.log.WithField("rule_id", args.RuleID).Infof("flushed %d pending alert(s) for deleted rule", n)
	}
	if s.deps.RulesStore != nil {
		if err := s.deps.RulesStore.Save(s.deps.Engine.ListRules()); err != nil {
			s.log.WithError(err).Warn("rules persist failed")
		}
	}
	s.deps.Memory.RemoveRuleContext(args.RuleID)

	stored := s.deps.Replay.Append(alerts.ReplayEvent{
		EventType: alerts.EventRuleChange,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Message:   "watch rule removed: " + rule.Name,
	})
	s.deps.Bus.Publish(events.TopicMCPLog, events.LogEvent{
		EventID: stored.EventID,
		Type:    events.LogRuleChange,
		RuleID:  rule.ID,
		Message: "watch rule removed: " + rule.Name,
	})

	return textResult(map[string]any{"status": "removed", "rule_id": rule.ID, "name": rule.Name}), nil
}

func (s *Server) handleListRuleTemplates(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		Category string `json:"category"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	list := rules.ListTemplates(args.Category)
	return textResult(map[string]any{"templates": list, "count": len(list)}), nil
}

func (s *Server) handleCreateRuleFromTemplate(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		TemplateID          string `json:"template_id"`
		CameraID            string `json:"camera_id"`
		NotificationType    string `json:"notification_type"`
		NotificationURL     string `json:"notification_url"`
		NotificationChannel string `json:"notification_channel"`
		NotificationTarget  string `json:"notification_target"`
		CustomMessage       string `json:"custom_message"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}

	tpl, ok := rules.TemplateByID(args.TemplateID)
	if !ok {
		return errResult("no template with id " + args.TemplateID), nil
	}
	r := rules.FromTemplate(tpl, args.CameraID)
	if args.NotificationType != "" {
		r.Notification = rules.NotificationTarget{
			Type:    args.NotificationType,
			URL:     args.NotificationURL,
			Channel: args.NotificationChannel,
			Target:  args.NotificationTarget,
		}
	}
	r.CustomMessage = args.CustomMessage

	created, err := s.createRule(ctx, r)
	if err != nil {
		return errResult("rule rejected: " + err.Error()), nil
	}
	return textResult(created), nil
}
