package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/physical-mcp/physical-mcp/internal/rules"
)

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.engine.ListRules()})
}

type ruleRequest struct {
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

func (s *Server) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	if req.Name == "" || req.Condition == "" {
		writeError(w, http.StatusBadRequest, "invalid_rule", "name and condition are required")
		return
	}

	notif := rules.NotificationTarget{
		Type:    req.NotificationType,
		URL:     req.NotificationURL,
		Channel: req.NotificationChannel,
		Target:  req.NotificationTarget,
	}
	// A plain local rule inherits the global OpenClaw route when one is
	// configured, so dashboard-created rules still reach the user's chat.
	if (notif.Type == "" || notif.Type == rules.NotifyLocal) && s.cfg.Notifications.OpenClawChannel != "" {
		notif.Type = rules.NotifyOpenClaw
		notif.Channel = s.cfg.Notifications.OpenClawChannel
		notif.Target = s.cfg.Notifications.OpenClawTarget
	}

	created, err := s.engine.AddRule(rules.WatchRule{
		Name:            req.Name,
		Condition:       req.Condition,
		CameraID:        req.CameraID,
		Priority:        req.Priority,
		Enabled:         true,
		Notification:    notif,
		CooldownSeconds: req.CooldownSeconds,
		CustomMessage:   req.CustomMessage,
		OwnerID:         req.OwnerID,
		OwnerName:       req.OwnerName,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}
	s.persistRules()
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rule_id")
	if !s.engine.RemoveRule(id) {
		writeError(w, http.StatusNotFound, "rule_not_found", "no rule with that id")
		return
	}
	// Queued alerts for a deleted rule must not surface later.
	if n := s.queue.FlushRule(id); n > 0 {
		s.log.WithField("rule_id", id).Infof("flushed %d pending alert(s) for deleted rule", n)
	}
	s.persistRules()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "rule_id": id})
}

func (s *Server) handleRuleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rule_id")
	enabled, err := s.engine.ToggleRule(id)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule_not_found", "no rule with that id")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}
	s.persistRules()
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "enabled": enabled})
}

func (s *Server) persistRules() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.engine.ListRules()); err != nil {
		s.log.WithError(err).Warn("rules persist failed")
	}
}
