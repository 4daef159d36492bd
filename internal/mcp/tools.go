package mcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/physical-mcp/physical-mcp/internal/camera"
	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/scene"
)

func (s *Server) reasoningMode() string {
	if s.deps.Analyzer.HasProvider() {
		return "server"
	}
	return "client"
}

func (s *Server) handleCaptureFrame(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		CameraID string `json:"camera_id"`
		Quality  int    `json:"quality"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if args.Quality <= 0 || args.Quality > 100 {
		args.Quality = 85
	}

	cam, ok := s.camera(args.CameraID)
	if !ok {
		return errResult("camera not found"), nil
	}
	frame := cam.Buffer.Latest()
	if frame == nil {
		return errResult("no frame captured yet from " + cam.Name()), nil
	}
	raw, err := frame.EncodeJPEG(args.Quality)
	if err != nil {
		return errResult("encode frame: " + err.Error()), nil
	}

	meta := fmt.Sprintf("Frame from %s (%s): %dx%d, sequence %d, captured %s.",
		cam.Name(), cam.ID(), frame.Width, frame.Height, frame.Sequence,
		frame.Timestamp.Format(time.RFC3339))
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.ImageContent{Data: raw, MIMEType: "image/jpeg"},
			&mcpsdk.TextContent{Text: meta},
		},
	}, nil
}

func (s *Server) handleListCameras(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	cams := s.deps.Runtime.Cameras()
	out := make([]map[string]any, 0, len(cams))
	for _, cam := range cams {
		snap := cam.Scene.Snapshot()
		out = append(out, map[string]any{
			"id":              cam.ID(),
			"name":            cam.Name(),
			"type":            cam.Cfg.Type,
			"status":          cam.Health.Snapshot().Status,
			"scene_summary":   snap.Summary,
			"objects_present": snap.ObjectsPresent,
			"people_count":    snap.PeopleCount,
		})
	}
	return textResult(map[string]any{"cameras": out, "count": len(out)}), nil
}

func (s *Server) handleCameraStatus(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		CameraID string `json:"camera_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	cam, ok := s.camera(args.CameraID)
	if !ok {
		return errResult("camera not found"), nil
	}

	var lastSeq uint64
	if f := cam.Buffer.Latest(); f != nil {
		lastSeq = f.Sequence
	}
	return textResult(map[string]any{
		"id":            cam.ID(),
		"name":          cam.Name(),
		"type":          cam.Cfg.Type,
		"health":        cam.Health.Snapshot(),
		"buffer_frames": cam.Buffer.Size(),
		"last_sequence": lastSeq,
		"scene":         cam.Scene.Snapshot(),
	}), nil
}

func (s *Server) handleSceneState(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	cams := s.deps.Runtime.Cameras()
	scenes := make(map[string]any, len(cams))
	for _, cam := range cams {
		scenes[cam.ID()] = map[string]any{
			"name":  cam.Name(),
			"scene": cam.Scene.Snapshot(),
		}
	}
	return textResult(map[string]any{
		"cameras":        scenes,
		"reasoning_mode": s.reasoningMode(),
		"pending_alerts": s.deps.Queue.Size(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}), nil
}

func (s *Server) handleRecentChanges(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		Minutes  int    `json:"minutes"`
		CameraID string `json:"camera_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if args.Minutes <= 0 {
		args.Minutes = 10
	}

	type change struct {
		CameraID string `json:"camera_id"`
		scene.ChangeEntry
	}
	var out []change
	for _, cam := range s.deps.Runtime.Cameras() {
		if args.CameraID != "" && cam.ID() != args.CameraID {
			continue
		}
		for _, entry := range cam.Scene.ChangeLog(args.Minutes) {
			out = append(out, change{CameraID: cam.ID(), ChangeEntry: entry})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return textResult(map[string]any{
		"changes":        out,
		"count":          len(out),
		"window_minutes": args.Minutes,
	}), nil
}

func (s *Server) handleAnalyzeNow(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		Question string `json:"question"`
		CameraID string `json:"camera_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}

	cam, ok := s.camera(args.CameraID)
	if !ok {
		return errResult("camera not found"), nil
	}
	frame := cam.Buffer.Latest()
	if frame == nil {
		return errResult("no frame captured yet from " + cam.Name()), nil
	}

	if !s.deps.Analyzer.HasProvider() {
		// Client mode: hand the frame over with descriptive metadata and
		// let the caller's own model do the looking.
		raw, err := frame.EncodeJPEG(85)
		if err != nil {
			return errResult("encode frame: " + err.Error()), nil
		}
		text := fmt.Sprintf("Current frame from %s (%s), captured %s.",
			cam.Name(), cam.ID(), frame.Timestamp.Format(time.RFC3339))
		if summary := cam.Scene.Summary(); summary != "" {
			text += " Last known scene: " + summary + "."
		}
		if args.Question != "" {
			text += " The caller asked: " + args.Question
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.ImageContent{Data: raw, MIMEType: "image/jpeg"},
				&mcpsdk.TextContent{Text: text},
			},
		}, nil
	}

	frameB64, err := frame.Base64JPEG(85)
	if err != nil {
		return errResult("encode frame: " + err.Error()), nil
	}

	if args.Question != "" {
		answer, err := s.deps.Analyzer.Ask(ctx, frameB64, args.Question)
		if err != nil {
			return errResult("analysis failed: " + err.Error()), nil
		}
		s.deps.Stats.RecordAnalysis()
		return textResult(map[string]any{
			"camera_id": cam.ID(),
			"question":  args.Question,
			"answer":    answer,
		}), nil
	}

	analysis, err := s.deps.Analyzer.AnalyzeScene(ctx, frameB64)
	if err != nil {
		return errResult("analysis failed: " + err.Error()), nil
	}
	s.deps.Stats.RecordAnalysis()
	if analysis.Summary != "" {
		cam.Scene.Update(analysis.Summary, analysis.Objects, analysis.PeopleCount, "on-demand analysis")
		s.deps.Bus.Publish(events.TopicScene, map[string]any{
			"camera_id":    cam.ID(),
			"summary":      analysis.Summary,
			"objects":      analysis.Objects,
			"people_count": analysis.PeopleCount,
		})
	}
	return textResult(map[string]any{
		"camera_id":    cam.ID(),
		"summary":      analysis.Summary,
		"objects":      analysis.Objects,
		"people_count": analysis.PeopleCount,
	}), nil
}

func (s *Server) handleSystemStats(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	return textResult(map[string]any{
		"stats":          s.deps.Stats.Snapshot(),
		"cameras":        len(s.deps.Runtime.Cameras()),
		"rules":          len(s.deps.Engine.ListRules()),
		"reasoning_mode": s.reasoningMode(),
		"pending_alerts": s.deps.Queue.Size(),
	}), nil
}

func (s *Server) handleCameraHealth(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		CameraID string `json:"camera_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if args.CameraID != "" {
		cam, ok := s.deps.Runtime.Camera(args.CameraID)
		if !ok {
			return errResult("camera not found"), nil
		}
		return textResult(cam.Health.Snapshot()), nil
	}

	out := []camera.Health{}
	for _, cam := range s.deps.Runtime.Cameras() {
		out = append(out, cam.Health.Snapshot())
	}
	return textResult(map[string]any{"cameras": out}), nil
}

func (s *Server) handleConfigureProvider(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		Model    string `json:"model"`
		BaseURL  string `json:"base_url"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}

	warned, reason, err := s.deps.Runtime.ConfigureProvider(config.Reasoning{
		Provider: args.Provider,
		APIKey:   args.APIKey,
		Model:    args.Model,
		BaseURL:  args.BaseURL,
	})
	if err != nil {
		return errResult("provider configuration failed: " + err.Error()), nil
	}

	model := ""
	if p := s.deps.Analyzer.Provider(); p != nil {
		model = p.ModelName()
	}
	return textResult(map[string]any{
		"status":                   "ok",
		"provider":                 args.Provider,
		"model":                    model,
		"reasoning_mode":           s.reasoningMode(),
		"fallback_warning_emitted": warned,
		"fallback_warning_reason":  reason,
	}), nil
}

func (s *Server) handleReadMemory(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	doc := s.deps.Memory.ReadAll()
	if doc == "" {
		return plainResult("Memory is empty."), nil
	}
	return plainResult(doc), nil
}

func (s *Server) handleSaveMemory(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		Event           string `json:"event"`
		RuleID          string `json:"rule_id"`
		RuleContext     string `json:"rule_context"`
		PreferenceKey   string `json:"preference_key"`
		PreferenceValue string `json:"preference_value"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}

	saved := []string{}
	if args.Event != "" {
		s.deps.Memory.AppendEvent(args.Event)
		saved = append(saved, "event")
	}
	if args.RuleID != "" && args.RuleContext != "" {
		s.deps.Memory.SetRuleContext(args.RuleID, args.RuleContext)
		saved = append(saved, "rule_context")
	}
	if args.PreferenceKey != "" && args.PreferenceValue != "" {
		s.deps.Memory.SetPreference(args.PreferenceKey, args.PreferenceValue)
		saved = append(saved, "preference")
	}
	if len(saved) == 0 {
		return errResult("nothing to save: provide event, rule_id+rule_context, or preference_key+preference_value"), nil
	}
	return textResult(map[string]any{"status": "ok", "saved": saved}), nil
}
