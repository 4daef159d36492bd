package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/physical-mcp/physical-mcp/internal/metrics"
)

func (s *Server) handleCheckCameraAlerts(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	pending := s.deps.Queue.PopAll()
	metrics.SetPendingAlerts(0)
	if len(pending) == 0 {
		return plainResult("No pending camera alerts."), nil
	}

	newest := pending[len(pending)-1]

	s.mu.Lock()
	s.cachedFrame = newest.FrameBase64
	s.cachedCamera = newest.CameraID
	s.cachedScene = newest.SceneContext
	s.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending camera alert(s) drained.\n\n", len(pending))
	for _, pa := range pending {
		fmt.Fprintf(&sb, "- %s: %s on %s (%s), level %s: %s\n",
			pa.Timestamp.Format("15:04:05"), pa.ID, pa.CameraName, pa.CameraID,
			pa.ChangeLevel, pa.ChangeDescription)
	}
	fmt.Fprintf(&sb, "\nNewest alert frame is attached (camera %s).", newest.CameraName)
	if newest.SceneContext != "" {
		fmt.Fprintf(&sb, "\nScene context: %s", newest.SceneContext)
	}
	sb.WriteString("\n\nWatch rules to evaluate against the frame:\n")
	for _, r := range newest.ActiveRules {
		fmt.Fprintf(&sb, "- rule_id=%s %q: %s (priority %s)\n", r.ID, r.Name, r.Condition, r.Priority)
	}
	sb.WriteString("\nCall report_rule_evaluation with a JSON array of " +
		`{"rule_id", "triggered", "confidence", "reasoning"}` + " for each rule.")

	content := []mcpsdk.Content{}
	if raw, err := base64.StdEncoding.DecodeString(newest.FrameBase64); err == nil && len(raw) > 0 {
		content = append(content, &mcpsdk.ImageContent{Data: raw, MIMEType: "image/jpeg"})
	}
	content = append(content, &mcpsdk.TextContent{Text: sb.String()})
	return &mcpsdk.CallToolResult{Content: content}, nil
}

func (s *Server) handleReportRuleEvaluation(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	s.attach(req)
	var args struct {
		EvaluationsJSON string `json:"evaluations_json"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	if args.EvaluationsJSON == "" {
		return errResult("evaluations_json is required"), nil
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(args.EvaluationsJSON), &raw); err != nil {
		parsed, perr := parseEvaluations(args.EvaluationsJSON)
		if perr != nil {
			return errResult("evaluations_json is not a JSON array: " + err.Error()), nil
		}
		raw = parsed
	}

	s.mu.Lock()
	frameB64 := s.cachedFrame
	cameraID := s.cachedCamera
	sceneCtx := s.cachedScene
	s.mu.Unlock()

	fired := s.deps.Runtime.ReportClientEvaluations(ctx, cameraID, raw, sceneCtx, frameB64)

	names := make([]string, 0, len(fired))
	for _, ev := range fired {
		names = append(names, ev.Rule.Name)
	}
	msg := fmt.Sprintf("processed %d evaluation(s), %d alert(s) fired", len(raw), len(fired))
	if len(names) > 0 {
		msg += ": " + strings.Join(names, ", ")
	}
	return textResult(map[string]any{
		"processed":       len(raw),
		"triggered":       len(fired),
		"triggered_rules": names,
		"message":         msg,
	}), nil
}
