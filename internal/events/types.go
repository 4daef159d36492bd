package events

// LogEvent is the payload published on the mcp_log topic. The MCP server
// renders it with the PMCP prefix; other subscribers read it structurally.
type LogEvent struct {
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	CameraID string `json:"camera_id,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	Message  string `json:"message"`
}

// Log event types.
const (
	LogAlert         = "ALERT"
	LogCameraAlert   = "CAMERA_ALERT"
	LogSceneChange   = "SCENE_CHANGE"
	LogProviderError = "PROVIDER_ERROR"
	LogCameraError   = "CAMERA_ERROR"
	LogFallback      = "FALLBACK"
	LogRuleChange    = "RULE_CHANGE"
	LogStartup       = "STARTUP"
)
