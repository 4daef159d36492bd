// Package mcp exposes the daemon to AI chat clients as an MCP tool server,
// over stdio or streamable HTTP. The tool handlers read the same shared
// components the REST layer does; neither surface owns the other.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/memory"
	"github.com/physical-mcp/physical-mcp/internal/perception"
	"github.com/physical-mcp/physical-mcp/internal/rules"
	"github.com/physical-mcp/physical-mcp/internal/vision"
)

const (
	serverName    = "physical-mcp"
	serverVersion = "1.0.0"

	defaultHTTPPort = 8091
)

// Deps are the daemon components the tool handlers call into.
type Deps struct {
	Config     *config.Config
	Log        *logrus.Logger
	Runtime    *perception.Runtime
	Engine     *rules.Engine
	RulesStore *rules.Store
	Queue      *alerts.Queue
	Stats      *alerts.Stats
	Replay     *alerts.ReplayLog
	Memory     *memory.Store
	Analyzer   *vision.Analyzer
	Bus        *events.Bus
}

// Server is the MCP tool surface. One instance serves one transport; the
// streamable-HTTP handler multiplexes sessions onto the same instance.
type Server struct {
	deps   Deps
	cfg    *config.Config
	log    *logrus.Logger
	srv    *mcpsdk.Server
	bridge *LogBridge

	sampler *SessionSampler

	// Frame cached by check_camera_alerts so report_rule_evaluation can
	// attach it to notifications.
	mu           sync.Mutex
	cachedFrame  string
	cachedCamera string
	cachedScene  string

	httpSrv *http.Server
}

// New builds the server and registers every tool. The log bridge starts
// buffering mcp_log events immediately; lines flush once a session calls in.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		deps:    deps,
		cfg:     deps.Config,
		log:     log,
		bridge:  NewLogBridge(deps.Bus, log),
		sampler: &SessionSampler{},
	}
	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	s.registerTools()

	if deps.Runtime != nil {
		deps.Runtime.SetSamplingEvaluator(s.sampler)
	}
	return s
}

// Sampler returns the session sampling bridge, mainly for tests.
func (s *Server) Sampler() *SessionSampler { return s.sampler }

// Run serves the configured transport until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Server.Transport == "http" {
		return s.runHTTP(ctx)
	}
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport serves one explicit transport. Tests drive the server
// through in-memory transports this way.
func (s *Server) RunWithTransport(ctx context.Context, t mcpsdk.Transport) error {
	return s.srv.Run(ctx, t)
}

func (s *Server) runHTTP(ctx context.Context) error {
	port := s.cfg.Server.Port
	if port <= 0 {
		port = defaultHTTPPort
	}
	handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.srv
	}, nil)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("port", port).Info("mcp http transport listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// attach marks a live session: flushes buffered log lines and hands the
// session to the sampling bridge. Called at the top of every tool handler.
func (s *Server) attach(req *mcpsdk.CallToolRequest) {
	s.bridge.Attach()
	if req != nil {
		s.sampler.Attach(req.Session)
	}
}

type toolDef struct {
	name    string
	desc    string
	schema  string
	handler mcpsdk.ToolHandler
}

func (s *Server) registerTools() {
	defs := []toolDef{
		{"capture_frame",
			"Capture the current frame from a camera and return it as an image with metadata.",
			`{"type":"object","properties":{"camera_id":{"type":"string","description":"Camera id; omit for the default camera."},"quality":{"type":"integer","description":"JPEG quality 1-100, default 85."}}}`,
			s.handleCaptureFrame},
		{"list_cameras",
			"List cameras with their status and live scene summary.",
			`{"type":"object"}`,
			s.handleListCameras},
		{"get_camera_status",
			"Get health and buffer status for one camera.",
			`{"type":"object","properties":{"camera_id":{"type":"string"}}}`,
			s.handleCameraStatus},
		{"get_scene_state",
			"Get the current scene state of every camera plus the reasoning mode and pending alert count.",
			`{"type":"object"}`,
			s.handleSceneState},
		{"get_recent_changes",
			"List recent scene changes within a time window.",
			`{"type":"object","properties":{"minutes":{"type":"integer","description":"Window in minutes, default 10."},"camera_id":{"type":"string"}}}`,
			s.handleRecentChanges},
		{"analyze_now",
			"Analyze the current frame on demand. With a server-side provider this runs one VLM call; otherwise the frame is returned for the caller to look at.",
			`{"type":"object","properties":{"question":{"type":"string","description":"Optional question about the scene."},"camera_id":{"type":"string"}}}`,
			s.handleAnalyzeNow},
		{"check_camera_alerts",
			"Drain pending camera alerts. Returns the newest alert's frame and the watch rules to evaluate; report verdicts via report_rule_evaluation.",
			`{"type":"object"}`,
			s.handleCheckCameraAlerts},
		{"report_rule_evaluation",
			"Report rule verdicts for the frame returned by check_camera_alerts. Takes a JSON array of {rule_id, triggered, confidence, reasoning}.",
			`{"type":"object","properties":{"evaluations_json":{"type":"string"}},"required":["evaluations_json"]}`,
			s.handleReportRuleEvaluation},
		{"add_watch_rule",
			"Create a watch rule: a natural-language condition checked whenever the scene changes.",
			`{"type":"object","properties":{"name":{"type":"string"},"condition":{"type":"string"},"camera_id":{"type":"string"},"priority":{"type":"string","enum":["low","medium","high","critical"]},"notification_type":{"type":"string"},"notification_url":{"type":"string"},"notification_channel":{"type":"string"},"notification_target":{"type":"string"},"cooldown_seconds":{"type":"integer"},"custom_message":{"type":"string"},"owner_id":{"type":"string"},"owner_name":{"type":"string"}},"required":["name","condition"]}`,
			s.handleAddWatchRule},
		{"list_watch_rules",
			"List all watch rules.",
			`{"type":"object"}`,
			s.handleListWatchRules},
		{"remove_watch_rule",
			"Delete a watch rule by id.",
			`{"type":"object","properties":{"rule_id":{"type":"string"}},"required":["rule_id"]}`,
			s.handleRemoveWatchRule},
		{"list_rule_templates",
			"List the built-in rule templates, optionally filtered by category (security, pets, family, automation, business).",
			`{"type":"object","properties":{"category":{"type":"string"}}}`,
			s.handleListRuleTemplates},
		{"create_rule_from_template",
			"Create a watch rule from a built-in template.",
			`{"type":"object","properties":{"template_id":{"type":"string"},"camera_id":{"type":"string"},"notification_type":{"type":"string"},"notification_url":{"type":"string"},"notification_channel":{"type":"string"},"notification_target":{"type":"string"},"custom_message":{"type":"string"}},"required":["template_id"]}`,
			s.handleCreateRuleFromTemplate},
		{"get_system_stats",
			"Get analysis counts, cost estimate, alert totals, and uptime.",
			`{"type":"object"}`,
			s.handleSystemStats},
		{"get_camera_health",
			"Get the health snapshot of one camera or all cameras.",
			`{"type":"object","properties":{"camera_id":{"type":"string"}}}`,
			s.handleCameraHealth},
		{"configure_provider",
			"Hot-swap the VLM provider. An empty provider switches to client-side reasoning.",
			`{"type":"object","properties":{"provider":{"type":"string","description":"openai, anthropic, ollama, openrouter, or empty for client-side."},"api_key":{"type":"string"},"model":{"type":"string"},"base_url":{"type":"string"}}}`,
			s.handleConfigureProvider},
		{"read_memory",
			"Read the persistent memory document: recent events, rule context, preferences.",
			`{"type":"object"}`,
			s.handleReadMemory},
		{"save_memory",
			"Save to persistent memory: an event line, per-rule context, or a preference.",
			`{"type":"object","properties":{"event":{"type":"string"},"rule_id":{"type":"string"},"rule_context":{"type":"string"},"preference_key":{"type":"string"},"preference_value":{"type":"string"}}}`,
			s.handleSaveMemory},
	}

	for _, d := range defs {
		schema := new(jsonschema.Schema)
		if err := json.Unmarshal([]byte(d.schema), schema); err != nil {
			panic(fmt.Sprintf("invalid tool schema for %s: %v", d.name, err))
		}
		s.srv.AddTool(&mcpsdk.Tool{
			Name:        d.name,
			Description: d.desc,
			InputSchema: schema,
		}, d.handler)
	}
}

// decodeArgs unmarshals tool arguments. Absent arguments leave the defaults.
func decodeArgs(req *mcpsdk.CallToolRequest, out any) error {
	if req == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, out)
}

// textResult marshals v as indented JSON in a single text block.
func textResult(v any) *mcpsdk.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult("encode result: " + err.Error())
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}
}

func plainResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func errResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}

// camera resolves a camera id, falling back to the default camera.
func (s *Server) camera(id string) (*perception.Camera, bool) {
	if id == "" {
		return s.deps.Runtime.DefaultCamera()
	}
	return s.deps.Runtime.Camera(id)
}
