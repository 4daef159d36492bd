// Package config loads and persists the daemon configuration. The file is
// plain YAML with ${ENVVAR} references interpolated over the raw text before
// parsing, so secrets can stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Camera configures one camera source.
type Camera struct {
	ID        string `yaml:"id,omitempty"`
	Name      string `yaml:"name,omitempty"`
	Type      string `yaml:"type"` // usb | rtsp | http | cloud
	Device    int    `yaml:"device,omitempty"`
	URL       string `yaml:"url,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
	Enabled   *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (c Camera) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Perception tunes the per-camera pipeline.
type Perception struct {
	CaptureFPS        float64 `yaml:"capture_fps"`
	CooldownSeconds   float64 `yaml:"cooldown_seconds"`
	DebounceSeconds   float64 `yaml:"debounce_seconds"`
	HeartbeatSeconds  float64 `yaml:"heartbeat_seconds"`
	MinorThreshold    int     `yaml:"minor_threshold"`
	ModerateThreshold int     `yaml:"moderate_threshold"`
	MajorThreshold    int     `yaml:"major_threshold"`
	MaxFrames         int     `yaml:"max_frames"`
}

// Reasoning selects the VLM provider. An empty provider means client-side
// reasoning: frames are handed to the chat client instead of a server call.
type Reasoning struct {
	Provider string `yaml:"provider,omitempty"` // "" | openai | anthropic | ollama
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// CostControls caps VLM spend.
type CostControls struct {
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
	MaxPerHour     int     `yaml:"max_per_hour"`
}

// Notifications holds global notification defaults.
type Notifications struct {
	DesktopEnabled  bool   `yaml:"desktop_enabled"`
	NtfyTopic       string `yaml:"ntfy_topic,omitempty"`
	TelegramToken   string `yaml:"telegram_token,omitempty"`
	TelegramChat    string `yaml:"telegram_chat,omitempty"`
	WebhookURL      string `yaml:"webhook_url,omitempty"`
	OpenClawChannel string `yaml:"openclaw_channel,omitempty"`
	OpenClawTarget  string `yaml:"openclaw_target,omitempty"`
}

// VisionAPI configures the local HTTP surface.
type VisionAPI struct {
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token,omitempty"`
	MDNS      *bool  `yaml:"mdns,omitempty"`
}

// Server configures the MCP transport.
type Server struct {
	Transport string `yaml:"transport"` // stdio | http
	Port      int    `yaml:"port,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
}

// Config is the root document. Every section is optional in the file;
// missing fields take the documented defaults.
type Config struct {
	Server        Server        `yaml:"server"`
	Cameras       []Camera      `yaml:"cameras"`
	Perception    Perception    `yaml:"perception"`
	Reasoning     Reasoning     `yaml:"reasoning"`
	CostControls  CostControls  `yaml:"cost_controls"`
	Notifications Notifications `yaml:"notifications"`
	VisionAPI     VisionAPI     `yaml:"vision_api"`
	DataDir       string        `yaml:"data_dir,omitempty"`
	RulesPath     string        `yaml:"rules_path,omitempty"`
	MemoryPath    string        `yaml:"memory_path,omitempty"`
}

// Defaults returns a fully-populated config with documented default values.
func Defaults() *Config {
	return &Config{
		Server: Server{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Perception: Perception{
			CaptureFPS:        2,
			CooldownSeconds:   20,
			DebounceSeconds:   2,
			HeartbeatSeconds:  300,
			MinorThreshold:    5,
			ModerateThreshold: 12,
			MajorThreshold:    25,
			MaxFrames:         300,
		},
		CostControls: CostControls{
			DailyBudgetUSD: 1.0,
			MaxPerHour:     60,
		},
		VisionAPI: VisionAPI{
			Port: 8090,
		},
		DataDir: DefaultDataDir(),
	}
}

// DefaultDataDir resolves ~/.physical-mcp, honoring PHYSICAL_MCP_DATA_DIR.
func DefaultDataDir() string {
	if dir := os.Getenv("PHYSICAL_MCP_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".physical-mcp"
	}
	return filepath.Join(home, ".physical-mcp")
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnv replaces ${NAME} references with the environment value.
// Unset variables become empty strings, matching shell semantics.
func interpolateEnv(raw []byte) []byte {
	return envRefPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRefPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads the config file at path. A missing file yields pure defaults;
// malformed YAML is a hard error surfaced to the CLI (exit code 2 there).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyDerivedDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(interpolateEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDerivedDefaults()
	return cfg, nil
}

// applyDerivedDefaults fills fields whose default depends on another field
// and repairs zero values a partial YAML section may have left behind.
func (c *Config) applyDerivedDefaults() {
	d := Defaults()
	if c.Server.Transport == "" {
		c.Server.Transport = d.Server.Transport
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = d.Server.LogLevel
	}
	if c.Perception.CaptureFPS <= 0 {
		c.Perception.CaptureFPS = d.Perception.CaptureFPS
	}
	if c.Perception.DebounceSeconds <= 0 {
		c.Perception.DebounceSeconds = d.Perception.DebounceSeconds
	}
	if c.Perception.HeartbeatSeconds <= 0 {
		c.Perception.HeartbeatSeconds = d.Perception.HeartbeatSeconds
	}
	if c.Perception.MinorThreshold <= 0 {
		c.Perception.MinorThreshold = d.Perception.MinorThreshold
	}
	if c.Perception.ModerateThreshold <= 0 {
		c.Perception.ModerateThreshold = d.Perception.ModerateThreshold
	}
	if c.Perception.MajorThreshold <= 0 {
		c.Perception.MajorThreshold = d.Perception.MajorThreshold
	}
	if c.Perception.MaxFrames <= 0 {
		c.Perception.MaxFrames = d.Perception.MaxFrames
	}
	if c.CostControls.MaxPerHour <= 0 {
		c.CostControls.MaxPerHour = d.CostControls.MaxPerHour
	}
	if c.VisionAPI.Port <= 0 {
		c.VisionAPI.Port = d.VisionAPI.Port
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.RulesPath == "" {
		c.RulesPath = filepath.Join(c.DataDir, "rules.yaml")
	}
	if c.MemoryPath == "" {
		c.MemoryPath = filepath.Join(c.DataDir, "memory.md")
	}
}

// VisionAPIEnabled treats a missing flag as enabled.
func (c *Config) VisionAPIEnabled() bool {
	return c.VisionAPI.Enabled == nil || *c.VisionAPI.Enabled
}

// MDNSEnabled treats a missing flag as enabled.
func (c *Config) MDNSEnabled() bool {
	return c.VisionAPI.MDNS == nil || *c.VisionAPI.MDNS
}

// HasProvider reports whether server-side reasoning is configured.
func (c *Config) HasProvider() bool {
	return c.Reasoning.Provider != ""
}

// Save writes the config back out. Field order follows the struct tags, so
// load/save round-trips keep a stable layout.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
