// Command server runs the physical-mcp daemon: camera perception loops, the
// watch-rule engine, alert delivery, the local REST/streaming API, and the
// MCP tool server. Subcommands inspect a running or configured instance.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/api"
	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/discovery"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/logging"
	"github.com/physical-mcp/physical-mcp/internal/mcp"
	"github.com/physical-mcp/physical-mcp/internal/memory"
	"github.com/physical-mcp/physical-mcp/internal/notify"
	"github.com/physical-mcp/physical-mcp/internal/perception"
	"github.com/physical-mcp/physical-mcp/internal/rules"
	"github.com/physical-mcp/physical-mcp/internal/vision"
)

const version = "1.0.0"

// Exit codes. Scripts depend on these staying stable.
const (
	exitGeneric = 1
	exitConfig  = 2
	exitCamera  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("physical-mcp", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default <data_dir>/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	path := *configPath
	if path == "" {
		path = filepath.Join(config.DefaultDataDir(), "config.yaml")
	}

	switch cmd {
	case "", "run":
		return runDaemon(path)
	case "status":
		return cmdStatus(path)
	case "cameras":
		return cmdCameras(path)
	case "rules":
		return cmdRules(path)
	case "doctor":
		return cmdDoctor(path)
	case "version":
		fmt.Println("physical-mcp " + version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fmt.Fprintln(os.Stderr, "usage: physical-mcp [run|status|cameras|rules|doctor|version] [-config path]")
		return exitGeneric
	}
}

func runDaemon(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfig
	}

	log := logging.Setup(cfg.Server.LogLevel, cfg.DataDir)
	log.WithFields(logrus.Fields{
		"version":   version,
		"transport": cfg.Server.Transport,
		"cameras":   len(cfg.Cameras),
	}).Info("physical-mcp starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(log)
	engine := rules.NewEngine()
	store := rules.NewStore(cfg.RulesPath, log)
	engine.LoadRules(store.Load())
	queue := alerts.NewQueue(alerts.DefaultQueueCapacity)
	stats := alerts.NewStats(cfg.CostControls.DailyBudgetUSD, cfg.CostControls.MaxPerHour)
	replay := alerts.NewReplayLog()
	mem := memory.NewStore(cfg.MemoryPath, log)
	dispatcher := notify.NewDispatcher(cfg.Notifications, perception.SnapshotPath, log)

	var provider vision.Provider
	if cfg.HasProvider() {
		p, perr := vision.NewProvider(cfg.Reasoning)
		if perr != nil {
			log.WithError(perr).Error("provider setup failed, falling back to client reasoning")
			replay.Append(alerts.ReplayEvent{
				EventType: alerts.EventStartupWarning,
				Message:   fmt.Sprintf("provider %q unavailable, fallback to client reasoning", cfg.Reasoning.Provider),
			})
		} else {
			provider = p
			warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if werr := p.Warmup(warmCtx); werr != nil {
				log.WithError(werr).Warn("provider warmup failed, analysis may be delayed")
			}
			cancel()
		}
	}
	analyzer := vision.NewAnalyzer(provider, log)

	rt := perception.NewRuntime(perception.Deps{
		Config:     cfg,
		Log:        log,
		Bus:        bus,
		Engine:     engine,
		RulesStore: store,
		Queue:      queue,
		Stats:      stats,
		Replay:     replay,
		Memory:     mem,
		Dispatcher: dispatcher,
		Analyzer:   analyzer,
	})
	if err := rt.Start(ctx); err != nil {
		log.WithError(err).Error("no camera could be started")
		return exitCamera
	}
	defer rt.Shutdown()

	// Rule file edits take effect without a restart.
	stopWatch := store.Watch(func(list []rules.WatchRule) {
		engine.LoadRules(list)
		log.WithField("rules", len(list)).Info("rules reloaded from disk")
	})
	defer stopWatch()

	if cfg.VisionAPIEnabled() {
		apiSrv := api.NewServer(api.Deps{
			Config:     cfg,
			Log:        log,
			Runtime:    rt,
			Engine:     engine,
			RulesStore: store,
			Queue:      queue,
			Stats:      stats,
			Replay:     replay,
			Bus:        bus,
		})
		go func() {
			if err := apiSrv.Start(ctx); err != nil {
				log.WithError(err).Error("vision api stopped")
			}
		}()

		if cfg.MDNSEnabled() {
			adv, aerr := discovery.Advertise(cfg.VisionAPI.Port, log)
			if aerr != nil {
				log.WithError(aerr).Warn("mdns advertisement unavailable")
			} else {
				defer adv.Shutdown()
			}
		}
	}

	mcpSrv := mcp.New(mcp.Deps{
		Config:     cfg,
		Log:        log,
		Runtime:    rt,
		Engine:     engine,
		RulesStore: store,
		Queue:      queue,
		Stats:      stats,
		Replay:     replay,
		Memory:     mem,
		Analyzer:   analyzer,
		Bus:        bus,
	})

	bus.Publish(events.TopicMCPLog, events.LogEvent{
		Type:    events.LogStartup,
		Message: fmt.Sprintf("physical-mcp %s up, %d camera(s), %d rule(s)", version, len(rt.Cameras()), len(engine.ListRules())),
	})

	// The MCP transport is the foreground: on stdio the daemon lives as
	// long as the chat client, on http until a signal arrives.
	if err := mcpSrv.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("mcp server stopped")
		return exitGeneric
	}

	log.Info("physical-mcp shutting down")
	return 0
}

// apiGet queries the running daemon's local REST surface.
func apiGet(cfg *config.Config, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("http://127.0.0.1:%d%s", cfg.VisionAPI.Port, path), nil)
	if err != nil {
		return err
	}
	if cfg.VisionAPI.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.VisionAPI.AuthToken)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func cmdStatus(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfig
	}
	var stats map[string]any
	if err := apiGet(cfg, "/stats", &stats); err != nil {
		fmt.Fprintln(os.Stderr, "daemon not reachable:", err)
		return exitGeneric
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
	return 0
}

func cmdCameras(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfig
	}
	var body struct {
		Cameras []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"cameras"`
	}
	if err := apiGet(cfg, "/cameras", &body); err != nil {
		fmt.Fprintln(os.Stderr, "daemon not reachable:", err)
		return exitGeneric
	}
	if len(body.Cameras) == 0 {
		fmt.Println("no cameras running")
		return 0
	}
	for _, c := range body.Cameras {
		fmt.Printf("%-20s %-20s %-8s %s\n", c.ID, c.Name, c.Type, c.Status)
	}
	return 0
}

func cmdRules(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfig
	}
	list := rules.NewStore(cfg.RulesPath, nil).Load()
	if len(list) == 0 {
		fmt.Println("no watch rules configured")
		return 0
	}
	for _, r := range list {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-12s %-9s %-8s %-25s %s\n", r.ID, state, r.Priority, r.Name, r.Condition)
	}
	return 0
}

// cmdDoctor runs local sanity checks and reports each as pass or fail.
func cmdDoctor(configPath string) int {
	failures := 0
	check := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Printf("FAIL  %-24s %v\n", name, err)
			return
		}
		fmt.Printf("ok    %s\n", name)
	}

	cfg, err := config.Load(configPath)
	check("config parses", err)
	if err != nil {
		return exitConfig
	}

	check("data dir writable", func() error {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		probe := filepath.Join(cfg.DataDir, ".doctor")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return err
		}
		return os.Remove(probe)
	}())

	check("cameras configured", func() error {
		for _, c := range cfg.Cameras {
			if c.IsEnabled() {
				return nil
			}
		}
		return fmt.Errorf("no enabled camera in config (cloud cameras can still pair at runtime)")
	}())

	if cfg.HasProvider() {
		p, perr := vision.NewProvider(cfg.Reasoning)
		check("provider configured", perr)
		if perr == nil {
			probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			check("provider reachable", p.Warmup(probeCtx))
			cancel()
		}
	} else {
		fmt.Println("ok    reasoning mode client (no provider configured)")
	}

	var idx map[string]any
	if err := apiGet(cfg, "/", &idx); err != nil {
		fmt.Printf("info  daemon not running (%v)\n", err)
	} else {
		fmt.Println("ok    daemon reachable")
	}

	if failures > 0 {
		return exitGeneric
	}
	return 0
}
