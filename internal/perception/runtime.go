// Package perception runs the per-camera loop that ties capture, change
// detection, analysis, rules, and alert delivery together, and owns the
// camera registry including cloud-camera pairing.
package perception

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/camera"
	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/detect"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/ids"
	"github.com/physical-mcp/physical-mcp/internal/memory"
	"github.com/physical-mcp/physical-mcp/internal/metrics"
	"github.com/physical-mcp/physical-mcp/internal/notify"
	"github.com/physical-mcp/physical-mcp/internal/rules"
	"github.com/physical-mcp/physical-mcp/internal/scene"
	"github.com/physical-mcp/physical-mcp/internal/vision"
)

const claimExpiry = 15 * time.Minute

// SamplingEvaluator lets an attached MCP session with sampling capability
// evaluate rules with its own model instead of a server-side provider.
type SamplingEvaluator interface {
	CanSample() bool
	EvaluateRules(ctx context.Context, frameB64 string, active []rules.WatchRule, sceneContext string) ([]map[string]any, error)
}

// Deps are the shared components the runtime wires into every camera loop.
type Deps struct {
	Config     *config.Config
	Log        *logrus.Logger
	Bus        *events.Bus
	Engine     *rules.Engine
	RulesStore *rules.Store
	Queue      *alerts.Queue
	Stats      *alerts.Stats
	Replay     *alerts.ReplayLog
	Memory     *memory.Store
	Dispatcher *notify.Dispatcher
	Analyzer   *vision.Analyzer
}

// Camera bundles everything one camera owns exclusively.
type Camera struct {
	Cfg      config.Camera
	Source   camera.Source
	Buffer   *camera.FrameBuffer
	Detector *detect.Detector
	Sampler  *detect.Sampler
	Scene    *scene.State
	Health   *camera.HealthTracker

	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the camera's stable identifier.
func (c *Camera) ID() string { return c.Source.SourceID() }

// Name returns the display name, falling back to the id.
func (c *Camera) Name() string {
	if c.Cfg.Name != "" {
		return c.Cfg.Name
	}
	return c.ID()
}

// pendingCamera is a cloud camera between creation and relay pairing or
// operator approval.
type pendingCamera struct {
	ID        string
	Name      string
	ClaimCode string
	Token     string
	CreatedAt time.Time
	Paired    bool
}

// PendingInfo is the REST view of a pending cloud camera.
type PendingInfo struct {
	CameraID  string    `json:"camera_id"`
	Name      string    `json:"name"`
	ClaimCode string    `json:"claim_code"`
	Paired    bool      `json:"paired"`
	CreatedAt time.Time `json:"created_at"`
}

// Runtime owns the camera registry and the loops.
type Runtime struct {
	deps Deps
	log  *logrus.Logger

	mu       sync.Mutex
	cameras  map[string]*Camera
	pending  map[string]*pendingCamera // keyed by camera id
	sampling SamplingEvaluator

	providerMu     sync.Mutex
	fallbackWarned bool

	clock func() time.Time
}

func NewRuntime(deps Deps) *Runtime {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runtime{
		deps:    deps,
		log:     log,
		cameras: make(map[string]*Camera),
		pending: make(map[string]*pendingCamera),
		clock:   time.Now,
	}
}

// SetSamplingEvaluator attaches or detaches the MCP sampling bridge.
func (r *Runtime) SetSamplingEvaluator(s SamplingEvaluator) {
	r.mu.Lock()
	r.sampling = s
	r.mu.Unlock()
}

// Start opens every enabled configured camera and starts its loop. A
// camera that fails to open is logged and skipped; the rest still run.
func (r *Runtime) Start(ctx context.Context) error {
	var lastErr error
	for _, cc := range r.deps.Config.Cameras {
		if !cc.IsEnabled() {
			continue
		}
		if err := r.StartCamera(ctx, cc); err != nil {
			r.log.WithField("camera", cc.Name).WithError(err).Error("camera failed to start")
			lastErr = err
		}
	}
	if len(r.cameras) == 0 && lastErr != nil {
		return fmt.Errorf("no camera started: %w", lastErr)
	}
	return nil
}

// StartCamera opens the source and launches its perception loop.
func (r *Runtime) StartCamera(ctx context.Context, cc config.Camera) error {
	src, err := camera.New(cc, r.log)
	if err != nil {
		return err
	}
	if err := src.Open(ctx); err != nil {
		return err
	}
	return r.adopt(ctx, cc, src)
}

func (r *Runtime) adopt(ctx context.Context, cc config.Camera, src camera.Source) error {
	p := r.deps.Config.Perception
	cam := &Camera{
		Cfg:    cc,
		Source: src,
		Buffer: camera.NewFrameBuffer(p.MaxFrames),
		Detector: detect.NewDetector(detect.Thresholds{
			Minor:    p.MinorThreshold,
			Moderate: p.ModerateThreshold,
			Major:    p.MajorThreshold,
		}),
		Sampler: detect.NewSampler(detect.SamplerConfig{
			Cooldown:  time.Duration(p.CooldownSeconds * float64(time.Second)),
			Debounce:  time.Duration(p.DebounceSeconds * float64(time.Second)),
			Heartbeat: time.Duration(p.HeartbeatSeconds * float64(time.Second)),
		}),
		Scene:  scene.NewState(),
		Health: camera.NewHealthTracker(src.SourceID(), cc.Name),
		done:   make(chan struct{}),
	}

	// Pushed frames land in the buffer immediately instead of waiting for
	// the next capture tick.
	if cloud, ok := src.(*camera.CloudSource); ok {
		cloud.SetOnFrame(func(f *camera.Frame) {
			cam.Buffer.Push(f)
			cam.Health.FrameOK()
		})
	}

	r.mu.Lock()
	if _, exists := r.cameras[cam.ID()]; exists {
		r.mu.Unlock()
		_ = src.Close()
		return fmt.Errorf("camera %s already running", cam.ID())
	}
	r.cameras[cam.ID()] = cam
	r.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	cam.cancel = cancel
	go r.runLoop(loopCtx, cam)

	r.log.WithFields(logrus.Fields{
		"camera": cam.ID(),
		"type":   cc.Type,
	}).Info("perception loop started")
	return nil
}

// StopCamera cancels the loop and closes the source.
func (r *Runtime) StopCamera(id string) bool {
	r.mu.Lock()
	cam, ok := r.cameras[id]
	if ok {
		delete(r.cameras, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	cam.cancel()
	select {
	case <-cam.done:
	case <-time.After(5 * time.Second):
		r.log.WithField("camera", id).Warn("perception loop slow to stop")
	}
	if err := cam.Source.Close(); err != nil {
		r.log.WithField("camera", id).WithError(err).Warn("camera close failed")
	}
	metrics.SetCameraUp(id, false)
	return true
}

// Shutdown stops every camera. Each close is independent so one slow
// camera cannot hang the rest.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	idList := make([]string, 0, len(r.cameras))
	for id := range r.cameras {
		idList = append(idList, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range idList {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.StopCamera(id)
		}(id)
	}
	wg.Wait()
}

// Camera looks up one running camera.
func (r *Runtime) Camera(id string) (*Camera, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[id]
	return cam, ok
}

// Cameras returns all running cameras sorted by id.
func (r *Runtime) Cameras() []*Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Camera, 0, len(r.cameras))
	for _, cam := range r.cameras {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DefaultCamera returns the first camera by id order, for the endpoints
// and tools that leave camera_id unset.
func (r *Runtime) DefaultCamera() (*Camera, bool) {
	cams := r.Cameras()
	if len(cams) == 0 {
		return nil, false
	}
	return cams[0], true
}

// CreateClaim registers a pending cloud camera and returns its claim info.
func (r *Runtime) CreateClaim(name string) PendingInfo {
	pc := &pendingCamera{
		ID:        ids.New("cloud_", 4),
		Name:      name,
		ClaimCode: strings.ToUpper(ids.New("", 3)),
		Token:     camera.NewToken(),
		CreatedAt: r.clock(),
	}
	r.mu.Lock()
	r.pending[pc.ID] = pc
	r.mu.Unlock()
	return pendingInfo(pc)
}

// Register pairs a relay by claim code: the cloud camera starts and its
// push credentials are returned. Expired or unknown codes fail.
func (r *Runtime) Register(ctx context.Context, claimCode string) (cameraID, token string, err error) {
	r.mu.Lock()
	var pc *pendingCamera
	for _, cand := range r.pending {
		if strings.EqualFold(cand.ClaimCode, claimCode) && !cand.Paired {
			pc = cand
			break
		}
	}
	if pc == nil || r.clock().Sub(pc.CreatedAt) > claimExpiry {
		r.mu.Unlock()
		return "", "", fmt.Errorf("invalid_code")
	}
	pc.Paired = true
	r.mu.Unlock()

	cc := config.Camera{
		ID:        pc.ID,
		Name:      pc.Name,
		Type:      "cloud",
		AuthToken: pc.Token,
	}
	if err := r.StartCamera(ctx, cc); err != nil {
		return "", "", err
	}
	return pc.ID, pc.Token, nil
}

// PendingCameras lists unexpired pending entries.
func (r *Runtime) PendingCameras() []PendingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	out := []PendingInfo{}
	for id, pc := range r.pending {
		if now.Sub(pc.CreatedAt) > claimExpiry && !pc.Paired {
			delete(r.pending, id)
			continue
		}
		out = append(out, pendingInfo(pc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AcceptCamera approves a paired pending camera, keeping it running.
func (r *Runtime) AcceptCamera(id string) bool {
	r.mu.Lock()
	_, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	return ok
}

// RejectCamera removes a pending camera and stops it if it was paired.
func (r *Runtime) RejectCamera(id string) bool {
	r.mu.Lock()
	pc, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if pc.Paired {
		r.StopCamera(id)
	}
	return true
}

// ReportClientEvaluations feeds verdicts produced by a chat client through
// the rules engine and runs the delivery chain for whatever passes the
// confidence and cooldown gates. The camera may have stopped since the
// frame was queued; its id still names the alert.
func (r *Runtime) ReportClientEvaluations(ctx context.Context, cameraID string, raw []map[string]any, sceneContext, frameB64 string) []rules.AlertEvent {
	fired := r.deps.Engine.ProcessClientEvaluations(raw, sceneContext, frameB64)
	camName := cameraID
	if cam, ok := r.Camera(cameraID); ok {
		camName = cam.Name()
	}
	for _, ev := range fired {
		r.fireAlert(ctx, cameraID, camName, ev)
	}
	return fired
}

// ConfigureProvider hot-swaps the VLM backend. Switching from server to
// client reasoning emits exactly one fallback warning so chat clients
// know rule evaluation just became their job.
func (r *Runtime) ConfigureProvider(cfg config.Reasoning) (warned bool, reason string, err error) {
	r.providerMu.Lock()
	defer r.providerMu.Unlock()

	wasServer := r.deps.Analyzer.HasProvider()

	if cfg.Provider == "" {
		r.deps.Analyzer.SetProvider(nil)
	} else {
		p, perr := vision.NewProvider(cfg)
		if perr != nil {
			return false, "", perr
		}
		r.deps.Analyzer.SetProvider(p)
	}

	nowServer := r.deps.Analyzer.HasProvider()
	switch {
	case wasServer && !nowServer && !r.fallbackWarned:
		r.fallbackWarned = true
		r.emitLog(events.LogEvent{
			EventID: ids.Event(),
			Type:    events.LogFallback,
			Message: "server-side reasoning disabled, falling back to client evaluation (reason: runtime_switch)",
		})
		r.deps.Replay.Append(alerts.ReplayEvent{
			EventType: alerts.EventStartupWarning,
			Message:   "fallback to client reasoning (runtime_switch)",
			Timestamp: r.clock(),
		})
		return true, "runtime_switch", nil
	case nowServer:
		// Back in server mode: arm the warning for the next switch.
		r.fallbackWarned = false
	}
	return false, "", nil
}

func (r *Runtime) emitLog(ev events.LogEvent) {
	if ev.EventID == "" {
		ev.EventID = ids.Event()
	}
	r.deps.Bus.Publish(events.TopicMCPLog, ev)
}

func pendingInfo(pc *pendingCamera) PendingInfo {
	return PendingInfo{
		CameraID:  pc.ID,
		Name:      pc.Name,
		ClaimCode: pc.ClaimCode,
		Paired:    pc.Paired,
		CreatedAt: pc.CreatedAt,
	}
}
