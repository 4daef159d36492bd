package perception

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/camera"
	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/detect"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/memory"
	"github.com/physical-mcp/physical-mcp/internal/notify"
	"github.com/physical-mcp/physical-mcp/internal/rules"
	"github.com/physical-mcp/physical-mcp/internal/scene"
	"github.com/physical-mcp/physical-mcp/internal/vision"
)

type fakeSource struct {
	id    string
	frame *camera.Frame
	err   error
	open  bool
}

func (f *fakeSource) Open(ctx context.Context) error { f.open = true; return nil }
func (f *fakeSource) Close() error                   { f.open = false; return nil }
func (f *fakeSource) IsOpen() bool                   { return f.open }
func (f *fakeSource) SourceID() string               { return f.id }

func (f *fakeSource) GrabFrame() (*camera.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

type fakeVLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeVLM) AnalyzeImage(ctx context.Context, b64, prompt string) (string, error) {
	return f.AnalyzeImages(ctx, []string{b64}, prompt)
}

func (f *fakeVLM) AnalyzeImages(ctx context.Context, b64s []string, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeVLM) Warmup(ctx context.Context) error { return nil }
func (f *fakeVLM) ProviderName() string             { return "fake" }
func (f *fakeVLM) ModelName() string                { return "fake-model" }

func testFrame(sourceID string, seq uint64, c color.RGBA) *camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	return &camera.Frame{
		Image:     img,
		Timestamp: time.Now(),
		SourceID:  sourceID,
		Sequence:  seq,
		Width:     64,
		Height:    64,
	}
}

func newTestRuntime(t *testing.T, provider vision.Provider) (*Runtime, *Camera, *fakeSource) {
	t.Helper()
	SnapshotPath = filepath.Join(t.TempDir(), "snap.jpg")

	cfg := config.Defaults()
	deps := Deps{
		Config:     cfg,
		Bus:        events.NewBus(nil),
		Engine:     rules.NewEngine(),
		Queue:      alerts.NewQueue(0),
		Stats:      alerts.NewStats(0, 0),
		Replay:     alerts.NewReplayLog(),
		Memory:     memory.NewStore(filepath.Join(t.TempDir(), "memory.md"), nil),
		Dispatcher: notify.NewDispatcher(config.Notifications{}, "", nil),
		Analyzer:   vision.NewAnalyzer(provider, nil),
	}
	r := NewRuntime(deps)

	src := &fakeSource{id: "cam_test", frame: testFrame("cam_test", 1, color.RGBA{R: 200, A: 255}), open: true}
	cam := &Camera{
		Cfg:      config.Camera{ID: "cam_test", Name: "Test Cam", Type: "cloud"},
		Source:   src,
		Buffer:   camera.NewFrameBuffer(10),
		Detector: detect.NewDetector(detect.DefaultThresholds),
		Sampler: detect.NewSampler(detect.SamplerConfig{
			Cooldown:  time.Millisecond,
			Debounce:  time.Millisecond,
			Heartbeat: time.Hour,
		}),
		Scene:  scene.NewState(),
		Health: camera.NewHealthTracker("cam_test", "Test Cam"),
		done:   make(chan struct{}),
	}
	r.cameras[cam.ID()] = cam
	return r, cam, src
}

func watchRule(t *testing.T, r *Runtime) rules.WatchRule {
	t.Helper()
	ru, err := r.deps.Engine.AddRule(rules.WatchRule{
		Name:      "anything moved",
		Condition: "anything in the scene changed",
		Enabled:   true,
	})
	require.NoError(t, err)
	return ru
}

func TestTick_ServerModeFiresAlert(t *testing.T) {
	vlm := &fakeVLM{}
	r, cam, _ := newTestRuntime(t, vlm)
	ru := watchRule(t, r)
	vlm.reply = `{
		"scene": {"summary": "a red wall", "objects": ["wall"], "people_count": 0},
		"evaluations": [{"rule_id": "` + ru.ID + `", "triggered": true, "confidence": 0.9, "reasoning": "scene changed"}]
	}`

	r.tick(context.Background(), cam)

	assert.Equal(t, 1, vlm.calls, "first frame is major, analyzed immediately")
	assert.Equal(t, "a red wall", cam.Scene.Snapshot().Summary)
	assert.Equal(t, 1, cam.Buffer.Size())

	recent := r.deps.Replay.Recent(0)
	require.NotEmpty(t, recent)
	last := recent[len(recent)-1]
	assert.Equal(t, alerts.EventAlert, last.EventType)
	assert.Equal(t, ru.ID, last.RuleID)
	assert.Equal(t, 1, r.deps.Stats.Snapshot().TotalAlerts)
}

func TestTick_NoActiveRulesSkipsAnalysis(t *testing.T) {
	vlm := &fakeVLM{reply: `{"summary": "x"}`}
	r, cam, _ := newTestRuntime(t, vlm)

	r.tick(context.Background(), cam)
	assert.Equal(t, 0, vlm.calls, "no rules means zero VLM cost")
	assert.Equal(t, 1, cam.Buffer.Size(), "the frame is still buffered")
}

func TestTick_ProviderErrorEntersBackoff(t *testing.T) {
	vlm := &fakeVLM{err: assert.AnError}
	r, cam, _ := newTestRuntime(t, vlm)
	watchRule(t, r)

	r.tick(context.Background(), cam)
	assert.Equal(t, 1, vlm.calls)

	h := cam.Health.Snapshot()
	assert.Equal(t, camera.StatusBackoff, h.Status)
	require.NotNil(t, h.BackoffUntil)
	assert.InDelta(t, 5, time.Until(*h.BackoffUntil).Seconds(), 1, "first failure backs off 5s")

	// While in backoff the next analyzable frame is skipped.
	cam.Detector.Reset()
	r.tick(context.Background(), cam)
	assert.Equal(t, 1, vlm.calls)

	recent := r.deps.Replay.Recent(0)
	require.NotEmpty(t, recent)
	assert.Equal(t, alerts.EventProviderError, recent[len(recent)-1].EventType)
}

func TestTick_ProviderBackoffEscalates(t *testing.T) {
	vlm := &fakeVLM{err: assert.AnError}
	r, cam, _ := newTestRuntime(t, vlm)
	watchRule(t, r)

	base := time.Now()
	r.clock = func() time.Time { return base }
	cam.Sampler.SetClock(func() time.Time { return base })

	r.tick(context.Background(), cam)
	require.Equal(t, 1, vlm.calls)
	h := cam.Health.Snapshot()
	require.NotNil(t, h.BackoffUntil)
	assert.Equal(t, 5*time.Second, h.BackoffUntil.Sub(base))
	assert.Equal(t, 1, h.ProviderErrors)

	// A healthy frame inside the window keeps the backoff status and the
	// error count; only a provider success may clear them.
	base = base.Add(time.Second)
	cam.Detector.Reset()
	r.tick(context.Background(), cam)
	assert.Equal(t, 1, vlm.calls, "no retry inside the window")
	h = cam.Health.Snapshot()
	assert.Equal(t, camera.StatusBackoff, h.Status)
	assert.Equal(t, 1, h.ProviderErrors)

	// Each failed retry after the window doubles the delay up to the cap.
	for _, want := range []time.Duration{
		10 * time.Second, 20 * time.Second, 40 * time.Second,
		45 * time.Second, 45 * time.Second,
	} {
		base = h.BackoffUntil.Add(time.Second)
		cam.Detector.Reset()
		r.tick(context.Background(), cam)
		h = cam.Health.Snapshot()
		require.NotNil(t, h.BackoffUntil)
		assert.Equal(t, want, h.BackoffUntil.Sub(base))
	}
	assert.Equal(t, 6, vlm.calls)
	assert.Equal(t, 6, h.ProviderErrors)

	// One success resets the ladder entirely.
	vlm.err = nil
	vlm.reply = `{"scene": {"summary": "quiet", "objects": [], "people_count": 0}, "evaluations": []}`
	base = h.BackoffUntil.Add(time.Second)
	cam.Detector.Reset()
	r.tick(context.Background(), cam)
	h = cam.Health.Snapshot()
	assert.Equal(t, camera.StatusRunning, h.Status)
	assert.Zero(t, h.ProviderErrors)
	assert.Nil(t, h.BackoffUntil)
}

func TestTick_ClientModeQueuesPendingAlert(t *testing.T) {
	r, cam, _ := newTestRuntime(t, nil)
	ru := watchRule(t, r)

	r.tick(context.Background(), cam)

	pending := r.deps.Queue.PopAll()
	require.Len(t, pending, 1)
	assert.Equal(t, "cam_test", pending[0].CameraID)
	assert.Equal(t, "major", pending[0].ChangeLevel)
	require.Len(t, pending[0].ActiveRules, 1)
	assert.Equal(t, ru.ID, pending[0].ActiveRules[0].ID)
	assert.NotEmpty(t, pending[0].FrameBase64)
}

func TestTick_GrabFailureDegradesHealth(t *testing.T) {
	r, cam, src := newTestRuntime(t, nil)
	src.err = camera.ErrTimeout

	r.tick(context.Background(), cam)
	h := cam.Health.Snapshot()
	assert.Equal(t, 1, h.ConsecutiveErrors)
	assert.Equal(t, 0, cam.Buffer.Size())
}

func TestConfigureProvider_FallbackWarningOnce(t *testing.T) {
	vlm := &fakeVLM{}
	r, _, _ := newTestRuntime(t, vlm)

	var warnings int
	r.deps.Bus.Subscribe(events.TopicMCPLog, func(ev any) {
		if le, ok := ev.(events.LogEvent); ok && le.Type == events.LogFallback {
			warnings++
		}
	})

	// Server -> client: exactly one warning with the switch reason.
	warned, reason, err := r.ConfigureProvider(config.Reasoning{})
	require.NoError(t, err)
	assert.True(t, warned)
	assert.Equal(t, "runtime_switch", reason)

	// A second no-op switch stays silent.
	warned, _, err = r.ConfigureProvider(config.Reasoning{})
	require.NoError(t, err)
	assert.False(t, warned)

	// Back to server re-arms the warning for the next fallback.
	_, _, err = r.ConfigureProvider(config.Reasoning{Provider: "ollama"})
	require.NoError(t, err)
	warned, reason, err = r.ConfigureProvider(config.Reasoning{})
	require.NoError(t, err)
	assert.True(t, warned)
	assert.Equal(t, "runtime_switch", reason)

	time.Sleep(50 * time.Millisecond) // bus handlers run async
	assert.Equal(t, 2, warnings)
}

func TestClaimFlow(t *testing.T) {
	r, _, _ := newTestRuntime(t, nil)

	info := r.CreateClaim("Porch Relay")
	assert.NotEmpty(t, info.ClaimCode)
	assert.False(t, info.Paired)
	require.Len(t, r.PendingCameras(), 1)

	_, _, err := r.Register(context.Background(), "WRONG")
	assert.Error(t, err)

	id, token, err := r.Register(context.Background(), info.ClaimCode)
	require.NoError(t, err)
	assert.Equal(t, info.CameraID, id)
	assert.NotEmpty(t, token)

	cam, ok := r.Camera(id)
	require.True(t, ok, "paired cloud camera is running")
	assert.Equal(t, "Porch Relay", cam.Name())

	// A paired claim stays listed for the approval workflow.
	pend := r.PendingCameras()
	require.Len(t, pend, 1)
	assert.True(t, pend[0].Paired)

	assert.True(t, r.AcceptCamera(id))
	r.StopCamera(id)
}

func TestClaimExpiry(t *testing.T) {
	r, _, _ := newTestRuntime(t, nil)
	now := time.Now()
	r.clock = func() time.Time { return now }

	info := r.CreateClaim("Old Relay")
	now = now.Add(16 * time.Minute)

	_, _, err := r.Register(context.Background(), info.ClaimCode)
	assert.Error(t, err, "claims expire after 15 minutes")
	assert.Empty(t, r.PendingCameras())
}
