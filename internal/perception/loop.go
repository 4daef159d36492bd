package perception

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/camera"
	"github.com/physical-mcp/physical-mcp/internal/detect"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/metrics"
	"github.com/physical-mcp/physical-mcp/internal/rules"
	"github.com/physical-mcp/physical-mcp/internal/vision"
)

const (
	providerBackoffBase = 5 * time.Second
	providerBackoffMax  = 45 * time.Second
	snapshotQuality     = 80
)

// SnapshotPath is where the latest frame lands for external notifiers.
var SnapshotPath = filepath.Join(os.TempDir(), "physical-mcp-frame.jpg")

// runLoop drives one camera at capture_fps until its context is
// cancelled. It never exits on error; every tick failure is absorbed.
func (r *Runtime) runLoop(ctx context.Context, cam *Camera) {
	defer close(cam.done)

	fps := r.deps.Config.Perception.CaptureFPS
	if fps <= 0 {
		fps = 2
	}
	interval := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, cam)
		}
	}
}

// tick is one perception heartbeat. A panic anywhere inside is recovered
// so a single bad frame cannot kill the camera.
func (r *Runtime) tick(ctx context.Context, cam *Camera) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{
				"camera": cam.ID(),
				"panic":  rec,
			}).Error("perception tick panicked")
		}
	}()

	frame, err := cam.Source.GrabFrame()
	if err != nil {
		cam.Health.CaptureError(err)
		if !errors.Is(err, camera.ErrTimeout) {
			r.log.WithField("camera", cam.ID()).WithError(err).Debug("frame grab failed")
		}
		metrics.SetCameraUp(cam.ID(), false)
		return
	}

	cam.Buffer.Push(frame)
	cam.Health.FrameOK()
	metrics.RecordFrame(cam.ID())
	metrics.SetCameraUp(cam.ID(), true)
	r.writeSnapshot(frame)

	result := cam.Detector.Detect(frame.Image)
	if result.Level != detect.LevelNone {
		cam.Scene.RecordChange(result.Description)
	}

	active := r.deps.Engine.ActiveRules(cam.ID())
	if !cam.Sampler.Observe(result, len(active) > 0) {
		return
	}

	if r.deps.Analyzer.HasProvider() {
		r.serverAnalyze(ctx, cam, frame, result, active)
	} else if len(active) > 0 {
		r.clientAnalyze(ctx, cam, frame, result, active)
	}
}

// writeSnapshot keeps the well-known temp file fresh for notifiers that
// attach media from disk.
func (r *Runtime) writeSnapshot(frame *camera.Frame) {
	jpeg, err := frame.EncodeJPEG(snapshotQuality)
	if err != nil {
		return
	}
	tmp := SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, jpeg, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, SnapshotPath)
}

// serverAnalyze runs the combined VLM call and turns its verdicts into
// alerts. Provider failures put the camera into exponential backoff.
func (r *Runtime) serverAnalyze(ctx context.Context, cam *Camera, frame *camera.Frame, result detect.Result, active []rules.WatchRule) {
	if r.deps.Stats.BudgetExceeded() {
		return
	}
	now := r.clock()
	if inBackoff, _ := cam.Health.InBackoff(now); inBackoff {
		return
	}

	frameB64, err := frame.Base64JPEG(snapshotQuality)
	if err != nil {
		r.log.WithField("camera", cam.ID()).WithError(err).Warn("frame encode failed")
		return
	}

	started := r.clock()
	analysis, err := r.deps.Analyzer.AnalyzeAndEvaluate(ctx, []string{frameB64}, active, result.Description)
	if err != nil {
		r.handleProviderError(cam, err)
		return
	}
	cam.Health.ProviderOK()
	r.deps.Stats.RecordAnalysis()
	metrics.RecordAnalysis(cam.ID(), "ok", float64(r.clock().Sub(started).Milliseconds()))

	if analysis.Scene.Summary != "" {
		cam.Scene.Update(analysis.Scene.Summary, analysis.Scene.Objects, analysis.Scene.PeopleCount, result.Description)
		r.deps.Bus.Publish(events.TopicSceneChange, map[string]any{
			"camera_id": cam.ID(),
			"summary":   analysis.Scene.Summary,
			"level":     string(result.Level),
		})
		r.deps.Bus.Publish(events.TopicScene, map[string]any{
			"camera_id":    cam.ID(),
			"summary":      analysis.Scene.Summary,
			"objects":      analysis.Scene.Objects,
			"people_count": analysis.Scene.PeopleCount,
		})
	}

	fired := r.deps.Engine.ProcessEvaluations(analysis.Evaluations, analysis.Scene.Summary, frameB64)
	for _, ev := range fired {
		r.fireAlert(ctx, cam.ID(), cam.Name(), ev)
	}
}

// handleProviderError applies min(5 * 2^(n-1), 45s) backoff and records
// the failure everywhere operators look for it.
func (r *Runtime) handleProviderError(cam *Camera, err error) {
	_, prevErrors := cam.Health.InBackoff(r.clock())
	if prevErrors > 4 {
		prevErrors = 4
	}
	backoff := providerBackoffBase << prevErrors
	if backoff > providerBackoffMax {
		backoff = providerBackoffMax
	}
	until := r.clock().Add(backoff)
	cam.Health.ProviderError(err, until)
	metrics.RecordAnalysis(cam.ID(), "error", 0)

	stored := r.deps.Replay.Append(alerts.ReplayEvent{
		EventType:  alerts.EventProviderError,
		CameraID:   cam.ID(),
		CameraName: cam.Name(),
		Message:    fmt.Sprintf("provider error, retrying after %s: %v", backoff, err),
	})
	r.emitLog(events.LogEvent{
		EventID:  stored.EventID,
		Type:     events.LogProviderError,
		CameraID: cam.ID(),
		Message:  stored.Message,
	})

	if errors.Is(err, vision.ErrAuth) {
		r.log.WithField("camera", cam.ID()).Error("provider authentication failed, check the API key")
	} else {
		r.log.WithField("camera", cam.ID()).WithError(err).Warn("analysis failed")
	}
}

// fireAlert runs the full delivery chain for one triggered rule. The
// replay entry's event_id is shared with the MCP log line so both views
// correlate.
func (r *Runtime) fireAlert(ctx context.Context, camID, camName string, ev rules.AlertEvent) {
	r.deps.Stats.RecordAlert()
	metrics.RecordAlert(camID)

	r.deps.Memory.AppendEvent(fmt.Sprintf("ALERT %s (%s): %s",
		ev.Rule.Name, camName, ev.Evaluation.Reasoning))

	r.deps.Bus.Publish(events.TopicAlert, ev)

	if !r.deps.Dispatcher.Dispatch(ctx, ev) {
		metrics.RecordNotificationFailure(ev.Rule.Notification.Type)
	}

	stored := r.deps.Replay.Append(alerts.ReplayEvent{
		EventType:  alerts.EventAlert,
		CameraID:   camID,
		CameraName: camName,
		RuleID:     ev.Rule.ID,
		RuleName:   ev.Rule.Name,
		Message:    ev.Evaluation.Reasoning,
	})
	r.emitLog(events.LogEvent{
		EventID:  stored.EventID,
		Type:     events.LogAlert,
		CameraID: camID,
		RuleID:   ev.Rule.ID,
		Message:  fmt.Sprintf("%s: %s", ev.Rule.Name, ev.Evaluation.Reasoning),
	})
}

// clientAnalyze handles the no-provider path: either the attached chat
// session evaluates via sampling, or the frame is queued for
// check_camera_alerts.
func (r *Runtime) clientAnalyze(ctx context.Context, cam *Camera, frame *camera.Frame, result detect.Result, active []rules.WatchRule) {
	frameB64, err := frame.Base64JPEG(snapshotQuality)
	if err != nil {
		return
	}
	sceneCtx := cam.Scene.Summary()

	r.mu.Lock()
	sampler := r.sampling
	r.mu.Unlock()

	if sampler != nil && sampler.CanSample() {
		raw, err := sampler.EvaluateRules(ctx, frameB64, active, sceneCtx)
		if err == nil {
			fired := r.deps.Engine.ProcessClientEvaluations(raw, sceneCtx, frameB64)
			for _, ev := range fired {
				r.fireAlert(ctx, cam.ID(), cam.Name(), ev)
			}
			return
		}
		r.log.WithField("camera", cam.ID()).WithError(err).Debug("sampling evaluation failed, queueing instead")
	}

	refs := make([]alerts.RuleRef, 0, len(active))
	for _, ru := range active {
		refs = append(refs, alerts.RuleRef{
			ID:            ru.ID,
			Name:          ru.Name,
			Condition:     ru.Condition,
			Priority:      ru.Priority,
			CustomMessage: ru.CustomMessage,
		})
	}
	pa := alerts.NewPendingAlert(cam.ID(), cam.Name(), string(result.Level), result.Description, frameB64, sceneCtx, refs)
	r.deps.Queue.Push(pa)
	metrics.SetPendingAlerts(r.deps.Queue.Size())

	stored := r.deps.Replay.Append(alerts.ReplayEvent{
		EventType:  alerts.EventSceneChange,
		CameraID:   cam.ID(),
		CameraName: cam.Name(),
		Message:    result.Description,
	})
	r.emitLog(events.LogEvent{
		EventID:  stored.EventID,
		Type:     events.LogCameraAlert,
		CameraID: cam.ID(),
		Message:  fmt.Sprintf("CAMERA ALERT on %s (%s), call check_camera_alerts()", cam.Name(), result.Level),
	})
	r.deps.Bus.Publish(events.TopicSceneChange, map[string]any{
		"camera_id": cam.ID(),
		"summary":   sceneCtx,
		"level":     string(result.Level),
	})
	r.deps.Dispatcher.Notice(ctx, "Scene change on "+cam.Name(), result.Description)
}
