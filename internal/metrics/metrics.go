// Package metrics exports daemon counters to Prometheus. All metrics use
// the camera_id label only; rule identifiers would be unbounded.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesCapturedTotal counts frames that reached a frame buffer.
	FramesCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcp_frames_captured_total",
			Help: "Total frames captured per camera",
		},
		[]string{"camera_id"},
	)

	// AnalysesTotal counts VLM calls by outcome.
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcp_analyses_total",
			Help: "Total scene analyses by outcome",
		},
		[]string{"camera_id", "outcome"},
	)

	// AnalysisLatency tracks end-to-end VLM call latency.
	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pmcp_analysis_latency_ms",
			Help:    "Scene analysis latency in milliseconds",
			Buckets: []float64{250, 500, 1000, 2000, 5000, 10000, 15000},
		},
		[]string{"camera_id"},
	)

	// AlertsTotal counts alerts that passed every gate.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcp_alerts_total",
			Help: "Total alerts fired per camera",
		},
		[]string{"camera_id"},
	)

	// NotificationFailuresTotal counts failed deliveries by channel type.
	NotificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcp_notification_failures_total",
			Help: "Total notification delivery failures by channel type",
		},
		[]string{"type"},
	)

	// CameraUp reports per-camera liveness (1 running, 0 anything else).
	CameraUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcp_camera_up",
			Help: "Camera health (1=running, 0=not running)",
		},
		[]string{"camera_id"},
	)

	// PendingAlerts gauges the client-mode alert queue depth.
	PendingAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pmcp_pending_alerts",
			Help: "Pending alerts waiting for check_camera_alerts",
		},
	)
)

func RecordFrame(cameraID string) {
	FramesCapturedTotal.WithLabelValues(cameraID).Inc()
}

func RecordAnalysis(cameraID, outcome string, latencyMs float64) {
	AnalysesTotal.WithLabelValues(cameraID, outcome).Inc()
	if outcome == "ok" {
		AnalysisLatency.WithLabelValues(cameraID).Observe(latencyMs)
	}
}

func RecordAlert(cameraID string) {
	AlertsTotal.WithLabelValues(cameraID).Inc()
}

func RecordNotificationFailure(channelType string) {
	NotificationFailuresTotal.WithLabelValues(channelType).Inc()
}

func SetCameraUp(cameraID string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	CameraUp.WithLabelValues(cameraID).Set(v)
}

func SetPendingAlerts(n int) {
	PendingAlerts.Set(float64(n))
}

// Handler serves the default registry for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
