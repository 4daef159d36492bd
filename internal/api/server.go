// Package api exposes the daemon over HTTP: REST state endpoints, SSE and
// WebSocket event streams, MJPEG live streams, and the push ingress for
// relay cameras.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/alerts"
	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/events"
	"github.com/physical-mcp/physical-mcp/internal/metrics"
	"github.com/physical-mcp/physical-mcp/internal/perception"
	"github.com/physical-mcp/physical-mcp/internal/ratelimit"
	"github.com/physical-mcp/physical-mcp/internal/rules"
)

// Server is the Vision API HTTP surface.
type Server struct {
	cfg     *config.Config
	log     *logrus.Logger
	rt      *perception.Runtime
	engine  *rules.Engine
	store   *rules.Store
	queue   *alerts.Queue
	stats   *alerts.Stats
	replay  *alerts.ReplayLog
	bus     *events.Bus
	limiter *ratelimit.PushLimiter

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// Deps carries the shared components the server reads and mutates.
type Deps struct {
	Config     *config.Config
	Log        *logrus.Logger
	Runtime    *perception.Runtime
	Engine     *rules.Engine
	RulesStore *rules.Store
	Queue      *alerts.Queue
	Stats      *alerts.Stats
	Replay     *alerts.ReplayLog
	Bus        *events.Bus
}

func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:     deps.Config,
		log:     log,
		rt:      deps.Runtime,
		engine:  deps.Engine,
		store:   deps.RulesStore,
		queue:   deps.Queue,
		stats:   deps.Stats,
		replay:  deps.Replay,
		bus:     deps.Bus,
		limiter: ratelimit.NewPushLimiter(10, 20),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the chi mux with CORS, recovery, and optional token auth.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// CORS before auth so preflight OPTIONS always succeeds.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Camera-Token")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	// Push ingress authenticates per camera, not with the API token.
	r.Route("/push", func(pr chi.Router) {
		pr.Post("/register", s.handlePushRegister)
		pr.Post("/frame/{camera_id}", s.handlePushFrame)
	})

	r.Group(func(gr chi.Router) {
		gr.Use(s.authMiddleware)

		gr.Get("/", s.handleIndex)
		gr.Get("/frame", s.handleFrame)
		gr.Get("/frame/{camera_id}", s.handleFrame)
		gr.Get("/scene", s.handleSceneAll)
		gr.Get("/scene/{camera_id}", s.handleSceneOne)
		gr.Get("/changes", s.handleChanges)
		gr.Get("/health", s.handleHealthAll)
		gr.Get("/health/{camera_id}", s.handleHealthOne)

		gr.Get("/cameras", s.handleCamerasList)
		gr.Post("/cameras", s.handleCameraAdd)
		gr.Get("/cameras/pending", s.handleCamerasPending)
		gr.Post("/cameras/{camera_id}/accept", s.handleCameraAccept)
		gr.Post("/cameras/{camera_id}/reject", s.handleCameraReject)

		gr.Get("/rules", s.handleRulesList)
		gr.Post("/rules", s.handleRuleCreate)
		gr.Delete("/rules/{rule_id}", s.handleRuleDelete)
		gr.Put("/rules/{rule_id}/toggle", s.handleRuleToggle)

		gr.Get("/alerts", s.handleAlerts)
		gr.Get("/stats", s.handleStats)
		gr.Get("/events", s.handleSSE)
		gr.Get("/ws/events", s.handleWSEvents)
		gr.Get("/stream/{camera_id}", s.handleMJPEG)

		gr.Handle("/metrics", metrics.Handler())
	})

	return r
}

// authMiddleware enforces the optional API token as either a bearer
// header or an auth_token query parameter.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.VisionAPI.AuthToken
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got == r.Header.Get("Authorization") {
			got = r.URL.Query().Get("auth_token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid auth token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the listener until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg.VisionAPI.Port
	if port == 0 {
		port = 8090
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpSrv.Addr).Info("vision api listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the uniform {code, message} error body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
