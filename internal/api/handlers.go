package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/physical-mcp/physical-mcp/internal/perception"
	"github.com/physical-mcp/physical-mcp/internal/scene"
)

// handleIndex gives clients a map of the surface.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	for _, cam := range s.rt.Cameras() {
		ids = append(ids, cam.ID())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "physical-mcp",
		"cameras": ids,
		"endpoints": []string{
			"/frame", "/scene", "/changes", "/health", "/cameras",
			"/rules", "/alerts", "/stats", "/events", "/stream/{camera_id}",
			"/push/register", "/push/frame/{camera_id}", "/metrics",
		},
	})
}

// resolveCamera picks the camera from the path, or the default one when
// the path carries no id.
func (s *Server) resolveCamera(r *http.Request) (*perception.Camera, bool) {
	if id := chi.URLParam(r, "camera_id"); id != "" {
		return s.rt.Camera(id)
	}
	return s.rt.DefaultCamera()
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.resolveCamera(r)
	if !ok {
		writeError(w, http.StatusNotFound, "camera_not_found", "unknown camera")
		return
	}
	quality := 80
	if q := r.URL.Query().Get("quality"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 1 && v <= 100 {
			quality = v
		}
	}
	frame := cam.Buffer.Latest()
	if frame == nil {
		writeError(w, http.StatusServiceUnavailable, "no_frame", "no frame captured yet")
		return
	}
	jpeg, err := frame.EncodeJPEG(quality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(jpeg)))
	_, _ = w.Write(jpeg)
}

func sceneView(cam *perception.Camera) map[string]any {
	snap := cam.Scene.Snapshot()
	return map[string]any{
		"name":                    cam.Name(),
		"summary":                 snap.Summary,
		"objects_present":         snap.ObjectsPresent,
		"people_count":            snap.PeopleCount,
		"last_updated":            snap.LastUpdated,
		"last_change_description": snap.LastChangeDescription,
		"update_count":            snap.UpdateCount,
	}
}

func (s *Server) handleSceneAll(w http.ResponseWriter, r *http.Request) {
	cams := map[string]any{}
	for _, cam := range s.rt.Cameras() {
		cams[cam.ID()] = sceneView(cam)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras":   cams,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleSceneOne(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.resolveCamera(r)
	if !ok {
		writeError(w, http.StatusNotFound, "camera_not_found", "unknown camera")
		return
	}
	writeJSON(w, http.StatusOK, sceneView(cam))
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	minutes := 10
	if m := r.URL.Query().Get("minutes"); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v > 0 {
			minutes = v
		}
	}

	changes := map[string][]scene.ChangeEntry{}
	if id := r.URL.Query().Get("camera_id"); id != "" {
		cam, ok := s.rt.Camera(id)
		if !ok {
			writeError(w, http.StatusNotFound, "camera_not_found", "unknown camera")
			return
		}
		changes[cam.ID()] = cam.Scene.ChangeLog(minutes)
	} else {
		for _, cam := range s.rt.Cameras() {
			changes[cam.ID()] = cam.Scene.ChangeLog(minutes)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"minutes": minutes,
		"changes": changes,
	})
}

func (s *Server) handleHealthAll(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	for _, cam := range s.rt.Cameras() {
		out[cam.ID()] = cam.Health.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthOne(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.resolveCamera(r)
	if !ok {
		writeError(w, http.StatusNotFound, "camera_not_found", "unknown camera")
		return
	}
	writeJSON(w, http.StatusOK, cam.Health.Snapshot())
}

func (s *Server) handleCamerasList(w http.ResponseWriter, r *http.Request) {
	list := []map[string]any{}
	for _, cam := range s.rt.Cameras() {
		h := cam.Health.Snapshot()
		list = append(list, map[string]any{
			"id":     cam.ID(),
			"name":   cam.Name(),
			"type":   cam.Cfg.Type,
			"status": h.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": list})
}

// handleCameraAdd creates a pending cloud camera and returns its claim
// code for the relay to pair with.
func (s *Server) handleCameraAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	if req.Type != "" && req.Type != "cloud" {
		writeError(w, http.StatusBadRequest, "invalid_type", "only cloud cameras can be added at runtime")
		return
	}
	if req.Name == "" {
		req.Name = "Cloud Camera"
	}
	info := s.rt.CreateClaim(req.Name)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleCamerasPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.rt.PendingCameras()})
}

func (s *Server) handleCameraAccept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	if !s.rt.AcceptCamera(id) {
		writeError(w, http.StatusNotFound, "camera_not_found", "no pending camera with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "camera_id": id})
}

func (s *Server) handleCameraReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	if !s.rt.RejectCamera(id) {
		writeError(w, http.StatusNotFound, "camera_not_found", "no pending camera with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "camera_id": id})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.replay.Recent(limit)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}
