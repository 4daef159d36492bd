package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/physical-mcp/physical-mcp/internal/camera"
)

// maxPushBody bounds a pushed JPEG. Relay boards send well under this.
const maxPushBody = 8 << 20

// handlePushRegister pairs a relay with a pending claim code.
func (s *Server) handlePushRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClaimCode string `json:"claim_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClaimCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "claim_code is required")
		return
	}

	id, token, err := s.rt.Register(r.Context(), req.ClaimCode)
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid_code", "no pending claim matches that code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"camera_id":    id,
		"camera_token": token,
		"push_url":     fmt.Sprintf("/push/frame/%s", id),
	})
}

// handlePushFrame is the raw JPEG ingress for cloud cameras.
func (s *Server) handlePushFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	cam, ok := s.rt.Camera(id)
	if !ok {
		writeError(w, http.StatusNotFound, "camera_not_found", "unknown camera")
		return
	}
	cloud, ok := cam.Source.(*camera.CloudSource)
	if !ok {
		writeError(w, http.StatusBadRequest, "not_cloud_camera", "camera does not accept pushed frames")
		return
	}
	if !cloud.VerifyToken(r.Header.Get("X-Camera-Token")) {
		writeError(w, http.StatusForbidden, "forbidden", "bad camera token")
		return
	}
	if !s.limiter.Allow(id) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "push rate exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty_body", "no frame data")
		return
	}

	frame, err := cloud.PushFrame(body)
	if err != nil {
		if errors.Is(err, camera.ErrInvalidFrame) {
			writeError(w, http.StatusBadRequest, "invalid_frame", "body is not a decodable JPEG")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_frame", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sequence": frame.Sequence,
	})
}
