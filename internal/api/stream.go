package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/physical-mcp/physical-mcp/internal/events"
)

const (
	sseHeartbeat  = 15 * time.Second
	mjpegBoundary = "frame"
)

// sseName maps bus topics to SSE event names.
func sseName(topic string) string {
	switch topic {
	case events.TopicSceneChange:
		return "change"
	case events.TopicAlert:
		return "alert"
	case events.TopicScene:
		return "scene"
	default:
		return topic
	}
}

// handleSSE bridges the event bus onto a Server-Sent Events stream with a
// heartbeat comment every 15 seconds.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Bus handlers run on their own goroutines; the channel hands events
	// to this request goroutine. Slow clients drop events rather than
	// blocking the bus.
	ch := make(chan [2]string, 32)
	forward := func(topic string) events.Handler {
		return func(ev any) {
			payload, err := json.Marshal(ev)
			if err != nil {
				return
			}
			select {
			case ch <- [2]string{sseName(topic), string(payload)}:
			default:
			}
		}
	}
	subs := []string{
		s.bus.Subscribe(events.TopicSceneChange, forward(events.TopicSceneChange)),
		s.bus.Subscribe(events.TopicScene, forward(events.TopicScene)),
		s.bus.Subscribe(events.TopicAlert, forward(events.TopicAlert)),
	}
	defer func() {
		for _, id := range subs {
			s.bus.Unsubscribe(id)
		}
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case pair := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", pair[0], pair[1])
			flusher.Flush()
		}
	}
}

// handleWSEvents bridges the same topics over a WebSocket for dashboard
// clients that prefer it to SSE.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	type wsEvent struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}

	ch := make(chan wsEvent, 32)
	forward := func(topic string) events.Handler {
		return func(ev any) {
			payload, err := json.Marshal(ev)
			if err != nil {
				return
			}
			select {
			case ch <- wsEvent{Event: sseName(topic), Data: payload}:
			default:
			}
		}
	}
	subs := []string{
		s.bus.Subscribe(events.TopicSceneChange, forward(events.TopicSceneChange)),
		s.bus.Subscribe(events.TopicScene, forward(events.TopicScene)),
		s.bus.Subscribe(events.TopicAlert, forward(events.TopicAlert)),
		s.bus.Subscribe(events.TopicMCPLog, forward(events.TopicMCPLog)),
	}
	defer func() {
		for _, id := range subs {
			s.bus.Unsubscribe(id)
		}
	}()

	// Reader goroutine notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(sseHeartbeat)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// handleMJPEG streams the camera as multipart JPEG parts. Each client
// gets its own loop off the shared frame buffer, so concurrent viewers
// do not contend beyond the buffer mutex.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.rt.Camera(chi.URLParam(r, "camera_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "camera_not_found", "unknown camera")
		return
	}
	flusher, okF := w.(http.Flusher)
	if !okF {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var lastSeq uint64
	for {
		if r.Context().Err() != nil {
			return
		}
		frame := cam.Buffer.WaitForFrame(time.Second)
		if frame == nil || frame.Sequence == lastSeq {
			continue
		}
		lastSeq = frame.Sequence

		jpeg, err := frame.EncodeJPEG(80)
		if err != nil {
			continue
		}
		_, err = fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %s\r\n\r\n",
			mjpegBoundary, strconv.Itoa(len(jpeg)))
		if err != nil {
			return
		}
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
