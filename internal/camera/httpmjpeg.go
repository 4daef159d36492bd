package camera

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/logging"
)

// httpSource pulls an HTTP-MJPEG stream (multipart/x-mixed-replace) with a
// plain multipart reader. Same latest-slot + reconnect shape as the ffmpeg
// driver, no subprocess involved.
type httpSource struct {
	cfg      config.Camera
	log      *logrus.Logger
	sourceID string

	mu     sync.Mutex
	cancel context.CancelFunc
	open   bool

	slot latestSlot

	client         *http.Client
	reconnectDelay time.Duration
	maxReconnects  int
}

func newHTTPSource(cfg config.Camera, log *logrus.Logger) *httpSource {
	return &httpSource{
		cfg:            cfg,
		log:            log,
		sourceID:       DeriveSourceID(cfg),
		client:         &http.Client{Timeout: 0}, // streaming body, no overall deadline
		reconnectDelay: 2 * time.Second,
		maxReconnects:  DefaultMaxReconnects,
	}
}

func (s *httpSource) SourceID() string { return s.sourceID }

func (s *httpSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *httpSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.open = true
	s.mu.Unlock()

	go s.readLoop(runCtx)
	return nil
}

func (s *httpSource) readLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		attempt++
		if attempt > s.maxReconnects {
			s.log.Errorf("camera %s: giving up after %d reconnect attempts: %v",
				s.sourceID, s.maxReconnects, err)
			s.mu.Lock()
			s.open = false
			s.mu.Unlock()
			return
		}
		delay := s.reconnectDelay * time.Duration(attempt)
		s.log.Warnf("camera %s: stream error (%v), reconnect %d/%d in %s",
			s.sourceID, err, attempt, s.maxReconnects, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *httpSource) streamOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrConnection, logging.MaskURL(s.cfg.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d from %s", ErrConnection, resp.StatusCode, logging.MaskURL(s.cfg.URL))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		return fmt.Errorf("%w: not an MJPEG stream (content-type %q)", ErrConnection, resp.Header.Get("Content-Type"))
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	failures := 0
	for {
		part, err := mr.NextPart()
		if err != nil {
			return fmt.Errorf("stream ended: %w", err)
		}
		raw, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return fmt.Errorf("read part: %w", err)
		}
		frame, err := decodeJPEGFrame(s.sourceID, 0, raw)
		if err != nil {
			failures++
			if failures >= readFailureLimit {
				return fmt.Errorf("%w: %d consecutive decode failures", ErrConnection, failures)
			}
			continue
		}
		failures = 0
		s.slot.store(frame)
	}
}

func (s *httpSource) GrabFrame() (*Frame, error) {
	f := s.slot.load()
	if f == nil {
		return nil, ErrTimeout
	}
	return f, nil
}

func (s *httpSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

var _ Source = (*httpSource)(nil)
var _ Source = (*ffmpegSource)(nil)
