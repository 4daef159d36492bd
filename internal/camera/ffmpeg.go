package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/config"
	"github.com/physical-mcp/physical-mcp/internal/logging"
)

// ffmpegSource covers USB and RTSP cameras. An ffmpeg subprocess transcodes
// the device/stream to MJPEG on stdout; a dedicated goroutine demuxes JPEG
// frames into the latest slot so GrabFrame never touches the decoder.
type ffmpegSource struct {
	cfg      config.Camera
	log      *logrus.Logger
	isRTSP   bool
	sourceID string

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	open   bool

	slot latestSlot

	reconnectDelay time.Duration
	maxReconnects  int
}

func newFFmpegSource(cfg config.Camera, log *logrus.Logger, isRTSP bool) *ffmpegSource {
	return &ffmpegSource{
		cfg:            cfg,
		log:            log,
		isRTSP:         isRTSP,
		sourceID:       DeriveSourceID(cfg),
		reconnectDelay: 2 * time.Second,
		maxReconnects:  DefaultMaxReconnects,
	}
}

func (s *ffmpegSource) SourceID() string { return s.sourceID }

func (s *ffmpegSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *ffmpegSource) args() []string {
	if s.isRTSP {
		// TCP transport by default: UDP drops frames on most home networks.
		return []string{
			"-rtsp_transport", "tcp",
			"-i", s.cfg.URL,
			"-f", "mjpeg", "-q:v", "5", "-r", "4", "pipe:1",
		}
	}
	device := fmt.Sprintf("/dev/video%d", s.cfg.Device)
	return []string{
		"-f", "v4l2",
		"-i", device,
		"-f", "mjpeg", "-q:v", "5", "-r", "4", "pipe:1",
	}
}

// Open starts ffmpeg and the reader goroutine. The first connect is bounded
// by openTimeout; later reconnects happen inside the reader loop.
func (s *ffmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.open = true
	s.mu.Unlock()

	started := make(chan error, 1)
	go s.readLoop(runCtx, started)

	select {
	case err := <-started:
		if err != nil {
			s.Close()
			return err
		}
		return nil
	case <-time.After(openTimeout):
		// Keep trying in the background; first GrabFrame returns ErrTimeout
		// until a frame lands.
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// readLoop runs ffmpeg, demuxes frames, and reconnects with linear backoff
// (delay x attempt). It owns the subprocess lifecycle.
func (s *ffmpegSource) readLoop(ctx context.Context, started chan<- error) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, started)
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
		s.log.Warnf("camera %s: stream ended (%v), reconnect %d/%d in %s",
			s.sourceID, err, attempt, s.maxReconnects, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce starts one ffmpeg process and demuxes until it dies or the frame
// reader sees too many consecutive failures.
func (s *ffmpegSource) runOnce(ctx context.Context, started chan<- error) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		select {
		case started <- fmt.Errorf("%w: start ffmpeg for %s: %v", ErrConnection, s.sourceID, err):
		default:
		}
		return err
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	reader := bufio.NewReaderSize(stdout, 1<<20)
	failures := 0
	gotFirst := false
	for {
		raw, err := readJPEG(reader)
		if err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return err
		}
		frame, err := decodeJPEGFrame(s.sourceID, 0, raw)
		if err != nil {
			failures++
			if failures >= readFailureLimit {
				cmd.Process.Kill()
				cmd.Wait()
				return fmt.Errorf("%w: %d consecutive decode failures", ErrConnection, failures)
			}
			continue
		}
		failures = 0
		s.slot.store(frame)
		if !gotFirst {
			gotFirst = true
			s.log.Infof("camera %s: streaming %dx%d via %s",
				s.sourceID, frame.Width, frame.Height, logging.MaskURL(s.cfg.URL))
			select {
			case started <- nil:
			default:
			}
		}
	}
}

// readJPEG scans the MJPEG byte stream for the next SOI..EOI span.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	// Seek SOI (FF D8)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		nxt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if nxt == 0xD8 {
			break
		}
	}
	buf := bytes.NewBuffer([]byte{0xFF, 0xD8})
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
	}
}

func (s *ffmpegSource) GrabFrame() (*Frame, error) {
	f := s.slot.load()
	if f == nil {
		return nil, ErrTimeout
	}
	return f, nil
}

func (s *ffmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return nil
}
