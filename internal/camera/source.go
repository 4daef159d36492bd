package camera

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physical-mcp/physical-mcp/internal/config"
)

const (
	DefaultMaxReconnects = 5
	readFailureLimit     = 30
	openTimeout          = 10 * time.Second
)

// Source is the contract every camera driver satisfies. GrabFrame never
// blocks on I/O: drivers keep a latest-frame slot filled by a background
// reader, and return ErrTimeout until the first frame arrives.
type Source interface {
	Open(ctx context.Context) error
	Close() error
	GrabFrame() (*Frame, error)
	IsOpen() bool
	SourceID() string
}

// New maps a camera config entry to a driver.
func New(cfg config.Camera, log *logrus.Logger) (Source, error) {
	switch cfg.Type {
	case "usb":
		return newFFmpegSource(cfg, log, false), nil
	case "rtsp":
		return newFFmpegSource(cfg, log, true), nil
	case "http":
		return newHTTPSource(cfg, log), nil
	case "cloud":
		return NewCloudSource(cfg), nil
	default:
		return nil, fmt.Errorf("unknown camera type %q", cfg.Type)
	}
}

// DeriveSourceID computes the stable id for a camera config entry:
// usb:<index>, <scheme>:<host> with credentials stripped, or the configured
// id for cloud cameras.
func DeriveSourceID(cfg config.Camera) string {
	if cfg.ID != "" {
		return cfg.ID
	}
	switch cfg.Type {
	case "usb":
		return fmt.Sprintf("usb:%d", cfg.Device)
	case "rtsp", "http":
		if u, err := url.Parse(cfg.URL); err == nil && u.Host != "" {
			return u.Scheme + ":" + u.Hostname()
		}
		return cfg.Type + ":unknown"
	default:
		return cfg.Type + ":unnamed"
	}
}

// latestSlot is the single-reference slot shared between the blocking reader
// goroutine and the async side. Ordering is preserved by it being one
// reference, not a queue.
type latestSlot struct {
	mu    sync.Mutex
	frame *Frame
	seq   uint64
}

func (s *latestSlot) store(f *Frame) {
	s.mu.Lock()
	s.seq++
	f.Sequence = s.seq
	s.frame = f
	s.mu.Unlock()
}

func (s *latestSlot) load() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}
