package camera

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"github.com/physical-mcp/physical-mcp/internal/config"
)

// CloudSource accepts frames pushed from a remote relay board. There is no
// background producer: PushFrame is the producer.
type CloudSource struct {
	sourceID string
	name     string

	mu    sync.Mutex
	open  bool
	token string

	slot latestSlot

	// onFrame, when set, runs after each accepted push. The perception
	// runtime uses it to feed the frame buffer without polling.
	onFrame func(*Frame)
}

func NewCloudSource(cfg config.Camera) *CloudSource {
	return &CloudSource{
		sourceID: DeriveSourceID(cfg),
		name:     cfg.Name,
		token:    cfg.AuthToken,
	}
}

// NewPairedCloudSource creates a cloud camera for the claim workflow with a
// freshly generated token.
func NewPairedCloudSource(id, name string) *CloudSource {
	return &CloudSource{
		sourceID: id,
		name:     name,
		token:    NewToken(),
	}
}

// NewToken generates a camera push token from a cryptographically secure
// source.
func NewToken() string {
	raw := make([]byte, 16)
	rand.Read(raw)
	return hex.EncodeToString(raw)
}

func (s *CloudSource) SourceID() string { return s.sourceID }
func (s *CloudSource) Name() string     { return s.name }

func (s *CloudSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *CloudSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *CloudSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Token returns the push token, empty when pushes are unauthenticated.
func (s *CloudSource) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// VerifyToken compares in constant time. A camera configured without a
// token accepts any push.
func (s *CloudSource) VerifyToken(t string) bool {
	s.mu.Lock()
	want := s.token
	s.mu.Unlock()
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(t)) == 1
}

// SetOnFrame registers the accepted-push callback. Called once at wiring
// time, before any push arrives.
func (s *CloudSource) SetOnFrame(fn func(*Frame)) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// PushFrame decodes the JPEG, assigns the next sequence number, replaces the
// latest slot, and notifies the runtime.
func (s *CloudSource) PushFrame(raw []byte) (*Frame, error) {
	frame, err := decodeJPEGFrame(s.sourceID, 0, raw)
	if err != nil {
		return nil, err
	}
	s.slot.store(frame)

	s.mu.Lock()
	cb := s.onFrame
	s.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
	return frame, nil
}

func (s *CloudSource) GrabFrame() (*Frame, error) {
	f := s.slot.load()
	if f == nil {
		return nil, ErrTimeout
	}
	return f, nil
}

var _ Source = (*CloudSource)(nil)
