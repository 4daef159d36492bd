// Package camera implements the frame sources and the per-camera frame
// buffer. Concrete drivers only matter through the Source contract; the rest
// of the pipeline sees immutable Frames.
package camera

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"time"
)

var (
	ErrTimeout      = errors.New("camera_timeout")
	ErrConnection   = errors.New("camera_connection_failed")
	ErrInvalidFrame = errors.New("invalid_frame")
	ErrForbidden    = errors.New("forbidden")
)

// Frame is one captured image plus metadata. Immutable once emitted; every
// consumer reads only.
type Frame struct {
	Image     image.Image
	JPEG      []byte // original JPEG bytes when the source produced them
	Timestamp time.Time
	SourceID  string
	Sequence  uint64 // monotonic per source, starting at 1
	Width     int
	Height    int
}

// EncodeJPEG returns the frame as JPEG at the given quality. The source's
// original bytes are reused when quality matches the default, avoiding a
// re-encode on the hot path.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	if f.JPEG != nil && quality >= 80 {
		return f.JPEG, nil
	}
	if f.Image == nil {
		if f.JPEG != nil {
			return f.JPEG, nil
		}
		return nil, ErrInvalidFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Base64JPEG returns the frame as base64 for VLM prompts and alert payloads.
func (f *Frame) Base64JPEG(quality int) (string, error) {
	raw, err := f.EncodeJPEG(quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeJPEGFrame builds a Frame from raw JPEG bytes. The image is decoded
// eagerly so the change detector can work on pixels; decode failure maps to
// ErrInvalidFrame.
func decodeJPEGFrame(sourceID string, seq uint64, raw []byte) (*Frame, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrInvalidFrame
	}
	b := img.Bounds()
	return &Frame{
		Image:     img,
		JPEG:      raw,
		Timestamp: time.Now(),
		SourceID:  sourceID,
		Sequence:  seq,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}
