package camera

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physical-mcp/physical-mcp/internal/config"
)

func newTestReader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}

// encodeTestJPEG renders a solid-color JPEG for push tests.
func encodeTestJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestDeriveSourceID(t *testing.T) {
	cases := []struct {
		cfg  config.Camera
		want string
	}{
		{config.Camera{Type: "usb", Device: 0}, "usb:0"},
		{config.Camera{Type: "usb", Device: 2}, "usb:2"},
		{config.Camera{Type: "rtsp", URL: "rtsp://admin:pw@192.168.1.10:554/ch0"}, "rtsp:192.168.1.10"},
		{config.Camera{Type: "http", URL: "http://cam.local:8080/stream.mjpg"}, "http:cam.local"},
		{config.Camera{Type: "cloud", ID: "cloud:porch"}, "cloud:porch"},
		{config.Camera{Type: "rtsp", ID: "front-door", URL: "rtsp://x/y"}, "front-door"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DeriveSourceID(c.cfg))
	}
}

func TestCloudSource_PushFrame(t *testing.T) {
	src := NewCloudSource(config.Camera{Type: "cloud", ID: "cloud:test"})

	// No frame yet: grab reports a timeout.
	_, err := src.GrabFrame()
	assert.ErrorIs(t, err, ErrTimeout)

	f1, err := src.PushFrame(encodeTestJPEG(t, color.White))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.Sequence)
	assert.Equal(t, "cloud:test", f1.SourceID)
	assert.Equal(t, 64, f1.Width)

	f2, err := src.PushFrame(encodeTestJPEG(t, color.Black))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.Sequence)

	got, err := src.GrabFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Sequence)
}

func TestCloudSource_PushInvalid(t *testing.T) {
	src := NewCloudSource(config.Camera{Type: "cloud", ID: "cloud:test"})

	_, err := src.PushFrame(nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = src.PushFrame([]byte("definitely not a jpeg"))
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestCloudSource_VerifyToken(t *testing.T) {
	src := NewCloudSource(config.Camera{Type: "cloud", ID: "cloud:test", AuthToken: "s3cret"})
	assert.True(t, src.VerifyToken("s3cret"))
	assert.False(t, src.VerifyToken("wrong"))
	assert.False(t, src.VerifyToken(""))

	// No token configured: any push is accepted.
	open := NewCloudSource(config.Camera{Type: "cloud", ID: "cloud:open"})
	assert.True(t, open.VerifyToken("anything"))
}

func TestCloudSource_OnFrameCallback(t *testing.T) {
	src := NewCloudSource(config.Camera{Type: "cloud", ID: "cloud:test"})
	var seen []uint64
	src.SetOnFrame(func(f *Frame) { seen = append(seen, f.Sequence) })

	src.PushFrame(encodeTestJPEG(t, color.White))
	src.PushFrame(encodeTestJPEG(t, color.Black))
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestNewToken_UniqueAndHex(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestHealthNormalize(t *testing.T) {
	var h Health
	n := h.Normalize("usb:0", "Desk")
	assert.Equal(t, "usb:0", n.CameraID)
	assert.Equal(t, "Desk", n.CameraName)
	assert.Equal(t, StatusUnknown, n.Status)
}

func TestHealthTracker_Transitions(t *testing.T) {
	tr := NewHealthTracker("usb:0", "Desk")
	assert.Equal(t, StatusStarting, tr.Snapshot().Status)

	tr.FrameOK()
	s := tr.Snapshot()
	assert.Equal(t, StatusRunning, s.Status)
	assert.NotNil(t, s.LastFrameAt)
	assert.Zero(t, s.ConsecutiveErrors)

	tr.CaptureError(ErrTimeout)
	assert.Equal(t, StatusDegraded, tr.Snapshot().Status)

	tr.FrameOK()
	assert.Equal(t, StatusRunning, tr.Snapshot().Status)
}

func TestReadJPEG_FindsFrameBoundaries(t *testing.T) {
	jpg := encodeTestJPEG(t, color.White)
	stream := append([]byte{0x00, 0x01}, jpg...)
	stream = append(stream, jpg...)

	r := newTestReader(stream)
	first, err := readJPEG(r)
	require.NoError(t, err)
	assert.Equal(t, jpg, first)
	second, err := readJPEG(r)
	require.NoError(t, err)
	assert.Equal(t, jpg, second)
}
