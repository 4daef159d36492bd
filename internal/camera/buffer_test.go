package camera

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(seq uint64, ts time.Time) *Frame {
	return &Frame{SourceID: "usb:0", Sequence: seq, Timestamp: ts}
}

func TestFrameBuffer_BoundAndLatest(t *testing.T) {
	buf := NewFrameBuffer(5)
	base := time.Now()
	for i := 1; i <= 20; i++ {
		buf.Push(testFrame(uint64(i), base.Add(time.Duration(i)*time.Second)))
		assert.LessOrEqual(t, buf.Size(), 5)
		assert.Equal(t, uint64(i), buf.Latest().Sequence)
	}
	assert.Equal(t, 5, buf.Size())
}

func TestFrameBuffer_EmptyLatestIsNil(t *testing.T) {
	assert.Nil(t, NewFrameBuffer(3).Latest())
}

func TestFrameBuffer_FramesSince(t *testing.T) {
	buf := NewFrameBuffer(10)
	base := time.Now()
	for i := 0; i < 10; i++ {
		buf.Push(testFrame(uint64(i+1), base.Add(time.Duration(i)*time.Minute)))
	}
	got := buf.FramesSince(base.Add(7 * time.Minute))
	require.Len(t, got, 3)
	assert.Equal(t, uint64(8), got[0].Sequence)
}

func TestFrameBuffer_Sampled(t *testing.T) {
	buf := NewFrameBuffer(100)
	base := time.Now()
	for i := 1; i <= 10; i++ {
		buf.Push(testFrame(uint64(i), base))
	}

	// Fewer frames than requested: all returned.
	assert.Len(t, buf.Sampled(20), 10)

	// Evenly spaced: indices floor(i*10/4) for i in 0..3 -> 0,2,5,7.
	got := buf.Sampled(4)
	require.Len(t, got, 4)
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, uint64(3), got[1].Sequence)
	assert.Equal(t, uint64(6), got[2].Sequence)
	assert.Equal(t, uint64(8), got[3].Sequence)
}

func TestFrameBuffer_WaitForFrame(t *testing.T) {
	buf := NewFrameBuffer(3)

	// Timeout path: empty buffer stays nil.
	start := time.Now()
	assert.Nil(t, buf.WaitForFrame(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Wake path: a push releases the waiter early.
	done := make(chan *Frame, 1)
	go func() { done <- buf.WaitForFrame(2 * time.Second) }()
	time.Sleep(20 * time.Millisecond)
	buf.Push(testFrame(1, time.Now()))
	select {
	case f := <-done:
		require.NotNil(t, f)
		assert.Equal(t, uint64(1), f.Sequence)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by push")
	}
}

func TestFrameBuffer_Clear(t *testing.T) {
	buf := NewFrameBuffer(3)
	buf.Push(testFrame(1, time.Now()))
	buf.Clear()
	assert.Equal(t, 0, buf.Size())
	assert.Nil(t, buf.Latest())
}

func TestLatestSlot_SequenceMonotonic(t *testing.T) {
	var slot latestSlot
	for i := 0; i < 50; i++ {
		slot.store(&Frame{SourceID: "usb:0"})
		f := slot.load()
		assert.Equal(t, uint64(i+1), f.Sequence, fmt.Sprintf("store %d", i))
	}
}
