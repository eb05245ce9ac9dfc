package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/observe"
)

func newCaptureStage(dev *fakeDevice, f audio.Format, q *Queue, run *RunState) *captureStage {
	return &captureStage{
		device:  dev,
		stream:  audio.StreamConfig{Format: f, DeviceIndex: audio.DefaultDevice},
		queue:   q,
		run:     run,
		metrics: observe.Default(),
		log:     discardLogger(),
	}
}

func drain(t *testing.T, q *Queue) [][]byte {
	t.Helper()
	var segs [][]byte
	for q.Len() > 0 {
		it, err := q.Get(context.Background(), time.Second)
		require.NoError(t, err)
		require.False(t, it.IsEndOfStream())
		segs = append(segs, it.Data)
	}
	return segs
}

func TestCaptureFiveSecondsAtDefaults(t *testing.T) {
	f := audio.DefaultFormat()
	clock := newFakeClock()
	stream := &fakeStream{clock: clock, step: f.FrameDuration()}
	dev := &fakeDevice{stream: stream}
	q := NewQueue(0, OverflowBlock)
	run := newRunState(5*time.Second, clock.Now)

	err := newCaptureStage(dev, f, q, run).Run(context.Background())
	require.NoError(t, err)

	// 235 reads of 2048 bytes: two full segments and the remainder
	assert.Equal(t, 235, stream.Reads())
	segs := drain(t, q)
	require.Len(t, segs, 3)
	assert.Len(t, segs[0], 192000)
	assert.Len(t, segs[1], 192000)
	assert.Len(t, segs[2], 97280)

	assert.False(t, run.Running(), "capture clears the flag on expiry")
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestCaptureSegmentsPreserveFrameOrder(t *testing.T) {
	f := audio.Format{SampleRate: 1000, FrameSize: 30, Channels: 1, SampleWidth: 2, SegmentDuration: 100 * time.Millisecond}
	clock := newFakeClock()
	stream := &fakeStream{clock: clock, step: f.FrameDuration()}
	dev := &fakeDevice{stream: stream}
	q := NewQueue(0, OverflowBlock)
	run := newRunState(time.Second, clock.Now)

	require.NoError(t, newCaptureStage(dev, f, q, run).Run(context.Background()))

	// 60-byte frames do not divide 200-byte segments; the carry keeps every byte
	var joined []byte
	for _, seg := range drain(t, q) {
		joined = append(joined, seg...)
	}
	assert.Equal(t, stream.Emitted(), joined)
}

func TestCaptureStopsWhenFlagCleared(t *testing.T) {
	f := audio.DefaultFormat()
	clock := newFakeClock()
	stream := &fakeStream{clock: clock, step: f.FrameDuration()}
	dev := &fakeDevice{stream: stream}
	q := NewQueue(0, OverflowBlock)
	run := newRunState(0, clock.Now)
	run.Stop()

	require.NoError(t, newCaptureStage(dev, f, q, run).Run(context.Background()))
	assert.Zero(t, stream.Reads())
	assert.Zero(t, q.Len(), "nothing captured, nothing enqueued")
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestCaptureReadErrorKeepsBufferedAudio(t *testing.T) {
	f := audio.DefaultFormat()
	stream := &fakeStream{failAfter: 10}
	dev := &fakeDevice{stream: stream}
	q := NewQueue(0, OverflowBlock)
	run := newRunState(0, time.Now)

	err := newCaptureStage(dev, f, q, run).Run(context.Background())
	require.ErrorIs(t, err, errDeviceGone)

	segs := drain(t, q)
	require.Len(t, segs, 1)
	assert.Len(t, segs[0], 10*f.FrameBytes())
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestCaptureOpenError(t *testing.T) {
	dev := &fakeDevice{openErr: errDeviceGone}
	q := NewQueue(0, OverflowBlock)

	err := newCaptureStage(dev, audio.DefaultFormat(), q, newRunState(0, time.Now)).Run(context.Background())
	require.ErrorIs(t, err, errDeviceGone)
	assert.Zero(t, q.Len())
}

func TestCaptureStopsOnContextCancel(t *testing.T) {
	stream := &fakeStream{delay: time.Millisecond}
	dev := &fakeDevice{stream: stream}
	q := NewQueue(0, OverflowBlock)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- newCaptureStage(dev, audio.DefaultFormat(), q, newRunState(0, time.Now)).Run(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture ignored context cancellation")
	}
}
