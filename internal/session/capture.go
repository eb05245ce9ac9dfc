package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/observe"
)

// captureStage reads frames from the device and enqueues fixed-size segments
type captureStage struct {
	device  audio.Device
	stream  audio.StreamConfig
	queue   *Queue
	run     *RunState
	metrics *observe.Metrics
	log     *slog.Logger

	// counted only by the capture goroutine
	segments int
	bytes    int64
}

// Run captures until the running flag clears, the duration limit passes, ctx
// ends or the device fails. Whatever was buffered is enqueued before it
// returns, including a final short segment.
func (c *captureStage) Run(ctx context.Context) error {
	f := c.stream.Format
	segBytes := f.SegmentBytes()

	stream, err := c.device.OpenStream(c.stream)
	if err != nil {
		c.metrics.DeviceErrors.Add(ctx, 1)
		c.log.Error("Failed to open input stream", "device", c.stream.DeviceIndex, "error", err)
		return fmt.Errorf("open input stream: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			c.log.Warn("Failed to close input stream", "error", err)
		}
	}()

	c.log.Info("Capture started",
		"device", c.stream.DeviceIndex,
		"sample_rate", f.SampleRate,
		"channels", f.Channels,
		"segment_bytes", segBytes,
		"limit", c.run.Limit())

	var (
		buf     = make([]byte, 0, segBytes+f.FrameBytes())
		readErr error
	)
	for c.run.Running() && ctx.Err() == nil {
		if c.run.Expired() {
			c.log.Info("Capture duration reached", "elapsed", c.run.Elapsed())
			c.run.Stop()
			break
		}

		frame, err := stream.Read()
		if err != nil {
			c.metrics.DeviceErrors.Add(ctx, 1)
			c.log.Error("Failed to read audio frame", "error", err)
			readErr = fmt.Errorf("read audio frame: %w", err)
			break
		}
		c.metrics.FramesRead.Add(ctx, 1)

		buf = append(buf, frame...)
		for len(buf) >= segBytes {
			seg := make([]byte, segBytes)
			copy(seg, buf)
			c.emit(ctx, seg)
			buf = append(buf[:0], buf[segBytes:]...)
		}
	}

	if len(buf) > 0 {
		c.emit(ctx, append([]byte(nil), buf...))
	}

	c.log.Info("Capture finished", "segments", c.segments, "bytes", c.bytes)
	return readErr
}

// emit hands one segment to the queue. Failures are logged but never stop
// the stage.
func (c *captureStage) emit(ctx context.Context, seg []byte) {
	evicted, err := c.queue.Put(context.WithoutCancel(ctx), Segment(seg))
	if evicted > 0 {
		c.metrics.SegmentsDropped.Add(ctx, int64(evicted))
		c.metrics.QueueDepth.Add(ctx, -int64(evicted))
		c.log.Warn("Segment queue full, dropped oldest segments", "dropped", evicted)
	}
	if err != nil {
		c.metrics.SegmentsDropped.Add(ctx, 1)
		if errors.Is(err, ErrQueueClosed) {
			c.log.Warn("Segment queue closed, dropping segment", "bytes", len(seg))
		} else {
			c.log.Error("Failed to enqueue segment", "bytes", len(seg), "error", err)
		}
		return
	}

	c.segments++
	c.bytes += int64(len(seg))
	c.metrics.SegmentsCaptured.Add(ctx, 1)
	c.metrics.BytesCaptured.Add(ctx, int64(len(seg)))
	c.metrics.QueueDepth.Add(ctx, 1)
	c.log.Debug("Segment enqueued", "seq", c.segments, "bytes", len(seg))
}
