package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiolibrelab/segcapture/internal/observe"
)

// Handler is called for every segment the processing stage takes off the
// queue, in capture order. An error is logged and the segment is kept.
type Handler interface {
	HandleSegment(ctx context.Context, seq int, segment []byte) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, seq int, segment []byte) error

func (f HandlerFunc) HandleSegment(ctx context.Context, seq int, segment []byte) error {
	return f(ctx, seq, segment)
}

// logHandler reports progress through the logger
type logHandler struct {
	log *slog.Logger
}

func (h logHandler) HandleSegment(_ context.Context, seq int, segment []byte) error {
	h.log.Info("Processed audio segment", "seq", seq, "bytes", len(segment))
	return nil
}

// Writer persists the concatenated PCM of a session
type Writer interface {
	WriteAudioFile(path string, channels, sampleWidth, rate int, pcm []byte) error
}

// processStage drains the queue into an in-memory buffer and writes the
// buffer as one file once the end-of-stream marker arrives
type processStage struct {
	queue        *Queue
	run          *RunState
	captureDone  <-chan struct{}
	pollInterval time.Duration
	handler      Handler
	metrics      *observe.Metrics
	log          *slog.Logger

	segments [][]byte
	bytes    int64
}

// Run consumes segments until the end-of-stream marker or ctx ends. The
// queue is closed on return so a blocked producer is released.
func (p *processStage) Run(ctx context.Context) error {
	defer p.queue.Close()

	for p.run.Running() || p.queue.Len() > 0 || !p.captureFinished() {
		it, err := p.queue.Get(ctx, p.pollInterval)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			p.log.Warn("Processing interrupted", "error", err, "pending", p.queue.Len())
			return fmt.Errorf("processing interrupted: %w", err)
		}
		if it.IsEndOfStream() {
			p.log.Debug("End of stream reached")
			break
		}

		p.metrics.QueueDepth.Add(ctx, -1)
		p.segments = append(p.segments, it.Data)
		p.bytes += int64(len(it.Data))
		p.metrics.SegmentsProcessed.Add(ctx, 1)

		if err := p.handler.HandleSegment(ctx, len(p.segments), it.Data); err != nil {
			p.log.Warn("Segment handler failed", "seq", len(p.segments), "error", err)
		}
	}

	p.log.Info("Processing finished", "segments", len(p.segments), "bytes", p.bytes)
	return nil
}

func (p *processStage) captureFinished() bool {
	select {
	case <-p.captureDone:
		return true
	default:
		return false
	}
}

// pcm joins the processed segments in capture order
func (p *processStage) pcm() []byte {
	return bytes.Join(p.segments, nil)
}
