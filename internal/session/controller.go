// Package session runs one capture session: a capture stage reading the input
// device into fixed-size segments, a processing stage draining them, and a
// Controller that owns both and the device subsystem.
//
// A Controller is single-use. New acquires the device, Start spawns the two
// stages and Stop (or the duration limit) ends them. Once both stages have
// joined, the concatenated audio has been written and the device has been
// released, the state is STOPPED.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/observe"
	"github.com/audiolibrelab/segcapture/internal/wav"
)

var (
	// ErrAlreadyStarted is returned by Start on a controller that left IDLE
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNoAudio is returned by Flush when nothing was captured
	ErrNoAudio = errors.New("no audio captured")
)

// Config is the immutable configuration of one session
type Config struct {
	Format      audio.Format
	DeviceIndex int

	// DequeueTimeout bounds each wait of the processing stage
	DequeueTimeout time.Duration

	// JoinTimeout bounds each wait of Stop for a stage to finish
	JoinTimeout time.Duration

	// QueueCapacity of zero leaves the segment queue unbounded
	QueueCapacity int
	Overflow      OverflowPolicy

	OutputPath string
}

// DefaultConfig returns the default format on the default device, written to
// output.wav
func DefaultConfig() Config {
	return Config{
		Format:         audio.DefaultFormat(),
		DeviceIndex:    audio.DefaultDevice,
		DequeueTimeout: time.Second,
		JoinTimeout:    2 * time.Second,
		Overflow:       OverflowBlock,
		OutputPath:     "output.wav",
	}
}

// Validate checks the configuration before any device is touched
func (c Config) Validate() error {
	var errs []error
	if err := c.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DequeueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dequeue timeout must be > 0, got %s", c.DequeueTimeout))
	}
	if c.JoinTimeout <= 0 {
		errs = append(errs, fmt.Errorf("join timeout must be > 0, got %s", c.JoinTimeout))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be >= 0, got %d", c.QueueCapacity))
	}
	if _, err := ParseOverflowPolicy(string(c.Overflow)); err != nil {
		errs = append(errs, err)
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	return errors.Join(errs...)
}

// Result summarises a session. It is complete once Done is closed.
type Result struct {
	Segments   int
	Bytes      int64
	OutputPath string

	// CaptureErr is the device failure that ended capture early, if any
	CaptureErr error

	// WriteErr is the latest flush failure; Flush clears it on success
	WriteErr error
}

// Err joins the capture and write errors
func (r Result) Err() error {
	return errors.Join(r.CaptureErr, r.WriteErr)
}

// Option configures a Controller
type Option func(*Controller)

// WithWriter replaces the WAV file writer
func WithWriter(w Writer) Option {
	return func(c *Controller) { c.writer = w }
}

// WithHandler replaces the per-segment hook of the processing stage
func WithHandler(h Handler) Option {
	return func(c *Controller) { c.handler = h }
}

// WithMetrics records pipeline metrics on m instead of the global provider
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger of the controller and both stages
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock replaces time.Now for elapsed time and duration limits
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the device subsystem and the two stages of one session
type Controller struct {
	cfg     Config
	device  audio.Device
	writer  Writer
	handler Handler
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	state       State
	stopping    bool
	run         *RunState
	queue       *Queue
	cancel      context.CancelFunc
	captureDone chan struct{}
	done        chan struct{}

	// stopReturned is closed when the first Stop finishes its bounded waits
	stopReturned chan struct{}
	result      Result
	pcm         []byte

	eosOnce       sync.Once
	terminateOnce sync.Once
}

// New validates cfg and acquires the device subsystem
func New(cfg Config, device audio.Device, opts ...Option) (*Controller, error) {
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowBlock
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	c := &Controller{
		cfg:     cfg,
		device:  device,
		writer:  wav.FileWriter{},
		metrics: observe.Default(),
		log:     slog.Default(),
		now:     time.Now,
		state:   StateIdle,
		done:    make(chan struct{}),

		stopReturned: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = logHandler{log: c.log}
	}

	if err := device.Init(); err != nil {
		return nil, fmt.Errorf("initialize audio device: %w", err)
	}
	return c, nil
}

// Start spawns the capture and processing stages and returns immediately.
// A limit of zero records until Stop. Cancelling ctx aborts both stages
// without waiting for the queue to drain.
func (c *Controller) Start(ctx context.Context, limit time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRunState(limit, c.now)
	q := NewQueue(c.cfg.QueueCapacity, c.cfg.Overflow)
	captureDone := make(chan struct{})

	c.run = run
	c.queue = q
	c.cancel = cancel
	c.captureDone = captureDone
	c.state = StateRunning

	capture := &captureStage{
		device:  c.device,
		stream:  audio.StreamConfig{Format: c.cfg.Format, DeviceIndex: c.cfg.DeviceIndex},
		queue:   q,
		run:     run,
		metrics: c.metrics,
		log:     c.log.With("stage", "capture"),
	}
	proc := &processStage{
		queue:        q,
		run:          run,
		captureDone:  captureDone,
		pollInterval: c.cfg.DequeueTimeout,
		handler:      c.handler,
		metrics:      c.metrics,
		log:          c.log.With("stage", "process"),
	}

	// The stages share no failure domain, so neither error cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		defer close(captureDone)
		defer c.markStopping()
		defer run.Stop()
		defer c.pushEndOfStream()

		err := capture.Run(runCtx)
		if err != nil {
			c.mu.Lock()
			c.result.CaptureErr = err
			c.mu.Unlock()
		}
		return err
	})
	g.Go(func() error {
		err := proc.Run(runCtx)
		c.complete(proc)
		return err
	})

	go func() {
		if err := g.Wait(); err != nil {
			c.log.Warn("Session ended with error", "error", err)
		}
		cancel()
		c.metrics.SessionDuration.Record(context.Background(), run.Elapsed().Seconds())
		c.terminate()

		c.mu.Lock()
		c.state = StateStopped
		res := c.result
		c.mu.Unlock()

		c.log.Info("Session stopped",
			"segments", res.Segments,
			"bytes", res.Bytes,
			"evicted", q.Evicted(),
			"output", res.OutputPath)
		close(c.done)
	}()

	c.log.Info("Session started", "limit", limit, "output", c.cfg.OutputPath)
	return nil
}

// Stop ends the session and releases the device subsystem. It is safe to call
// before Start, more than once and concurrently. Every call returns once the
// session is STOPPED or the first call has given up waiting, which takes at
// most three join timeouts. A stage stuck in a device read leaves the state at
// STOPPING until the read returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch {
	case c.state == StateIdle:
		c.state = StateStopped
		close(c.done)
		c.mu.Unlock()
		c.terminate()
		return
	case c.state == StateStopped:
		c.mu.Unlock()
		return
	case c.stopping:
		done, returned := c.done, c.stopReturned
		c.mu.Unlock()
		select {
		case <-done:
		case <-returned:
		}
		return
	}
	c.stopping = true
	defer close(c.stopReturned)
	if c.state == StateRunning {
		c.state = StateStopping
	}
	run, captureDone, cancel := c.run, c.captureDone, c.cancel
	c.mu.Unlock()

	if run.Stop() {
		c.log.Info("Stopping session", "elapsed", run.Elapsed())
	}

	select {
	case <-captureDone:
	case <-time.After(c.cfg.JoinTimeout):
		c.log.Warn("Capture stage did not stop in time, forcing end of stream", "timeout", c.cfg.JoinTimeout)
		c.pushEndOfStream()
	}

	select {
	case <-c.done:
		return
	case <-time.After(c.cfg.JoinTimeout):
		c.log.Warn("Session did not stop in time, cancelling", "timeout", c.cfg.JoinTimeout)
		cancel()
	}

	select {
	case <-c.done:
	case <-time.After(c.cfg.JoinTimeout):
		c.log.Error("Session failed to terminate, releasing device anyway")
		c.terminate()
	}
}

// Close stops the session if needed. It implements io.Closer.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// Running reports the shared running flag. It is false before Start.
func (c *Controller) Running() bool {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	return run != nil && run.Running()
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the session is STOPPED
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Elapsed is the time since Start, or zero before it
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return 0
	}
	return run.Elapsed()
}

// Result returns the session summary so far
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// InputDevices lists the input devices of the acquired subsystem
func (c *Controller) InputDevices() (map[int]string, error) {
	return c.device.InputDevices()
}

// Flush writes the captured audio to path and returns its absolute form. The
// processing stage flushes to the configured output path on its own; Flush
// retries after a failed write or writes a copy elsewhere.
func (c *Controller) Flush(path string) (string, error) {
	c.mu.Lock()
	pcm := c.pcm
	c.mu.Unlock()
	if len(pcm) == 0 {
		return "", ErrNoAudio
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve output path %s: %w", path, err)
	}

	f := c.cfg.Format
	start := c.now()
	err = c.writer.WriteAudioFile(abs, f.Channels, f.SampleWidth, f.SampleRate, pcm)
	c.metrics.FlushDuration.Record(context.Background(), c.now().Sub(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.result.WriteErr = fmt.Errorf("write audio file %s: %w", abs, err)
		c.log.Error("Failed to save audio", "path", abs, "error", err)
		return "", c.result.WriteErr
	}
	c.result.WriteErr = nil
	c.result.OutputPath = abs
	c.log.Info("Audio saved", "path", abs, "bytes", len(pcm), "duration", f.Duration(len(pcm)))
	return abs, nil
}

// complete records what the processing stage consumed and writes it
func (c *Controller) complete(p *processStage) {
	pcm := p.pcm()

	c.mu.Lock()
	c.result.Segments = len(p.segments)
	c.result.Bytes = p.bytes
	c.pcm = pcm
	c.mu.Unlock()

	if len(pcm) == 0 {
		c.log.Warn("No audio captured, nothing written")
		return
	}
	_, _ = c.Flush(c.cfg.OutputPath)
}

// pushEndOfStream enqueues the end-of-stream marker at most once per session
func (c *Controller) pushEndOfStream() {
	c.eosOnce.Do(func() {
		if _, err := c.queue.Put(context.Background(), EndOfStream()); err != nil {
			c.log.Debug("End of stream not enqueued", "error", err)
		}
	})
}

func (c *Controller) markStopping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.state = StateStopping
	}
}

// terminate releases the device subsystem at most once
func (c *Controller) terminate() {
	c.terminateOnce.Do(func() {
		if err := c.device.Terminate(); err != nil {
			c.log.Warn("Failed to release audio device", "error", err)
		}
	})
}
