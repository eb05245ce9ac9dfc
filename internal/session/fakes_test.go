package session

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/segcapture/internal/audio"
)

var errDeviceGone = errors.New("device unplugged")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock only moves when told to
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStream returns frames filled with their sequence number. Each read
// advances the clock by one frame duration when a clock is set.
type fakeStream struct {
	frameBytes int
	clock      *fakeClock
	step       time.Duration

	// delay sleeps in real time before each read
	delay time.Duration

	// failAfter makes the read after that many frames fail; zero never fails
	failAfter int

	// blockAfter makes reads after that many frames wait for release
	blockAfter int
	release    chan struct{}

	mu      sync.Mutex
	reads   int
	emitted bytes.Buffer
	closed  atomic.Int32
}

func (s *fakeStream) Read() ([]byte, error) {
	s.mu.Lock()
	n := s.reads
	s.mu.Unlock()

	if s.failAfter > 0 && n >= s.failAfter {
		return nil, errDeviceGone
	}
	if s.blockAfter > 0 && n >= s.blockAfter {
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	frame := bytes.Repeat([]byte{byte(n)}, s.frameBytes)

	s.mu.Lock()
	s.reads++
	s.emitted.Write(frame)
	s.mu.Unlock()

	if s.clock != nil {
		s.clock.Advance(s.step)
	}
	return frame, nil
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeStream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeStream) Emitted() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.emitted.Bytes()...)
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error

	// beforeOpen runs at the start of OpenStream
	beforeOpen func()

	inits      atomic.Int32
	terminates atomic.Int32
	opened     atomic.Int32
}

func (d *fakeDevice) Init() error {
	d.inits.Add(1)
	return nil
}

func (d *fakeDevice) Terminate() error {
	d.terminates.Add(1)
	return nil
}

func (d *fakeDevice) InputDevices() (map[int]string, error) {
	return map[int]string{0: "Fake Microphone"}, nil
}

func (d *fakeDevice) OpenStream(cfg audio.StreamConfig) (audio.Stream, error) {
	if d.beforeOpen != nil {
		d.beforeOpen()
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened.Add(1)
	if d.stream.frameBytes == 0 {
		d.stream.frameBytes = cfg.Format.FrameBytes()
	}
	return d.stream, nil
}

type writeCall struct {
	path                  string
	channels, width, rate int
	pcm                   []byte
}

// fakeWriter records every write and fails while failing is set
type fakeWriter struct {
	mu      sync.Mutex
	calls   []writeCall
	failing bool
}

func (w *fakeWriter) WriteAudioFile(path string, channels, sampleWidth, rate int, pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, writeCall{path, channels, sampleWidth, rate, append([]byte(nil), pcm...)})
	if w.failing {
		return errors.New("disk full")
	}
	return nil
}

func (w *fakeWriter) SetFailing(v bool) {
	w.mu.Lock()
	w.failing = v
	w.mu.Unlock()
}

func (w *fakeWriter) Calls() []writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writeCall(nil), w.calls...)
}
