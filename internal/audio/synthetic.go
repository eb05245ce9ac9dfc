package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrStreamClosed is returned by reads on a closed synthetic stream
var ErrStreamClosed = errors.New("stream closed")

// Synthetic is a device that generates a sine tone. Reads are paced to the
// frame duration so it behaves like real hardware.
type Synthetic struct {
	Frequency float64
	Amplitude float64
	// Unpaced makes Read return immediately
	Unpaced bool
}

// NewSynthetic creates a 440 Hz tone generator at half scale
func NewSynthetic() *Synthetic {
	return &Synthetic{Frequency: 440, Amplitude: 0.5}
}

func (s *Synthetic) Init() error      { return nil }
func (s *Synthetic) Terminate() error { return nil }

func (s *Synthetic) InputDevices() (map[int]string, error) {
	return map[int]string{0: fmt.Sprintf("Synthetic tone (%.0f Hz)", s.Frequency)}, nil
}

func (s *Synthetic) OpenStream(cfg StreamConfig) (Stream, error) {
	if cfg.DeviceIndex != DefaultDevice && cfg.DeviceIndex != 0 {
		return nil, fmt.Errorf("synthetic backend has a single device, got index %d", cfg.DeviceIndex)
	}
	if cfg.Format.SampleWidth != 2 {
		return nil, fmt.Errorf("synthetic backend supports 16-bit samples only, got width %d", cfg.Format.SampleWidth)
	}
	return &syntheticStream{
		format:    cfg.Format,
		frequency: s.Frequency,
		amplitude: s.Amplitude,
		paced:     !s.Unpaced,
		next:      time.Now(),
	}, nil
}

type syntheticStream struct {
	format    Format
	frequency float64
	amplitude float64
	paced     bool

	mu     sync.Mutex
	pos    int
	next   time.Time
	closed bool
}

func (s *syntheticStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	if s.paced {
		s.next = s.next.Add(s.format.FrameDuration())
		if wait := time.Until(s.next); wait > 0 {
			time.Sleep(wait)
		}
	}

	out := make([]byte, s.format.FrameBytes())
	scale := s.amplitude * math.MaxInt16
	for i := 0; i < s.format.FrameSize; i++ {
		t := float64(s.pos+i) / float64(s.format.SampleRate)
		v := int16(scale * math.Sin(2*math.Pi*s.frequency*t))
		for ch := 0; ch < s.format.Channels; ch++ {
			off := (i*s.format.Channels + ch) * 2
			binary.LittleEndian.PutUint16(out[off:], uint16(v))
		}
	}
	s.pos += s.format.FrameSize
	return out, nil
}

func (s *syntheticStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
