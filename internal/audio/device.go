package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Device is the process-wide audio subsystem. Init and Terminate bracket
// every other call.
type Device interface {
	// Init acquires the device subsystem
	Init() error

	// Terminate releases the device subsystem
	Terminate() error

	// InputDevices maps device index to name, skipping devices without
	// input channels
	InputDevices() (map[int]string, error)

	// OpenStream opens and starts a capture stream
	OpenStream(cfg StreamConfig) (Stream, error)
}

// Stream is an open capture stream. Read blocks until one frame is available.
type Stream interface {
	Read() ([]byte, error)
	Close() error
}

// DefaultDevice selects the backend's default input device.
const DefaultDevice = -1

// StreamConfig describes the stream a capture stage opens
type StreamConfig struct {
	Format      Format
	DeviceIndex int
}

// Format is the fixed audio configuration of one capture session
type Format struct {
	SampleRate      int           `json:"sample_rate"`
	FrameSize       int           `json:"frame_size"`
	Channels        int           `json:"channels"`
	SampleWidth     int           `json:"sample_width"`
	SegmentDuration time.Duration `json:"segment_duration"`
}

// DefaultFormat returns 48 kHz mono 16-bit audio read in 1024-sample frames
// and buffered into 2 second segments.
func DefaultFormat() Format {
	return Format{
		SampleRate:      48000,
		FrameSize:       1024,
		Channels:        1,
		SampleWidth:     2,
		SegmentDuration: 2 * time.Second,
	}
}

// Validate checks that every field is usable
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be > 0, got %d", f.SampleRate))
	}
	if f.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be > 0, got %d", f.FrameSize))
	}
	if f.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be > 0, got %d", f.Channels))
	}
	if f.SampleWidth != 1 && f.SampleWidth != 2 && f.SampleWidth != 3 && f.SampleWidth != 4 {
		errs = append(errs, fmt.Errorf("sample width must be 1, 2, 3 or 4 bytes, got %d", f.SampleWidth))
	}
	if f.SegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment duration must be > 0, got %s", f.SegmentDuration))
	}
	return errors.Join(errs...)
}

// BytesPerSample is the width of one sample across all channels
func (f Format) BytesPerSample() int {
	return f.Channels * f.SampleWidth
}

// FrameBytes is the size of one device read
func (f Format) FrameBytes() int {
	return f.FrameSize * f.BytesPerSample()
}

// FrameDuration is the wall-clock time one device read covers
func (f Format) FrameDuration() time.Duration {
	return time.Duration(float64(f.FrameSize) / float64(f.SampleRate) * float64(time.Second))
}

// SegmentBytes is the size of a full segment. It is always a whole number
// of samples.
func (f Format) SegmentBytes() int {
	samples := int(math.Round(float64(f.SampleRate) * f.SegmentDuration.Seconds()))
	if samples < 1 {
		samples = 1
	}
	return samples * f.BytesPerSample()
}

// Duration converts a PCM byte length to playback time
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSample() * f.SampleRate
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}
