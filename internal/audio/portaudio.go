package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio implements Device on top of the PortAudio library
type PortAudio struct{}

// NewPortAudio creates a new PortAudio device subsystem
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Init initializes PortAudio
func (p *PortAudio) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

// Terminate releases PortAudio
func (p *PortAudio) Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio terminate: %w", err)
	}
	return nil
}

// InputDevices lists devices with at least one input channel
func (p *PortAudio) InputDevices() (map[int]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}

	inputs := make(map[int]string)
	for i, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs[i] = dev.Name
		}
	}
	return inputs, nil
}

// OpenStream opens and starts an input-only stream
func (p *PortAudio) OpenStream(cfg StreamConfig) (Stream, error) {
	if cfg.Format.SampleWidth != 2 {
		return nil, fmt.Errorf("portaudio backend supports 16-bit samples only, got width %d", cfg.Format.SampleWidth)
	}

	dev, err := p.inputDevice(cfg.DeviceIndex)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Format.Channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(cfg.Format.SampleRate)
	params.FramesPerBuffer = cfg.Format.FrameSize

	buf := make([]int16, cfg.Format.FrameSize*cfg.Format.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start capture stream on %q: %w", dev.Name, err)
	}

	slog.Debug("PortAudio capture stream started", "device", dev.Name, "rate", cfg.Format.SampleRate, "frame_size", cfg.Format.FrameSize)
	return &portAudioStream{stream: stream, buf: buf}, nil
}

func (p *PortAudio) inputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index == DefaultDevice {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list PortAudio devices: %w", err)
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range (0-%d)", index, len(devices)-1)
	}
	if devices[index].MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) has no input channels", index, devices[index].Name)
	}
	return devices[index], nil
}

type portAudioStream struct {
	stream    *portaudio.Stream
	buf       []int16
	closeOnce sync.Once
	closeErr  error
}

// Read blocks for one frame. Input overflow means samples were lost inside
// PortAudio, but the buffer still holds a valid frame.
func (s *portAudioStream) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		slog.Debug("PortAudio input overflowed")
	}
	return int16ToBytes(s.buf), nil
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		stopErr := s.stream.Stop()
		s.closeErr = errors.Join(stopErr, s.stream.Close())
	})
	return s.closeErr
}

// int16ToBytes encodes samples as little-endian PCM
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
