// Package wav writes and inspects uncompressed PCM WAV files.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// HeaderSize is the size of the canonical 44-byte PCM header
const HeaderSize = 44

// Header represents the header structure of a WAV file
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewHeader builds a PCM header for dataSize bytes of samples
func NewHeader(channels, sampleWidth, rate int, dataSize int) (Header, error) {
	if channels <= 0 || channels > math.MaxUint16 {
		return Header{}, fmt.Errorf("invalid channel count: %d", channels)
	}
	if sampleWidth < 1 || sampleWidth > 4 {
		return Header{}, fmt.Errorf("invalid sample width: %d bytes", sampleWidth)
	}
	if rate <= 0 {
		return Header{}, fmt.Errorf("sample rate must be positive, got %d", rate)
	}
	blockAlign := channels * sampleWidth
	if dataSize%blockAlign != 0 {
		return Header{}, fmt.Errorf("data size %d is not a multiple of block size %d", dataSize, blockAlign)
	}
	if uint64(dataSize)+HeaderSize-8 > math.MaxUint32 {
		return Header{}, fmt.Errorf("data size %d exceeds the WAV 4 GiB limit", dataSize)
	}

	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(HeaderSize - 8 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(sampleWidth * 8),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}, nil
}

// Encode writes a complete WAV stream for pcm to w
func Encode(w io.Writer, channels, sampleWidth, rate int, pcm []byte) error {
	header, err := NewHeader(channels, sampleWidth, rate, len(pcm))
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return nil
}

// WriteFile writes pcm as a WAV file at path. The file is replaced
// atomically so readers never observe a truncated header.
func WriteFile(path string, channels, sampleWidth, rate int, pcm []byte) error {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(pcm))
	if err := Encode(&buf, channels, sampleWidth, rate, pcm); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// FileWriter persists sessions as WAV files
type FileWriter struct{}

func (FileWriter) WriteAudioFile(path string, channels, sampleWidth, rate int, pcm []byte) error {
	return WriteFile(path, channels, sampleWidth, rate, pcm)
}

// Info describes a WAV file
type Info struct {
	SampleRate    uint32        `json:"sample_rate" yaml:"sample_rate"`
	Channels      uint16        `json:"channels" yaml:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample" yaml:"bits_per_sample"`
	DataSize      uint32        `json:"data_size_bytes" yaml:"data_size_bytes"`
	NumSamples    uint32        `json:"num_samples" yaml:"num_samples"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
}

// DecodeInfo reads and validates the header at the start of r
func DecodeInfo(r io.Reader) (*Info, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(h.ChunkID[:]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(h.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(h.Subchunk1ID[:]) != "fmt " {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(h.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if h.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", h.AudioFormat)
	}
	if h.BlockAlign == 0 || h.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero block align or sample rate")
	}

	numSamples := h.Subchunk2Size / uint32(h.BlockAlign)
	return &Info{
		SampleRate:    h.SampleRate,
		Channels:      h.NumChannels,
		BitsPerSample: h.BitsPerSample,
		DataSize:      h.Subchunk2Size,
		NumSamples:    numSamples,
		Duration:      time.Duration(float64(numSamples) / float64(h.SampleRate) * float64(time.Second)),
	}, nil
}

// ReadInfo opens path and decodes its header
func ReadInfo(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return DecodeInfo(f)
}
