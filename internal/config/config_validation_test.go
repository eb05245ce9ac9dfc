package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithProfile_ValidConfig(t *testing.T) {
	validConfig := `
active_config: studio

configs:
  default:
    audio:
      backend: portaudio
      device: 2
      sample_rate: 48000
    pipeline:
      join_timeout: 3s
    output:
      path: /tmp/default.wav

  studio:
    audio:
      channels: 2
      segment_duration: 500ms
    capture:
      duration: 1m
    pipeline:
      queue_capacity: 4
      overflow: drop_oldest
`
	configFile := createTempConfig(t, validConfig)

	config, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected valid config to load, got error: %v", err)
	}

	if config.Inheritance.Profile != "studio" {
		t.Errorf("Expected active profile studio, got %s", config.Inheritance.Profile)
	}
	// inherited from configs.default
	if config.Audio.Backend != "portaudio" {
		t.Errorf("Expected backend portaudio, got %s", config.Audio.Backend)
	}
	if config.DeviceIndex() != 2 {
		t.Errorf("Expected device 2, got %d", config.DeviceIndex())
	}
	if config.Pipeline.JoinTimeout != 3*time.Second {
		t.Errorf("Expected join timeout 3s, got %s", config.Pipeline.JoinTimeout)
	}
	if config.Output.Path != "/tmp/default.wav" {
		t.Errorf("Expected output path /tmp/default.wav, got %s", config.Output.Path)
	}
	// inherited from built-in defaults
	if config.Audio.FrameSize != 1024 {
		t.Errorf("Expected frame size 1024, got %d", config.Audio.FrameSize)
	}
	if config.Pipeline.DequeueTimeout != time.Second {
		t.Errorf("Expected dequeue timeout 1s, got %s", config.Pipeline.DequeueTimeout)
	}
	// profile-specific
	if config.Audio.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", config.Audio.Channels)
	}
	if config.Audio.SegmentDuration != 500*time.Millisecond {
		t.Errorf("Expected segment duration 500ms, got %s", config.Audio.SegmentDuration)
	}
	if config.Capture.Duration != time.Minute {
		t.Errorf("Expected capture duration 1m, got %s", config.Capture.Duration)
	}
	if config.Pipeline.QueueCapacity != 4 || config.Pipeline.Overflow != "drop_oldest" {
		t.Errorf("Expected bounded drop_oldest queue, got %+v", config.Pipeline)
	}

	// Explicit profile wins over active_config
	config, err = LoadWithProfile(configFile, "default")
	if err != nil {
		t.Fatalf("Failed to load default profile: %v", err)
	}
	if config.Audio.Channels != 1 {
		t.Errorf("Expected default profile mono, got %d channels", config.Audio.Channels)
	}
}

func TestLoadWithProfile_MissingProfile(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    audio:
      sample_rate: 44100
`)

	_, err := LoadWithProfile(configFile, "live")
	if err == nil {
		t.Fatal("Expected error for missing profile")
	}
	if !strings.Contains(err.Error(), "'live' not found") || !strings.Contains(err.Error(), "default") {
		t.Errorf("Expected error listing available profiles, got: %v", err)
	}
}

func TestLoadWithProfile_NoConfigs(t *testing.T) {
	configFile := createTempConfig(t, `active_config: default
`)

	_, err := LoadWithProfile(configFile, "")
	if err == nil || !strings.Contains(err.Error(), "no profiles") {
		t.Errorf("Expected no profiles error, got: %v", err)
	}
}

func TestLoadWithProfile_MissingFile(t *testing.T) {
	_, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err == nil {
		t.Fatal("Expected error for missing file")
	}

	_, err = LoadWithProfile("", "")
	if err == nil {
		t.Fatal("Expected error for empty config path")
	}
}

func TestLoadWithProfile_InvalidValues(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		expectError string
	}{
		{
			name: "negative sample rate",
			config: `
configs:
  default:
    audio:
      sample_rate: -1
`,
			expectError: "configs.default.audio.sample_rate must be > 0",
		},
		{
			name: "unknown backend",
			config: `
configs:
  default:
    audio:
      backend: jack
`,
			expectError: "configs.default.audio.backend must be one of",
		},
		{
			name: "bad sample width",
			config: `
configs:
  default:
    audio:
      sample_width: 8
`,
			expectError: "configs.default.audio.sample_width must be 1, 2, 3 or 4",
		},
		{
			name: "unknown overflow policy",
			config: `
configs:
  default: {}
  studio:
    pipeline:
      overflow: drop_newest
`,
			expectError: "configs.studio.pipeline.overflow",
		},
		{
			name: "negative duration",
			config: `
configs:
  default:
    capture:
      duration: -5s
`,
			expectError: "configs.default.capture.duration must be >= 0",
		},
		{
			name: "device below default",
			config: `
configs:
  default:
    audio:
      device: -2
`,
			expectError: "configs.default.audio.device must be >= -1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.config)

			_, err := LoadWithProfile(configFile, "")
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.expectError)
			}
			if !strings.Contains(err.Error(), tt.expectError) {
				t.Errorf("Expected error containing %q, got: %v", tt.expectError, err)
			}
		})
	}
}

func TestLoadWithProfile_ReportsEveryError(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    audio:
      sample_rate: -1
      channels: -2
`)

	_, err := LoadWithProfile(configFile, "")
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"audio.sample_rate", "audio.channels"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %s in error, got: %v", want, err)
		}
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
  default:
    audio:
      sample_rate: 48000
  studio:
    audio:
      sample_rate: 96000
`)

	if err := UpdateActiveConfig(configFile, "studio"); err != nil {
		t.Fatalf("UpdateActiveConfig failed: %v", err)
	}

	root, err := ReadRootConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to re-read config: %v", err)
	}
	if root.ActiveConfig != "studio" {
		t.Errorf("Expected active_config studio, got %s", root.ActiveConfig)
	}

	config, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Audio.SampleRate != 96000 {
		t.Errorf("Expected studio sample rate 96000, got %d", config.Audio.SampleRate)
	}

	if err := UpdateActiveConfig(configFile, "missing"); err == nil {
		t.Error("Expected error when activating an unknown profile")
	}
}

func TestProfileNames(t *testing.T) {
	root := &RootConfig{Configs: map[string]*Config{"studio": {}, "default": {}, "live": {}}}

	names := root.ProfileNames()
	want := []string{"default", "live", "studio"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, names)
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segcapture-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}
