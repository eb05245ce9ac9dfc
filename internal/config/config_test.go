package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := Default()

	// Profile only overrides some settings
	profile := &Config{
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   2,
		},
		Capture: CaptureConfig{
			Duration: 10 * time.Second,
		},
		Output: OutputConfig{
			Path: "~/Audio/studio.wav",
		},
	}

	result := mergeConfigs(base, profile)

	if result.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", result.Audio.SampleRate)
	}
	if result.Audio.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", result.Audio.Channels)
	}
	if result.Audio.FrameSize != 1024 {
		t.Errorf("Expected inherited frame size 1024, got %d", result.Audio.FrameSize)
	}
	if result.Audio.SegmentDuration != 2*time.Second {
		t.Errorf("Expected inherited segment duration 2s, got %s", result.Audio.SegmentDuration)
	}
	if result.Capture.Duration != 10*time.Second {
		t.Errorf("Expected capture duration 10s, got %s", result.Capture.Duration)
	}
	if result.Pipeline.JoinTimeout != 2*time.Second {
		t.Errorf("Expected inherited join timeout 2s, got %s", result.Pipeline.JoinTimeout)
	}
	if result.Output.Path != "~/Audio/studio.wav" {
		t.Errorf("Expected profile output path, got %s", result.Output.Path)
	}

	// Inheritance tracking
	if result.Inheritance == nil {
		t.Fatal("Expected inheritance info to be set")
	}
	if result.Inheritance.Keys["audio.sample_rate"] != "profile-specific" {
		t.Errorf("Expected sample_rate to be profile-specific, got %s", result.Inheritance.Keys["audio.sample_rate"])
	}
	if result.Inheritance.Keys["audio.frame_size"] != "inherited" {
		t.Errorf("Expected frame_size to be inherited, got %s", result.Inheritance.Keys["audio.frame_size"])
	}
	if result.Inheritance.Keys["audio.device"] != "inherited" {
		t.Errorf("Expected device to be inherited, got %s", result.Inheritance.Keys["audio.device"])
	}
}

func TestMergeConfigs_DeviceZeroIsExplicit(t *testing.T) {
	base := Default()
	zero := 0
	profile := &Config{Audio: AudioConfig{Device: &zero}}

	result := mergeConfigs(base, profile)

	if result.DeviceIndex() != 0 {
		t.Errorf("Expected device 0, got %d", result.DeviceIndex())
	}
	if result.Inheritance.Keys["audio.device"] != "profile-specific" {
		t.Errorf("Expected device to be profile-specific")
	}

	// The result must not alias the profile's pointer
	zero = 5
	if result.DeviceIndex() != 0 {
		t.Errorf("Merged device changed with the profile, got %d", result.DeviceIndex())
	}
}

func TestMergeConfigs_EmptyProfile(t *testing.T) {
	base := Default()
	result := mergeConfigs(base, nil)

	if result.Audio.SampleRate != base.Audio.SampleRate {
		t.Errorf("Expected base sample rate %d, got %d", base.Audio.SampleRate, result.Audio.SampleRate)
	}
	if result.Output.Path != base.Output.Path {
		t.Errorf("Expected base output path %s, got %s", base.Output.Path, result.Output.Path)
	}
	if result.DeviceIndex() != -1 {
		t.Errorf("Expected default device -1, got %d", result.DeviceIndex())
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	f := cfg.Format()
	if f.SegmentBytes() != 192000 {
		t.Errorf("Expected 192000 byte segments, got %d", f.SegmentBytes())
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.QueueCapacity = 8
	cfg.Pipeline.Overflow = "drop_oldest"
	cfg.Output.Path = "/tmp/take.wav"

	sc := cfg.SessionConfig()
	if sc.DeviceIndex != -1 {
		t.Errorf("Expected default device, got %d", sc.DeviceIndex)
	}
	if sc.QueueCapacity != 8 || sc.Overflow != "drop_oldest" {
		t.Errorf("Queue settings not carried over: %+v", sc)
	}
	if sc.OutputPath != "/tmp/take.wav" {
		t.Errorf("Expected output path /tmp/take.wav, got %s", sc.OutputPath)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Session config should be valid: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestGlobalsOutputDirectory(t *testing.T) {
	configContent := `
active_config: studio
globals:
  output:
    directory: /tmp/recordings

configs:
  default:
    output:
      path: take.wav
  studio:
    audio:
      sample_rate: 44100
  absolute:
    output:
      path: /var/audio/abs.wav
`
	configFile := createTempConfig(t, configContent)

	config, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Output.Path != "/tmp/recordings/take.wav" {
		t.Errorf("Expected path under globals directory, got %s", config.Output.Path)
	}
	if config.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", config.Audio.SampleRate)
	}

	// Absolute profile paths are left alone
	config, err = LoadWithProfile(configFile, "absolute")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Output.Path != "/var/audio/abs.wav" {
		t.Errorf("Expected absolute path untouched, got %s", config.Output.Path)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SEGCAPTURE_AUDIO_BACKEND", "synthetic")
	t.Setenv("SEGCAPTURE_AUDIO_DEVICE", "3")
	t.Setenv("SEGCAPTURE_CAPTURE_DURATION", "90s")
	t.Setenv("SEGCAPTURE_PIPELINE_QUEUE_CAPACITY", "16")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Audio.Backend != "synthetic" {
		t.Errorf("Expected backend synthetic, got %s", cfg.Audio.Backend)
	}
	if cfg.DeviceIndex() != 3 {
		t.Errorf("Expected device 3, got %d", cfg.DeviceIndex())
	}
	if cfg.Capture.Duration != 90*time.Second {
		t.Errorf("Expected duration 90s, got %s", cfg.Capture.Duration)
	}
	if cfg.Pipeline.QueueCapacity != 16 {
		t.Errorf("Expected queue capacity 16, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("Unset variables must not change the config, sample rate %d", cfg.Audio.SampleRate)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("SEGCAPTURE_AUDIO_SAMPLE_RATE", "fast")
	t.Setenv("SEGCAPTURE_PIPELINE_JOIN_TIMEOUT", "soon")

	err := ApplyEnv(Default())
	if err == nil {
		t.Fatal("Expected error for invalid environment values")
	}
	if !contains(err.Error(), "SEGCAPTURE_AUDIO_SAMPLE_RATE") {
		t.Errorf("Expected error naming the variable, got: %v", err)
	}
	if !contains(err.Error(), "SEGCAPTURE_PIPELINE_JOIN_TIMEOUT") {
		t.Errorf("Expected every bad variable reported, got: %v", err)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && containsSubstring(s, substr)
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
