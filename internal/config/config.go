package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/session"
)

// EnvPrefix prefixes environment overrides, e.g. SEGCAPTURE_AUDIO_BACKEND
const EnvPrefix = "SEGCAPTURE"

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	// Directory anchors relative output paths of every profile
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// InheritanceInfo maps a dotted key to "inherited" or "profile-specific"
type InheritanceInfo struct {
	Profile string
	Keys    map[string]string
}

type AudioConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "portaudio", "pipewire", "synthetic", "auto"
	// Device is a device index; nil inherits, -1 is the backend default
	Device          *int          `mapstructure:"device" yaml:"device,omitempty"`
	SampleRate      int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameSize       int           `mapstructure:"frame_size" yaml:"frame_size"`
	Channels        int           `mapstructure:"channels" yaml:"channels"`
	SampleWidth     int           `mapstructure:"sample_width" yaml:"sample_width"`
	SegmentDuration time.Duration `mapstructure:"segment_duration" yaml:"segment_duration"`
}

type CaptureConfig struct {
	// Duration of zero records until stopped
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`
}

type PipelineConfig struct {
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout" yaml:"dequeue_timeout"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`
	QueueCapacity  int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	Overflow       string        `mapstructure:"overflow" yaml:"overflow"` // "block", "drop_oldest"
}

type OutputConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

func intPtr(v int) *int { return &v }

// Default returns the built-in configuration used when no file exists
func Default() *Config {
	f := audio.DefaultFormat()
	return &Config{
		Audio: AudioConfig{
			Backend:         string(audio.BackendTypeAuto),
			Device:          intPtr(audio.DefaultDevice),
			SampleRate:      f.SampleRate,
			FrameSize:       f.FrameSize,
			Channels:        f.Channels,
			SampleWidth:     f.SampleWidth,
			SegmentDuration: f.SegmentDuration,
		},
		Pipeline: PipelineConfig{
			DequeueTimeout: time.Second,
			JoinTimeout:    2 * time.Second,
			Overflow:       string(session.OverflowBlock),
		},
		Output: OutputConfig{
			Path: "output.wav",
		},
	}
}

// DefaultConfigFile is $HOME/.config/segcapture.yaml
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "segcapture.yaml"
	}
	return filepath.Join(home, ".config", "segcapture.yaml")
}

// LoadWithProfile resolves profile (or the active one) from configFile. The
// profile inherits unset keys from configs.default, which in turn inherits
// from the built-in defaults. Environment overrides apply last.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, err
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists || selected == nil {
		return nil, fmt.Errorf("configuration profile '%s' not found (available: %s)",
			configName, strings.Join(rootConfig.ProfileNames(), ", "))
	}

	base := Default()
	if configName != "default" {
		if defaultProfile := rootConfig.Configs["default"]; defaultProfile != nil {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	cfg := mergeConfigs(base, selected)
	cfg.Inheritance.Profile = configName

	if rootConfig.Globals != nil && rootConfig.Globals.Output.Directory != "" {
		dir := expandPath(rootConfig.Globals.Output.Directory)
		if !filepath.IsAbs(expandPath(cfg.Output.Path)) {
			cfg.Output.Path = filepath.Join(dir, cfg.Output.Path)
		}
	}
	cfg.Output.Path = expandPath(cfg.Output.Path)

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ReadRootConfig reads configFile without resolving any profile
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("config file %s defines no profiles under 'configs'", configFile)
	}

	var errs []error
	for _, name := range rootConfig.ProfileNames() {
		if p := rootConfig.Configs[name]; p != nil {
			errs = append(errs, p.validateSet("configs."+name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configFile, err)
	}
	return &rootConfig, nil
}

// ProfileNames returns the profile names in sorted order
func (r *RootConfig) ProfileNames() []string {
	names := make([]string, 0, len(r.Configs))
	for name := range r.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if !v.IsSet("configs." + newActiveConfig) {
		return fmt.Errorf("configuration profile '%s' not found in %s", newActiveConfig, configFile)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays the keys profile sets onto base. Zero values mean
// unset, except for the device index which is unset only when nil.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	if base.Audio.Device != nil {
		result.Audio.Device = intPtr(*base.Audio.Device)
	}
	result.Inheritance = &InheritanceInfo{Keys: make(map[string]string)}

	track := func(key string, set bool) {
		if set {
			result.Inheritance.Keys[key] = "profile-specific"
		} else {
			result.Inheritance.Keys[key] = "inherited"
		}
	}
	overlayString := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
		}
		track(key, v != "")
	}
	overlayInt := func(key string, dst *int, v int) {
		if v != 0 {
			*dst = v
		}
		track(key, v != 0)
	}
	overlayDuration := func(key string, dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
		track(key, v != 0)
	}

	if profile == nil {
		profile = &Config{}
	}

	overlayString("audio.backend", &result.Audio.Backend, profile.Audio.Backend)
	if profile.Audio.Device != nil {
		result.Audio.Device = intPtr(*profile.Audio.Device)
	}
	track("audio.device", profile.Audio.Device != nil)
	overlayInt("audio.sample_rate", &result.Audio.SampleRate, profile.Audio.SampleRate)
	overlayInt("audio.frame_size", &result.Audio.FrameSize, profile.Audio.FrameSize)
	overlayInt("audio.channels", &result.Audio.Channels, profile.Audio.Channels)
	overlayInt("audio.sample_width", &result.Audio.SampleWidth, profile.Audio.SampleWidth)
	overlayDuration("audio.segment_duration", &result.Audio.SegmentDuration, profile.Audio.SegmentDuration)

	overlayDuration("capture.duration", &result.Capture.Duration, profile.Capture.Duration)

	overlayDuration("pipeline.dequeue_timeout", &result.Pipeline.DequeueTimeout, profile.Pipeline.DequeueTimeout)
	overlayDuration("pipeline.join_timeout", &result.Pipeline.JoinTimeout, profile.Pipeline.JoinTimeout)
	overlayInt("pipeline.queue_capacity", &result.Pipeline.QueueCapacity, profile.Pipeline.QueueCapacity)
	overlayString("pipeline.overflow", &result.Pipeline.Overflow, profile.Pipeline.Overflow)

	overlayString("output.path", &result.Output.Path, profile.Output.Path)

	return &result
}

// ApplyEnv overrides cfg with SEGCAPTURE_* environment variables, e.g.
// SEGCAPTURE_CAPTURE_DURATION=10s
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var errs []error
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, envName(key), err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			d, err := time.ParseDuration(v.GetString(key))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, envName(key), err))
				return
			}
			*dst = d
		}
	}

	if v.IsSet("audio.backend") {
		cfg.Audio.Backend = v.GetString("audio.backend")
	}
	if v.IsSet("audio.device") {
		var device int
		setInt("audio.device", &device)
		cfg.Audio.Device = intPtr(device)
	}
	setInt("audio.sample_rate", &cfg.Audio.SampleRate)
	setInt("audio.frame_size", &cfg.Audio.FrameSize)
	setInt("audio.channels", &cfg.Audio.Channels)
	setInt("audio.sample_width", &cfg.Audio.SampleWidth)
	setDuration("audio.segment_duration", &cfg.Audio.SegmentDuration)
	setDuration("capture.duration", &cfg.Capture.Duration)
	setDuration("pipeline.dequeue_timeout", &cfg.Pipeline.DequeueTimeout)
	setDuration("pipeline.join_timeout", &cfg.Pipeline.JoinTimeout)
	setInt("pipeline.queue_capacity", &cfg.Pipeline.QueueCapacity)
	if v.IsSet("pipeline.overflow") {
		cfg.Pipeline.Overflow = v.GetString("pipeline.overflow")
	}
	if v.IsSet("output.path") {
		cfg.Output.Path = expandPath(v.GetString("output.path"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks a fully resolved configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.Backend != "" && !audio.ValidBackend(c.Audio.Backend) {
		errs = append(errs, fmt.Errorf("audio.backend must be one of %s, got: %s",
			strings.Join(audio.BackendNames(), ", "), c.Audio.Backend))
	}
	if c.Audio.Device != nil && *c.Audio.Device < audio.DefaultDevice {
		errs = append(errs, fmt.Errorf("audio.device must be >= -1, got: %d", *c.Audio.Device))
	}
	if err := c.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if c.Capture.Duration < 0 {
		errs = append(errs, fmt.Errorf("capture.duration must be >= 0, got: %s", c.Capture.Duration))
	}
	if c.Pipeline.DequeueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.dequeue_timeout must be > 0, got: %s", c.Pipeline.DequeueTimeout))
	}
	if c.Pipeline.JoinTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.join_timeout must be > 0, got: %s", c.Pipeline.JoinTimeout))
	}
	if c.Pipeline.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_capacity must be >= 0, got: %d", c.Pipeline.QueueCapacity))
	}
	if _, err := session.ParseOverflowPolicy(c.Pipeline.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.overflow: %w", err))
	}
	if c.Output.Path == "" {
		errs = append(errs, fmt.Errorf("output.path is required"))
	}
	return errors.Join(errs...)
}

// validateSet checks only the keys a profile sets, prefixing errors with
// the profile's path in the file
func (c *Config) validateSet(prefix string) error {
	var errs []error
	positive := func(key string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s.%s must be > 0, got: %d", prefix, key, v))
		}
	}
	nonNegative := func(key string, d time.Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s.%s must be >= 0, got: %s", prefix, key, d))
		}
	}

	if c.Audio.Backend != "" && !audio.ValidBackend(c.Audio.Backend) {
		errs = append(errs, fmt.Errorf("%s.audio.backend must be one of %s, got: %s",
			prefix, strings.Join(audio.BackendNames(), ", "), c.Audio.Backend))
	}
	if c.Audio.Device != nil && *c.Audio.Device < audio.DefaultDevice {
		errs = append(errs, fmt.Errorf("%s.audio.device must be >= -1, got: %d", prefix, *c.Audio.Device))
	}
	positive("audio.sample_rate", c.Audio.SampleRate)
	positive("audio.frame_size", c.Audio.FrameSize)
	positive("audio.channels", c.Audio.Channels)
	if w := c.Audio.SampleWidth; w != 0 && (w < 1 || w > 4) {
		errs = append(errs, fmt.Errorf("%s.audio.sample_width must be 1, 2, 3 or 4, got: %d", prefix, w))
	}
	nonNegative("audio.segment_duration", c.Audio.SegmentDuration)
	nonNegative("capture.duration", c.Capture.Duration)
	nonNegative("pipeline.dequeue_timeout", c.Pipeline.DequeueTimeout)
	nonNegative("pipeline.join_timeout", c.Pipeline.JoinTimeout)
	positive("pipeline.queue_capacity", c.Pipeline.QueueCapacity)
	if c.Pipeline.Overflow != "" {
		if _, err := session.ParseOverflowPolicy(c.Pipeline.Overflow); err != nil {
			errs = append(errs, fmt.Errorf("%s.pipeline.overflow: %w", prefix, err))
		}
	}
	return errors.Join(errs...)
}

// Format returns the audio format of a session
func (c *Config) Format() audio.Format {
	return audio.Format{
		SampleRate:      c.Audio.SampleRate,
		FrameSize:       c.Audio.FrameSize,
		Channels:        c.Audio.Channels,
		SampleWidth:     c.Audio.SampleWidth,
		SegmentDuration: c.Audio.SegmentDuration,
	}
}

// DeviceIndex is the configured device, or the backend default
func (c *Config) DeviceIndex() int {
	if c.Audio.Device == nil {
		return audio.DefaultDevice
	}
	return *c.Audio.Device
}

// SessionConfig converts the configuration into session settings
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Format:         c.Format(),
		DeviceIndex:    c.DeviceIndex(),
		DequeueTimeout: c.Pipeline.DequeueTimeout,
		JoinTimeout:    c.Pipeline.JoinTimeout,
		QueueCapacity:  c.Pipeline.QueueCapacity,
		Overflow:       session.OverflowPolicy(c.Pipeline.Overflow),
		OutputPath:     c.Output.Path,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
