package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/config"
	"github.com/audiolibrelab/segcapture/internal/play"
	"github.com/audiolibrelab/segcapture/internal/session"
	"github.com/audiolibrelab/segcapture/internal/wav"
)

// progressInterval is how often Record polls the running flag
const progressInterval = 100 * time.Millisecond

// Service represents the core segcapture service interface
type Service interface {
	// Recording operations
	Record(ctx context.Context, opts RecordOptions, progress ProgressFunc) (*RecordingResult, error)
	GetRecordingStatus() (RecordingStatus, *RecordingSession)

	// Device operations
	ListDevices() ([]DeviceInfo, error)

	// Playback and information operations
	Play(ctx context.Context, path string) error
	GetFileInfo(path string) (*wav.Info, error)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config
	GetLastError() string
}

// RecordingStatus mirrors the lifecycle state of the current session
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusRecording RecordingStatus = "RECORDING"
	StatusStopping  RecordingStatus = "STOPPING"
	StatusError     RecordingStatus = "ERROR"
)

// RecordingSession contains information about the current recording session
type RecordingSession struct {
	StartTime   time.Time     `json:"start_time"`
	Elapsed     time.Duration `json:"elapsed"`
	Limit       time.Duration `json:"limit"`
	OutputFile  string        `json:"output_file"`
	DeviceIndex int           `json:"device_index"`
}

// RecordOptions override the configuration for one recording. Nil fields
// keep the configured value.
type RecordOptions struct {
	Device   *int
	Duration *time.Duration
	Output   string
}

// ProgressFunc is called roughly every 100ms while a session runs
type ProgressFunc func(elapsed, limit time.Duration)

// RecordingResult describes the file a recording produced
type RecordingResult struct {
	OutputPath string        `json:"output_path"`
	Segments   int           `json:"segments"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
}

// DeviceInfo is one input device of the configured backend
type DeviceInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

var _ Service = (*SegCaptureService)(nil)

// SegCaptureService is the main service implementation
type SegCaptureService struct {
	cfg        *config.Config
	configFile string

	newDevice   func(backend string) (audio.Device, error)
	sessionOpts []session.Option
	player      *play.Player

	mu      sync.Mutex
	current *session.Controller
	started time.Time
	limit   time.Duration
	output  string
	device  int

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new segcapture service instance
func New(cfg *config.Config, configFile string, opts ...session.Option) *SegCaptureService {
	if cfg == nil {
		cfg = config.Default()
	}
	return &SegCaptureService{
		cfg:         cfg,
		configFile:  configFile,
		newDevice:   audio.NewDevice,
		sessionOpts: opts,
		player:      play.New(),
	}
}

// Record runs one session to completion: until the duration limit passes,
// the device fails or ctx ends. Cancelling ctx stops the session gracefully;
// whatever was captured is still written.
func (s *SegCaptureService) Record(ctx context.Context, opts RecordOptions, progress ProgressFunc) (*RecordingResult, error) {
	s.clearLastError()

	sc := s.cfg.SessionConfig()
	limit := s.cfg.Capture.Duration
	if opts.Device != nil {
		sc.DeviceIndex = *opts.Device
	}
	if opts.Duration != nil {
		limit = *opts.Duration
	}
	if opts.Output != "" {
		sc.OutputPath = opts.Output
	}
	if limit < 0 {
		return nil, fmt.Errorf("duration must be >= 0, got %s", limit)
	}

	dev, err := s.newDevice(s.cfg.Audio.Backend)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to create audio device: %v", err))
		return nil, err
	}

	sessionOpts := append([]session.Option{
		session.WithLogger(slog.Default().With("component", "session")),
	}, s.sessionOpts...)
	ctl, err := session.New(sc, dev, sessionOpts...)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to prepare recording: %v", err))
		return nil, err
	}
	defer ctl.Stop()

	// The session ends through Stop so the queue drains before the flush.
	if err := ctl.Start(context.WithoutCancel(ctx), limit); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return nil, err
	}

	s.mu.Lock()
	s.current = ctl
	s.started = time.Now()
	s.limit = limit
	s.output = sc.OutputPath
	s.device = sc.DeviceIndex
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	slog.Debug("Recording started", "device", sc.DeviceIndex, "limit", limit, "output", sc.OutputPath)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
poll:
	for ctl.Running() {
		select {
		case <-ctx.Done():
			slog.Info("Recording interrupted", "reason", context.Cause(ctx))
			break poll
		case <-ctl.Done():
			break poll
		case <-ticker.C:
			if progress != nil {
				progress(ctl.Elapsed(), limit)
			}
		}
	}

	ctl.Stop()
	res := ctl.Result()

	if res.OutputPath == "" {
		err := res.Err()
		if err == nil {
			err = session.ErrNoAudio
		} else if res.Bytes == 0 {
			err = errors.Join(session.ErrNoAudio, err)
		}
		s.setLastError(fmt.Sprintf("Recording failed: %v", err))
		return nil, err
	}
	if res.CaptureErr != nil {
		s.setLastError(fmt.Sprintf("Recording ended early: %v", res.CaptureErr))
		slog.Warn("Recording ended early, captured audio was saved", "error", res.CaptureErr)
	}

	return &RecordingResult{
		OutputPath: res.OutputPath,
		Segments:   res.Segments,
		Bytes:      res.Bytes,
		Duration:   sc.Format.Duration(int(res.Bytes)),
	}, nil
}

// GetRecordingStatus returns the current recording status and session info
func (s *SegCaptureService) GetRecordingStatus() (RecordingStatus, *RecordingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		if s.GetLastError() != "" {
			return StatusError, nil
		}
		return StatusStandby, nil
	}

	svcSession := &RecordingSession{
		StartTime:   s.started,
		Elapsed:     s.current.Elapsed(),
		Limit:       s.limit,
		OutputFile:  s.output,
		DeviceIndex: s.device,
	}

	switch s.current.State() {
	case session.StateRunning:
		return StatusRecording, svcSession
	case session.StateStopping:
		return StatusStopping, svcSession
	default:
		return StatusStandby, svcSession
	}
}

// ListDevices returns the input devices of the configured backend sorted by
// index
func (s *SegCaptureService) ListDevices() ([]DeviceInfo, error) {
	dev, err := s.newDevice(s.cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("initialize audio device: %w", err)
	}
	defer func() {
		if err := dev.Terminate(); err != nil {
			slog.Warn("Failed to release audio device", "error", err)
		}
	}()

	devices, err := dev.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for index, name := range devices {
		infos = append(infos, DeviceInfo{Index: index, Name: name})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Index < infos[j].Index
	})
	return infos, nil
}

// Play plays a recorded file, the configured output when path is empty
func (s *SegCaptureService) Play(ctx context.Context, path string) error {
	if path == "" {
		path = s.cfg.Output.Path
	}
	return s.player.Play(ctx, path)
}

// GetFileInfo reads the header of a recorded file, the configured output when
// path is empty
func (s *SegCaptureService) GetFileInfo(path string) (*wav.Info, error) {
	if path == "" {
		path = s.cfg.Output.Path
	}
	return wav.ReadInfo(path)
}

// LoadProfile loads a new configuration profile
func (s *SegCaptureService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return fmt.Errorf("cannot change profile while recording")
	}
	s.cfg = newCfg
	return nil
}

// GetConfig returns the current configuration
func (s *SegCaptureService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *SegCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *SegCaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *SegCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
