package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeSynthetic BackendType = "synthetic"
	BackendTypeAuto      BackendType = "auto"
)

// NewDevice creates the device subsystem for the named backend
func NewDevice(backend string) (Device, error) {
	switch determineBackend(backend) {
	case BackendTypePortAudio:
		return NewPortAudio(), nil
	case BackendTypePipeWire:
		return NewPipeWire(), nil
	case BackendTypeSynthetic:
		return NewSynthetic(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend: %q (valid: %s)", backend, strings.Join(BackendNames(), ", "))
	}
}

// determineBackend resolves "auto" and normalizes case
func determineBackend(backend string) BackendType {
	switch BackendType(strings.ToLower(strings.TrimSpace(backend))) {
	case BackendTypePortAudio:
		return BackendTypePortAudio
	case BackendTypePipeWire:
		return BackendTypePipeWire
	case BackendTypeSynthetic:
		return BackendTypeSynthetic
	case BackendTypeAuto, "":
		// PortAudio covers ALSA, CoreAudio and WASAPI
		return BackendTypePortAudio
	}
	return ""
}

// ValidBackend reports whether name selects a known backend
func ValidBackend(name string) bool {
	return determineBackend(name) != ""
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypePortAudio, BackendTypeSynthetic}
	if _, err := exec.LookPath("pw-record"); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	return backends
}

// BackendNames lists the names ValidBackend accepts
func BackendNames() []string {
	return []string{
		string(BackendTypeAuto),
		string(BackendTypePortAudio),
		string(BackendTypePipeWire),
		string(BackendTypeSynthetic),
	}
}
