package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/segcapture/internal/service"
)

// stopTimeout bounds how long /stop waits for the recording to be written
const stopTimeout = 10 * time.Second

// Server exposes remote control of recording sessions over HTTP
type Server struct {
	service service.Service
	port    string

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	lastResult *service.RecordingResult
	lastError  string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status     string                    `json:"status"`
	Message    string                    `json:"message,omitempty"`
	Session    *service.RecordingSession `json:"session,omitempty"`
	LastResult *service.RecordingResult  `json:"last_result,omitempty"`
	Config     *ResolvedConfigInfo       `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for clients
type ResolvedConfigInfo struct {
	ActiveProfile   string `json:"active_profile,omitempty"`
	Backend         string `json:"backend"`
	Device          int    `json:"device"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	SampleWidth     int    `json:"sample_width"`
	SegmentDuration string `json:"segment_duration"`
	OutputPath      string `json:"output_path"`
}

// DevicesResponse represents the JSON response for devices endpoint
type DevicesResponse struct {
	Devices []service.DeviceInfo `json:"devices"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	Error   string                   `json:"error,omitempty"`
	Result  *service.RecordingResult `json:"result,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, port string) *Server {
	return &Server{
		service: svc,
		port:    port,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/record", s.handleRecord)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/api/latest-recording", s.handleLatestRecording)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled, then stops any running recording
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting segcapture web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if _, err := s.stopRecording(); err != nil && !errors.Is(err, errNotRecording) {
		slog.Warn("Recording did not stop cleanly", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

var (
	errAlreadyRecording = errors.New("a recording is already running")
	errNotRecording     = errors.New("no recording is running")
)

// startRecording runs svc.Record in the background
func (s *Server) startRecording(opts service.RecordOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errAlreadyRecording
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		res, err := s.service.Record(ctx, opts, nil)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancel = nil
		if err != nil {
			s.lastError = err.Error()
			slog.Error("Remote recording failed", "error", err)
			return
		}
		s.lastError = ""
		s.lastResult = res
		slog.Info("Remote recording saved", "path", res.OutputPath, "bytes", res.Bytes)
	}()
	return nil
}

// stopRecording ends the running recording and waits for its file
func (s *Server) stopRecording() (*service.RecordingResult, error) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil, errNotRecording
	}

	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		return nil, fmt.Errorf("recording did not stop within %s", stopTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastError != "" {
		return nil, errors.New(s.lastError)
	}
	return s.lastResult, nil
}

// handleRecord starts a recording (STANDBY -> RECORDING)
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid form data: %v", err))
		return
	}

	var opts service.RecordOptions
	if v := r.FormValue("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid duration: %s", v))
			return
		}
		opts.Duration = &d
	}
	if v := r.FormValue("device"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid device index: %s", v))
			return
		}
		opts.Device = &n
	}
	opts.Output = r.FormValue("output")

	if err := s.startRecording(opts); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "start_recording")
		return
	}

	writeJSON(w, http.StatusAccepted, GenericResponse{Success: true, Message: "Recording started"})
}

// handleStop stops the running recording and reports the written file
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	res, err := s.stopRecording()
	switch {
	case errors.Is(err, errNotRecording):
		s.sendErrorResponse(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording stopped", Result: res})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, session := s.service.GetRecordingStatus()

	s.mu.Lock()
	last := s.lastResult
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:     string(status),
		Message:    s.generateStatusMessage(status, session),
		Session:    session,
		LastResult: last,
		Config:     s.getResolvedConfigInfo(),
	})
}

// handleDevices lists the input devices of the configured backend
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	devices, err := s.service.ListDevices()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list devices: %v", err), "operation", "list_devices")
		return
	}
	writeJSON(w, http.StatusOK, DevicesResponse{Devices: devices})
}

// handleLatestRecording returns the WAV header of the last recording
func (s *Server) handleLatestRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	last := s.lastResult
	s.mu.Unlock()
	if last == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "No recording yet")
		return
	}

	info, err := s.service.GetFileInfo(last.OutputPath)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read recording: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path": last.OutputPath,
		"info": info,
	})
}

func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	cfg := s.service.GetConfig()
	info := &ResolvedConfigInfo{
		Backend:         cfg.Audio.Backend,
		Device:          cfg.DeviceIndex(),
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		SampleWidth:     cfg.Audio.SampleWidth,
		SegmentDuration: cfg.Audio.SegmentDuration.String(),
		OutputPath:      cfg.Output.Path,
	}
	if cfg.Inheritance != nil {
		info.ActiveProfile = cfg.Inheritance.Profile
	}
	return info
}

func (s *Server) generateStatusMessage(status service.RecordingStatus, session *service.RecordingSession) string {
	switch status {
	case service.StatusRecording:
		if session != nil && session.Limit > 0 {
			return fmt.Sprintf("Recording in progress - %.1fs / %s", session.Elapsed.Seconds(), session.Limit)
		}
		return "Recording in progress"
	case service.StatusStopping:
		return "Saving recording"
	case service.StatusError:
		if errorDetails := s.service.GetLastError(); errorDetails != "" {
			return errorDetails
		}
		return "An error occurred during the operation"
	default:
		return ""
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
