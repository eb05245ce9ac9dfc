package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PipeWire implements Device by streaming raw PCM out of pw-record
type PipeWire struct {
	// listPorts is swapped in tests
	listPorts func() ([]string, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	pw := &PipeWire{}
	pw.listPorts = pw.ListPorts
	return pw
}

// Init checks that the PipeWire tools are installed
func (pw *PipeWire) Init() error {
	for _, tool := range []string{"pw-record", "pw-link"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("PipeWire backend requires %s: %w", tool, err)
		}
	}
	return nil
}

// Terminate is a no-op; every stream owns its own pw-record process
func (pw *PipeWire) Terminate() error {
	return nil
}

// ListPorts returns all PipeWire output ports, i.e. the ports audio can be
// captured from
func (pw *PipeWire) ListPorts() ([]string, error) {
	cmd := exec.Command("pw-link", "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	var ports []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports, nil
}

// InputDevices returns one entry per node that exposes output ports
func (pw *PipeWire) InputDevices() (map[int]string, error) {
	ports, err := pw.listPorts()
	if err != nil {
		return nil, err
	}

	devices := make(map[int]string)
	for i, node := range nodesFromPorts(ports) {
		devices[i] = node
	}
	return devices, nil
}

// nodesFromPorts reduces "node:port" lines to unique node names in first-seen
// order. Node names may themselves contain colons, so the port is split off
// from the right.
func nodesFromPorts(ports []string) []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, port := range ports {
		idx := strings.LastIndex(port, ":")
		if idx <= 0 {
			continue
		}
		node := strings.TrimSpace(port[:idx])
		if !seen[node] {
			seen[node] = true
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// OpenStream starts pw-record writing raw samples to a pipe
func (pw *PipeWire) OpenStream(cfg StreamConfig) (Stream, error) {
	target := ""
	if cfg.DeviceIndex != DefaultDevice {
		devices, err := pw.InputDevices()
		if err != nil {
			return nil, err
		}
		name, ok := devices[cfg.DeviceIndex]
		if !ok {
			return nil, fmt.Errorf("PipeWire node index %d not found", cfg.DeviceIndex)
		}
		target = name
	}

	args, err := recordArgs(cfg.Format, target)
	if err != nil {
		return nil, err
	}

	slog.Debug("Starting pw-record", "command", "pw-record "+strings.Join(args, " "))
	cmd := exec.Command("pw-record", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-record: %w", err)
	}

	return &pipeWireStream{
		cmd:    cmd,
		stdout: stdout,
		frame:  cfg.Format.FrameBytes(),
	}, nil
}

// recordArgs builds the pw-record command line for a format
func recordArgs(f Format, target string) ([]string, error) {
	formats := map[int]string{1: "u8", 2: "s16", 3: "s24", 4: "s32"}
	sampleFormat, ok := formats[f.SampleWidth]
	if !ok {
		return nil, fmt.Errorf("unsupported sample width for pw-record: %d", f.SampleWidth)
	}

	args := []string{
		"--raw",
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", sampleFormat,
		"--latency", strconv.Itoa(f.FrameSize) + "/" + strconv.Itoa(f.SampleRate),
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	return append(args, "-"), nil
}

type pipeWireStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frame  int

	closeOnce sync.Once
	closeErr  error
}

func (s *pipeWireStream) Read() ([]byte, error) {
	buf := make([]byte, s.frame)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return nil, fmt.Errorf("read frame from pw-record: %w", err)
	}
	return buf, nil
}

// Close interrupts pw-record and waits for it, killing it after a timeout
func (s *pipeWireStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = stopProcess(s.cmd, 5*time.Second)
	})
	return s.closeErr
}

func stopProcess(cmd *exec.Cmd, timeout time.Duration) error {
	if cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt pw-record, killing", "error", err)
		_ = cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Exiting on our own interrupt is the normal path
			slog.Debug("pw-record exited", "state", exitErr.ProcessState.String())
			return nil
		}
		return err
	case <-time.After(timeout):
		slog.Warn("pw-record did not exit within timeout, force killing")
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
