package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/segcapture/internal/service"
	"github.com/audiolibrelab/segcapture/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record audio from an input device",
	Long: `Record audio from an input device until the duration limit passes or
Ctrl+C is pressed. Segments are collected in memory and written to a single
WAV file when the session ends.

Without --device and with an interactive terminal you are asked to pick a
device from the list of inputs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)

		var opts service.RecordOptions
		if cmd.Flags().Changed("device") {
			device, _ := cmd.Flags().GetInt("device")
			opts.Device = &device
		} else if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			devices, err := svc.ListDevices()
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			device, err := promptDevice(os.Stdin, os.Stdout, devices, cfg.DeviceIndex())
			if err != nil {
				return err
			}
			opts.Device = &device
		}
		if cmd.Flags().Changed("duration") {
			duration, _ := cmd.Flags().GetDuration("duration")
			opts.Duration = &duration
		}
		opts.Output, _ = cmd.Flags().GetString("output")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Debug("Record command started", "device", opts.Device, "duration", opts.Duration, "output", opts.Output)
		fmt.Println("Recording... Press Ctrl+C to stop")

		res, err := svc.Record(ctx, opts, func(elapsed, limit time.Duration) {
			fmt.Printf("\r%s", progressLine(elapsed, limit))
		})
		fmt.Println()
		if err != nil {
			if errors.Is(err, session.ErrNoAudio) {
				return fmt.Errorf("recording failed, no audio captured: %w", err)
			}
			return fmt.Errorf("recording failed: %w", err)
		}

		fmt.Printf("Saved %s (%d segments, %s)\n", res.OutputPath, res.Segments, res.Duration.Round(time.Millisecond))
		return nil
	},
}

// progressLine renders "Recording: 1.2s / 10s (remaining: 8.8s)"
func progressLine(elapsed, limit time.Duration) string {
	if limit <= 0 {
		return fmt.Sprintf("Recording: %.1fs", elapsed.Seconds())
	}
	remaining := limit - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("Recording: %.1fs / %s (remaining: %.1fs)", elapsed.Seconds(), limit, remaining.Seconds())
}

// promptDevice lists devices on w and reads an index from r. An empty answer
// selects fallback.
func promptDevice(r io.Reader, w io.Writer, devices []service.DeviceInfo, fallback int) (int, error) {
	if len(devices) == 0 {
		return 0, fmt.Errorf("no input devices found")
	}

	fmt.Fprintln(w, "Available input devices:")
	valid := make(map[int]bool, len(devices))
	for _, d := range devices {
		fmt.Fprintf(w, "  %d: %s\n", d.Index, d.Name)
		valid[d.Index] = true
	}

	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprintf(w, "Select device index [%d]: ", fallback)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, fmt.Errorf("read device selection: %w", err)
			}
			return fallback, nil
		}

		answer := strings.TrimSpace(scanner.Text())
		if answer == "" {
			return fallback, nil
		}
		index, err := strconv.Atoi(answer)
		if err == nil && valid[index] {
			return index, nil
		}
		fmt.Fprintf(w, "Invalid device %q\n", answer)
	}
}

func init() {
	recordCmd.Flags().IntP("device", "d", -1, "input device index (overrides config, -1 = backend default)")
	recordCmd.Flags().DurationP("duration", "t", 0, "stop after this long, e.g. 30s (0 = until Ctrl+C)")
	recordCmd.Flags().StringP("output", "o", "", "output WAV path (overrides config)")
}
