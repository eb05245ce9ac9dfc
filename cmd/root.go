package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/config"
	"github.com/audiolibrelab/segcapture/internal/observe"
)

// version is overridden at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	backend      string
	metricsAddr  string
	verboseLevel int

	shutdownMetrics func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "segcapture",
	Short: "Segmented audio capture to WAV",
	Long: `SegCapture records audio from an input device in fixed-duration segments.
A capture stage reads frames from the device and queues segments, a
processing stage consumes them and the collected audio is written to a
WAV file when the session ends.

A session ends when its duration limit passes, when the device fails or
when you press Ctrl+C. Captured audio is always written.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		// .env is optional and only feeds SEGCAPTURE_* overrides
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to load .env file", "error", err)
		}

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if backend != "" {
			if !audio.ValidBackend(backend) {
				return fmt.Errorf("unknown audio backend %q (valid: %v)", backend, audio.BackendNames())
			}
			cfg.Audio.Backend = backend
		}

		if metricsAddr != "" {
			shutdownMetrics, err = observe.InitProvider("segcapture", version)
			if err != nil {
				return fmt.Errorf("failed to initialize metrics: %w", err)
			}
			if err := observe.Serve(cmd.Context(), metricsAddr); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownMetrics == nil {
			return nil
		}
		return shutdownMetrics(context.Background())
	},
}

// loadConfig reads the config file. Without --config a missing default
// file falls back to the built-in defaults.
func loadConfig() (*config.Config, error) {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = config.DefaultConfigFile()
	}

	if _, err := os.Stat(cfgFile); err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No config file, using built-in defaults", "path", cfgFile)
		c := config.Default()
		if err := config.ApplyEnv(c); err != nil {
			return nil, err
		}
		return c, c.Validate()
	}

	return config.LoadWithProfile(cfgFile, profile)
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/segcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "audio backend: auto, portaudio, pipewire, synthetic (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=backend tracing")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
