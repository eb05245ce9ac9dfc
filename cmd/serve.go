package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/segcapture/internal/observe"
	"github.com/audiolibrelab/segcapture/internal/server"
	"github.com/audiolibrelab/segcapture/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the SegCapture web server to control recording over HTTP.

  POST /record   start a session (form fields: duration, device, output)
  POST /stop     stop the session and wait for its file
  GET  /status   current status, session and resolved configuration
  GET  /devices  input devices of the configured backend
  GET  /metrics  Prometheus metrics

The server will display the local network URL for easy access from other devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// /metrics on the control port needs the exporter installed
		if shutdownMetrics == nil {
			var err error
			if shutdownMetrics, err = observe.InitProvider("segcapture", version); err != nil {
				return fmt.Errorf("failed to initialize metrics: %w", err)
			}
		}

		srv := server.New(service.New(cfg, cfgFile), port)
		slog.Info("SegCapture web server starting", "port", port, "config", cfgFile)

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
