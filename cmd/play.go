package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/segcapture/internal/service"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a recorded WAV file",
	Long: `Play a recorded WAV file with the first available system player
(vlc, mpv, ffplay or aplay). Without an argument the configured output.path is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}

		svc := service.New(cfg, cfgFile)
		if err := svc.Play(cmd.Context(), path); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
