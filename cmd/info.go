package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/segcapture/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show the header of a recorded WAV file",
	Long:  `Display sample rate, channels, sample width, duration and data size of a WAV file. Without an argument the configured output.path is used.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Output.Path
		if len(args) == 1 {
			path = args[0]
		}

		svc := service.New(cfg, cfgFile)
		info, err := svc.GetFileInfo(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		fmt.Printf("=== %s ===\n", path)
		fmt.Printf("sample_rate: %d Hz\n", info.SampleRate)
		fmt.Printf("channels: %d\n", info.Channels)
		fmt.Printf("sample_width: %d bytes (%d-bit)\n", info.BitsPerSample/8, info.BitsPerSample)
		fmt.Printf("samples: %d\n", info.NumSamples)
		fmt.Printf("data_size: %d bytes\n", info.DataSize)
		fmt.Printf("duration: %s\n", info.Duration)
		return nil
	},
}
