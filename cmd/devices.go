package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/segcapture/internal/audio"
	"github.com/audiolibrelab/segcapture/internal/service"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available input devices",
	Long: `List the input devices of the configured audio backend. Use the index
with 'segcapture record --device N' or audio.device in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)

		devices, err := svc.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		fmt.Printf("Input devices (%s backend, %d found):\n", cfg.Audio.Backend, len(devices))
		for _, d := range devices {
			fmt.Printf("  %d. %s\n", d.Index, d.Name)
		}

		fmt.Printf("\nAvailable backends: %v\n", audio.GetAvailableBackends())
		return nil
	},
}
