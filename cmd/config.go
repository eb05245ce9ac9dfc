package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/segcapture/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage SegCapture configuration profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Long: `Show the resolved configuration with inheritance indicators. Values marked
[inherited] come from configs.default or the built-in defaults, values marked
[profile-specific] are set by the selected profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		}

		name := "built-in defaults"
		if cfg.Inheritance != nil {
			name = cfg.Inheritance.Profile
		}
		fmt.Printf("=== RESOLVED CONFIGURATION (%s) ===\n", name)

		section := ""
		for _, kv := range resolvedValues(cfg) {
			if s := sectionOf(kv.key); s != section {
				section = s
				fmt.Printf("\n[%s]\n", section)
			}
			fmt.Printf("%s: %s %s\n", kv.key[len(section)+1:], kv.value, inheritanceIndicator(cfg, kv.key))
		}
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <profile>",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active configuration set to '%s' in %s\n", args[0], cfgFile)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := config.ReadRootConfig(cfgFile)
		if err != nil {
			return err
		}
		for _, name := range root.ProfileNames() {
			marker := " "
			if name == root.ActiveConfig {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}

		fmt.Printf("Opening %s with %s...\n", cfgFile, editor)
		c := exec.CommandContext(cmd.Context(), editor, cfgFile)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor %s failed: %w", editor, err)
		}

		// Catch mistakes right away instead of on the next record
		if _, err := config.LoadWithProfile(cfgFile, profile); err != nil {
			return fmt.Errorf("edited config is invalid: %w", err)
		}
		return nil
	},
}

type keyValue struct {
	key   string
	value string
}

func resolvedValues(c *config.Config) []keyValue {
	return []keyValue{
		{"audio.backend", c.Audio.Backend},
		{"audio.device", strconv.Itoa(c.DeviceIndex())},
		{"audio.sample_rate", strconv.Itoa(c.Audio.SampleRate)},
		{"audio.frame_size", strconv.Itoa(c.Audio.FrameSize)},
		{"audio.channels", strconv.Itoa(c.Audio.Channels)},
		{"audio.sample_width", strconv.Itoa(c.Audio.SampleWidth)},
		{"audio.segment_duration", c.Audio.SegmentDuration.String()},
		{"capture.duration", c.Capture.Duration.String()},
		{"pipeline.dequeue_timeout", c.Pipeline.DequeueTimeout.String()},
		{"pipeline.join_timeout", c.Pipeline.JoinTimeout.String()},
		{"pipeline.queue_capacity", strconv.Itoa(c.Pipeline.QueueCapacity)},
		{"pipeline.overflow", c.Pipeline.Overflow},
		{"output.path", c.Output.Path},
	}
}

func sectionOf(key string) string {
	section, _, _ := strings.Cut(key, ".")
	return section
}

// inheritanceIndicator returns a formatted indicator for inheritance status
func inheritanceIndicator(c *config.Config, key string) string {
	if c.Inheritance == nil {
		return "[default]"
	}
	switch c.Inheritance.Keys[key] {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}

func init() {
	configShowCmd.Flags().Bool("yaml", false, "print the resolved configuration as YAML")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configEditCmd)
}
