package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// players in order of preference
var players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	lookPath func(string) (string, error)
	run      func(cmd *exec.Cmd) error
}

func New() *Player {
	return &Player{
		lookPath: exec.LookPath,
		run:      (*exec.Cmd).Run,
	}
}

// Play plays a recorded WAV file with the first available system player
func (p *Player) Play(ctx context.Context, audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd, err := buildCommand(ctx, player, audioFile)
	if err != nil {
		return err
	}

	slog.Info("Playing", "file", audioFile, "player", player)
	if err := p.run(cmd); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Info("Playback completed")
	return nil
}

func buildCommand(ctx context.Context, player, audioFile string) (*exec.Cmd, error) {
	switch player {
	case "vlc":
		return exec.CommandContext(ctx, "vlc", "--play-and-exit", "--intf", "dummy", audioFile), nil
	case "mpv":
		return exec.CommandContext(ctx, "mpv", "--no-video", audioFile), nil
	case "ffplay":
		return exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", audioFile), nil
	case "aplay":
		return exec.CommandContext(ctx, "aplay", audioFile), nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
