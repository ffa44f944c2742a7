package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Prober reads container metadata with ffprobe.
type Prober struct {
	binary string
	logger *zap.Logger
}

func NewProber(binary string, logger *zap.Logger) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, logger: logger}
}

// ProbeDuration returns the media duration in seconds.
func (p *Prober) ProbeDuration(ctx context.Context, filePath string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	duration, err := parseDuration(string(output))
	if err != nil {
		return 0, err
	}
	p.logger.Debug("probed media duration",
		zap.String("file", filePath),
		zap.Float64("duration_seconds", duration),
	)
	return duration, nil
}

func parseDuration(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("parse duration: no duration reported")
	}
	duration, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}
