package ffmpeg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("12.480000\n")
	require.NoError(t, err)
	assert.InDelta(t, 12.48, d, 0.0001)

	_, err = parseDuration("N/A\n")
	assert.Error(t, err)

	_, err = parseDuration("abc")
	assert.Error(t, err)
}

func TestProbeDurationMissingBinary(t *testing.T) {
	p := NewProber("ffprobe-does-not-exist", zap.NewNop())
	_, err := p.ProbeDuration(context.Background(), "video.mp4")
	assert.ErrorContains(t, err, "ffprobe")
}
