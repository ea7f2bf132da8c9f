package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProcessor(t *testing.T) {
	logger := zap.NewNop()

	t.Run("creates processor with defaults", func(t *testing.T) {
		p := NewProcessor("", logger)
		assert.NotNil(t, p)
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, 0, p.maxThreads)
		assert.False(t, p.useHardwareAccel)
		assert.True(t, p.preferFastPresets)
	})

	t.Run("creates processor with custom ffmpeg path", func(t *testing.T) {
		p := NewProcessor("/usr/local/bin/ffmpeg", logger)
		assert.Equal(t, "/usr/local/bin/ffmpeg", p.ffmpegPath)
	})
}

func TestEncoder(t *testing.T) {
	logger := zap.NewNop()

	t.Run("software with fast preset", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{PreferFastPresets: true, MaxThreads: 4}, nil, logger)
		enc := p.Encoder()
		assert.Equal(t, "libx264", enc.VideoCodec)
		assert.Equal(t, "veryfast", enc.Preset)
		assert.Equal(t, 4, enc.Threads)
		assert.Empty(t, enc.VideoBitrate)
	})

	t.Run("software with default preset", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{}, nil, logger)
		assert.Equal(t, "medium", p.Encoder().Preset)
	})

	t.Run("hardware acceleration switches to bitrate mode", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{UseHardwareAccel: true}, nil, logger)
		enc := p.Encoder()
		assert.Equal(t, "h264_videotoolbox", enc.VideoCodec)
		assert.Equal(t, "5M", enc.VideoBitrate)
	})
}

func TestParseProgress(t *testing.T) {
	p := NewProcessor("", zap.NewNop())
	stderr := strings.NewReader(
		"Input #0, image2, from 'a.jpg':\n" +
			"frame=   10 fps=0.0 q=0.0 size=0kB time=00:00:02.50 bitrate=N/A speed=5x\r" +
			"frame=   20 fps=0.0 q=0.0 size=0kB time=00:00:05.00 bitrate=N/A speed=5x\r" +
			"frame=   20 fps=0.0 q=0.0 size=0kB time=00:00:05.00 bitrate=N/A speed=5x\r" +
			"frame=   40 fps=0.0 q=0.0 size=0kB time=00:00:12.00 bitrate=N/A speed=5x\r" +
			"Error while filtering\n",
	)

	var got []int
	tail := newLineTail(2)
	p.parseProgress(stderr, 10, func(percent int) { got = append(got, percent) }, tail)

	assert.Equal(t, []int{25, 50, 99}, got)
	assert.Equal(t, []string{"Input #0, image2, from 'a.jpg':", "Error while filtering"}, tail.Lines())
}

func TestLineTail(t *testing.T) {
	tail := newLineTail(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		tail.Add(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, tail.Lines())
}

// argsJob renders a fixed argument list.
type argsJob []string

func (a argsJob) Args(compose.Encoder) []string { return a }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestRender(t *testing.T) {
	logger := zap.NewNop()

	t.Run("returns the output bytes", func(t *testing.T) {
		script := writeScript(t, "echo 'time=00:00:01.00' >&2\nfor last; do :; done\nprintf rendered > \"$last\"\n")
		p := NewProcessorWithConfig(ProcessorConfig{FFmpegPath: script}, nil, logger)
		out := filepath.Join(t.TempDir(), "out.mp4")

		var progress []int
		data, err := p.Render(context.Background(), compose.RenderJob{
			Operation:  compose.OpImagesToVideo,
			Build:      argsJob{"-y", out},
			Output:     out,
			Duration:   2,
			OnProgress: func(pct int) { progress = append(progress, pct) },
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("rendered"), data)
		assert.Equal(t, []int{50, 100}, progress)
	})

	t.Run("non-zero exit becomes a RenderError", func(t *testing.T) {
		script := writeScript(t, "echo 'Invalid data found when processing input' >&2\nexit 3\n")
		p := NewProcessorWithConfig(ProcessorConfig{FFmpegPath: script}, nil, logger)
		out := filepath.Join(t.TempDir(), "out.mp4")

		data, err := p.Render(context.Background(), compose.RenderJob{Build: argsJob{out}, Output: out})
		assert.Nil(t, data)
		var rerr *compose.RenderError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, 3, rerr.ExitCode)
		assert.Equal(t, []string{"Invalid data found when processing input"}, rerr.Stderr)
		assert.NoFileExists(t, out)
	})

	t.Run("timeout stops the process", func(t *testing.T) {
		script := writeScript(t, "exec sleep 5\n")
		p := NewProcessorWithConfig(ProcessorConfig{FFmpegPath: script, Timeout: 100 * time.Millisecond}, nil, logger)
		out := filepath.Join(t.TempDir(), "out.mp4")

		start := time.Now()
		_, err := p.Render(context.Background(), compose.RenderJob{Build: argsJob{out}, Output: out})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("waits for a free slot", func(t *testing.T) {
		p := NewProcessorWithConfig(ProcessorConfig{MaxConcurrent: 1}, nil, logger)
		require.True(t, p.slots.TryAcquire(1))
		defer p.slots.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := p.Render(ctx, compose.RenderJob{Build: argsJob{}})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
