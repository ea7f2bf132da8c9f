package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/shared/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// stderrTailLines is how much ffmpeg output a RenderError keeps.
const stderrTailLines = 12

var progressRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// Processor runs ffmpeg for composition renders
type Processor struct {
	ffmpegPath        string
	logger            *zap.Logger
	metrics           *metrics.Metrics
	maxThreads        int  // Limit CPU threads (0 = auto/unlimited)
	useHardwareAccel  bool // Use hardware acceleration when available
	preferFastPresets bool // Use faster presets to reduce CPU load
	timeout           time.Duration
	slots             *semaphore.Weighted
}

// ProcessorConfig configures processor behavior
type ProcessorConfig struct {
	FFmpegPath        string
	MaxThreads        int  // 0 = unlimited, recommended: 2-4 for background processing
	UseHardwareAccel  bool // Use VideoToolbox on macOS
	PreferFastPresets bool // Use "veryfast" instead of "medium" preset
	// Timeout bounds a single render. Zero disables the bound.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous renders in this process.
	MaxConcurrent int
}

// NewProcessor creates a processor with cloud-friendly defaults
func NewProcessor(ffmpegPath string, logger *zap.Logger) *Processor {
	return NewProcessorWithConfig(ProcessorConfig{FFmpegPath: ffmpegPath, PreferFastPresets: true}, nil, logger)
}

// NewProcessorWithConfig creates a processor with custom configuration. m may be nil.
func NewProcessorWithConfig(config ProcessorConfig, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	return &Processor{
		ffmpegPath:        config.FFmpegPath,
		logger:            logger,
		metrics:           m,
		maxThreads:        config.MaxThreads,
		useHardwareAccel:  config.UseHardwareAccel,
		preferFastPresets: config.PreferFastPresets,
		timeout:           config.Timeout,
		slots:             semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Encoder returns the encoding flags for this processor's configuration.
func (p *Processor) Encoder() compose.Encoder {
	enc := compose.DefaultEncoder()
	if p.preferFastPresets {
		enc.Preset = "veryfast"
	}
	if p.useHardwareAccel {
		enc.VideoCodec = "h264_videotoolbox"
		enc.VideoBitrate = "5M"
	}
	enc.Threads = p.maxThreads
	return enc
}

// Render runs one ffmpeg job and returns the bytes of its output file. The
// output file is removed when the render fails.
func (p *Processor) Render(ctx context.Context, job compose.RenderJob) ([]byte, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.slots.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := job.Build.Args(p.Encoder())
	p.logger.Info("Executing FFmpeg",
		zap.String("operation", job.Operation),
		zap.String("output", job.Output),
		zap.Strings("args", args),
	)

	start := time.Now()
	err := p.run(ctx, args, job)
	p.record(job.Operation, err, time.Since(start))
	if err != nil {
		os.Remove(job.Output)
		return nil, err
	}

	data, err := os.ReadFile(job.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to read render output: %w", err)
	}
	if job.OnProgress != nil {
		job.OnProgress(100)
	}
	return data, nil
}

func (p *Processor) run(ctx context.Context, args []string, job compose.RenderJob) error {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	// Capture stderr for progress
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &compose.RenderError{ExitCode: -1, Err: fmt.Errorf("failed to start FFmpeg: %w", err)}
	}

	tail := newLineTail(stderrTailLines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.parseProgress(stderr, job.Duration, job.OnProgress, tail)
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	if waitErr == nil {
		return nil
	}

	renderErr := &compose.RenderError{ExitCode: -1, Stderr: tail.Lines(), Err: waitErr}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		renderErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		renderErr.Err = ctxErr
	}

	p.logger.Error("FFmpeg execution failed",
		zap.String("operation", job.Operation),
		zap.Int("exit_code", renderErr.ExitCode),
		zap.Strings("stderr", renderErr.Stderr),
		zap.Error(renderErr.Err),
	)
	return renderErr
}

// parseProgress reads ffmpeg's stderr, reporting progress against the expected
// duration and keeping the last lines for error reports.
func (p *Processor) parseProgress(stderr io.Reader, total float64, onProgress func(int), tail *lineTail) {
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanCRLF)

	last := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		matches := progressRegex.FindStringSubmatch(line)
		if matches == nil {
			tail.Add(line)
			continue
		}
		if onProgress == nil || total <= 0 {
			continue
		}
		percent := progressPercent(matches, total)
		if percent > last {
			last = percent
			onProgress(percent)
		}
	}
}

// progressPercent converts a time= match into a percentage held below 100
// until the process exits.
func progressPercent(matches []string, total float64) int {
	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])
	fraction, _ := strconv.ParseFloat("0."+matches[4], 64)

	elapsed := float64(hours*3600+minutes*60+seconds) + fraction
	percent := int(elapsed / total * 100)
	return min(max(percent, 0), 99)
}

// scanCRLF splits on either line terminator; ffmpeg rewrites its status line with \r.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (p *Processor) record(operation string, err error, d time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordFFmpegOperation(operation, err == nil, d)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		p.metrics.RecordFFmpegError(operation, "timeout")
	case errors.Is(err, context.Canceled):
		p.metrics.RecordFFmpegError(operation, "canceled")
	default:
		p.metrics.RecordFFmpegError(operation, "exit")
	}
}

// lineTail keeps the most recent n lines.
type lineTail struct {
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) Add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) Lines() []string {
	return append([]string(nil), t.lines...)
}
