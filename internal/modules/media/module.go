package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"go.uber.org/zap"
)

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	Format   string       `json:"format"`
	Duration float64      `json:"duration"`
	Size     int64        `json:"size"`
	BitRate  int          `json:"bitRate"`
	Width    int          `json:"width,omitempty"`
	Height   int          `json:"height,omitempty"`
	Streams  []StreamInfo `json:"streams"`
}

// StreamInfo contains information about a media stream
type StreamInfo struct {
	Index      int     `json:"index"`
	Type       string  `json:"type"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
}

// HasStream reports whether the file carries a stream of the given type.
func (m *MediaInfo) HasStream(codecType string) bool {
	for _, s := range m.Streams {
		if s.Type == codecType {
			return true
		}
	}
	return false
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index      int    `json:"index"`
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
		Duration   string `json:"duration,omitempty"`
		Channels   int    `json:"channels,omitempty"`
		SampleRate string `json:"sample_rate,omitempty"`
	} `json:"streams"`
}

// Prober reads media metadata with ffprobe
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewProber creates a prober. An empty path means "ffprobe" on PATH.
func NewProber(ffprobePath string, timeout time.Duration, logger *zap.Logger) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{ffprobePath: ffprobePath, timeout: timeout, logger: logger}
}

// Probe extracts metadata from a media file
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, &compose.ProbeError{Path: path, Err: fmt.Errorf("ffprobe failed: %w", err)}
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return nil, &compose.ProbeError{Path: path, Err: err}
	}
	return info, nil
}

// Duration returns the container duration, falling back to the longest stream.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, &compose.ProbeError{Path: path, Err: errors.New("no duration reported")}
	}
	p.logger.Debug("Probed duration", zap.String("path", path), zap.Float64("duration", info.Duration))
	return info.Duration, nil
}

// ParseProbeOutput decodes ffprobe's JSON output.
func ParseProbeOutput(data []byte) (*MediaInfo, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(data, &probeData); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &MediaInfo{
		Format:   probeData.Format.FormatName,
		Duration: parseFloat(probeData.Format.Duration),
		Streams:  make([]StreamInfo, 0, len(probeData.Streams)),
	}
	if size, err := strconv.ParseInt(probeData.Format.Size, 10, 64); err == nil {
		info.Size = size
	}
	if br, err := strconv.Atoi(probeData.Format.BitRate); err == nil {
		info.BitRate = br
	}

	longest := 0.0
	for _, stream := range probeData.Streams {
		si := StreamInfo{
			Index:    stream.Index,
			Type:     stream.CodecType,
			Codec:    stream.CodecName,
			Duration: parseFloat(stream.Duration),
			Channels: stream.Channels,
		}
		if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
			si.SampleRate = sr
		}
		if stream.CodecType == "video" && info.Width == 0 {
			info.Width = stream.Width
			info.Height = stream.Height
		}
		longest = max(longest, si.Duration)
		info.Streams = append(info.Streams, si)
	}

	if info.Duration <= 0 {
		info.Duration = longest
	}
	return info, nil
}

func parseFloat(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
