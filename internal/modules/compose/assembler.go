package compose

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// silentAudio is the lavfi source used when no audio track is supplied.
const silentAudio = "anullsrc=r=44100:cl=stereo"

// Input is one ffmpeg input with the options that precede its -i.
type Input struct {
	Path    string
	Options []string
}

// Encoder holds the encoding flags chosen by the render backend.
type Encoder struct {
	VideoCodec   string
	Preset       string
	CRF          int
	VideoBitrate string
	AudioCodec   string
	AudioBitrate string
	// AudioOnlyCodec encodes audio-only outputs.
	AudioOnlyCodec string
	Threads        int
}

// DefaultEncoder is libx264 with AAC audio.
func DefaultEncoder() Encoder {
	return Encoder{
		VideoCodec:     "libx264",
		Preset:         "medium",
		CRF:            23,
		AudioCodec:     "aac",
		AudioBitrate:   "192k",
		AudioOnlyCodec: "libmp3lame",
	}
}

// ArgsBuilder produces the ffmpeg argument list for an encoder.
type ArgsBuilder interface {
	Args(enc Encoder) []string
}

// Invocation is a complete ffmpeg run built around a filter graph.
type Invocation struct {
	Inputs []Input
	Graph  *Graph
	// VideoMap is the terminal graph label; empty for audio-only outputs.
	VideoMap string
	// AudioMap is either a raw stream such as "3:a" or a graph label.
	AudioMap string
	// Duration caps the output. Zero leaves it uncapped.
	Duration float64
	Output   string
}

// AudioOnly reports whether the invocation produces no video stream.
func (inv *Invocation) AudioOnly() bool {
	return inv.VideoMap == ""
}

// Args serialises the invocation.
func (inv *Invocation) Args(enc Encoder) []string {
	args := []string{"-y", "-hide_banner"}

	// --- Inputs ---
	for _, in := range inv.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}

	// --- Graph and mapping ---
	args = append(args, "-filter_complex", inv.Graph.String())
	if inv.VideoMap != "" {
		args = append(args, "-map", mapRef(inv.VideoMap))
	}
	args = append(args, "-map", mapRef(inv.AudioMap))

	// --- Encoding ---
	if inv.AudioOnly() {
		args = append(args, "-c:a", enc.AudioOnlyCodec, "-b:a", enc.AudioBitrate)
	} else {
		args = append(args, videoCodecArgs(enc)...)
		args = append(args,
			"-pix_fmt", "yuv420p",
			"-r", strconv.Itoa(FPS),
			"-c:a", enc.AudioCodec, "-b:a", enc.AudioBitrate,
			"-movflags", "+faststart",
		)
	}
	if enc.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(enc.Threads))
	}

	// --- Output ---
	if inv.Duration > 0 {
		args = append(args, "-t", formatNumber(inv.Duration))
	}
	return append(args, inv.Output)
}

func videoCodecArgs(enc Encoder) []string {
	args := []string{"-c:v", enc.VideoCodec}
	if enc.VideoBitrate != "" {
		return append(args, "-b:v", enc.VideoBitrate)
	}
	if enc.Preset != "" {
		args = append(args, "-preset", enc.Preset)
	}
	if enc.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(enc.CRF))
	}
	return args
}

// mapRef wraps graph labels in brackets and leaves raw stream references alone.
func mapRef(ref string) string {
	if streamRef.MatchString(ref) {
		return ref
	}
	return "[" + ref + "]"
}

// VisualSources are the staged files of an image or video composition.
type VisualSources struct {
	Kind  ClipKind
	Clips []string
	// Outro is optional. Its kind is taken from the file extension.
	Outro string
	// Audio is optional in explicit duration mode; a silent track replaces it.
	Audio  string
	Output string
}

// AssembleVisual builds the full ffmpeg invocation for a resolved timeline.
// Inputs are numbered clips first, then the outro, then audio.
func AssembleVisual(src VisualSources, tl *Timeline, s Settings) (*Invocation, error) {
	if len(src.Clips) == 0 {
		return nil, assemblyErrorf("no clips to assemble")
	}
	if len(src.Clips) != len(tl.Clips) {
		return nil, assemblyErrorf("%d clip files for %d timeline slots", len(src.Clips), len(tl.Clips))
	}
	if (src.Outro != "") != (tl.Outro != nil) {
		return nil, assemblyErrorf("outro file and outro slot disagree")
	}

	inv := &Invocation{Graph: &Graph{}, VideoMap: TerminalLabel, Duration: tl.Total, Output: src.Output}

	labels := make([]string, len(src.Clips))
	for i, path := range src.Clips {
		slot := tl.Clips[i]
		inv.Inputs = append(inv.Inputs, clipInput(path, src.Kind, slot))

		spec := ClipSpec{
			Index:    i,
			Source:   fmt.Sprintf("%d:v", i),
			Output:   fmt.Sprintf("v%d", i),
			Width:    s.Width,
			Height:   s.Height,
			Duration: slot.RenderDuration(),
			Frames:   slot.Frames(),
			Effect:   EffectNone,
			Vignette: s.Vignette,
			Speed:    slot.Speed,
		}
		if src.Kind == ClipImage {
			spec.Effect = s.Effect
			spec.Intensity = s.ZoomIntensity
		}
		node, err := ClipNode(spec)
		if err != nil {
			return nil, err
		}
		inv.Graph.Add(node)
		labels[i] = spec.Output
	}

	outroLabel := ""
	if tl.Outro != nil {
		idx := len(src.Clips)
		inv.Inputs = append(inv.Inputs, outroInput(src.Outro, tl.Outro.RenderDuration()))
		node, err := ClipNode(ClipSpec{
			Index:    idx,
			Source:   fmt.Sprintf("%d:v", idx),
			Output:   "vo",
			Width:    s.Width,
			Height:   s.Height,
			Duration: tl.Outro.RenderDuration(),
			Frames:   tl.Outro.Frames(),
			Vignette: s.Vignette,
			Outro:    true,
		})
		if err != nil {
			return nil, err
		}
		inv.Graph.Add(node)
		outroLabel = node.Output
	}

	joins, err := TransitionNodes(labels, outroLabel, tl)
	if err != nil {
		return nil, err
	}
	inv.Graph.Add(joins...)

	audioIdx := len(inv.Inputs)
	if src.Audio != "" {
		inv.Inputs = append(inv.Inputs, Input{Path: src.Audio})
	} else {
		inv.Inputs = append(inv.Inputs, Input{Path: silentAudio, Options: []string{"-f", "lavfi"}})
	}
	inv.AudioMap = fmt.Sprintf("%d:a", audioIdx)

	if err := inv.Graph.Validate(len(inv.Inputs), TerminalLabel); err != nil {
		return nil, err
	}
	return inv, nil
}

func clipInput(path string, kind ClipKind, slot Slot) Input {
	if kind == ClipImage {
		return imageInput(path, slot.RenderDuration())
	}
	if slot.Loops > 1 {
		return Input{Path: path, Options: []string{"-stream_loop", strconv.Itoa(slot.Loops - 1)}}
	}
	return Input{Path: path}
}

func outroInput(path string, duration float64) Input {
	if IsImage(path) {
		return imageInput(path, duration)
	}
	return Input{Path: path, Options: []string{"-stream_loop", "-1", "-t", formatNumber(duration)}}
}

func imageInput(path string, duration float64) Input {
	return Input{Path: path, Options: []string{
		"-loop", "1",
		"-framerate", strconv.Itoa(FPS),
		"-t", formatNumber(duration),
	}}
}

// AssembleAudioMerge concatenates audio files into one track.
func AssembleAudioMerge(files []string, output string) (*Invocation, error) {
	if len(files) == 0 {
		return nil, assemblyErrorf("no audio files to merge")
	}

	inv := &Invocation{Graph: &Graph{}, AudioMap: "aout", Output: output}
	inputs := make([]string, len(files))
	for i, f := range files {
		inv.Inputs = append(inv.Inputs, Input{Path: f})
		inputs[i] = fmt.Sprintf("%d:a", i)
	}
	inv.Graph.Add(Node{
		Inputs: inputs,
		Chain:  []Filter{NewFilter("concat", Opt("n", len(files)), Opt("v", 0), Opt("a", 1))},
		Output: "aout",
	})

	if err := inv.Graph.Validate(len(inv.Inputs), "aout"); err != nil {
		return nil, err
	}
	return inv, nil
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true, ".gif": true,
}

// IsImage reports whether a path names a still image by extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}
