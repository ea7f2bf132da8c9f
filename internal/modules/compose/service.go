package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Staged file fields.
const (
	FieldImages   = "images"
	FieldAudio    = "audio"
	FieldOutro    = "outro"
	FieldVideo    = "video"
	FieldCaptions = "captions"
	// FieldFiles is the legacy audio-merge field.
	FieldFiles = "files"
)

// Operation names.
const (
	OpMergeAudio    = "merge_audio"
	OpImagesToVideo = "images_to_video"
	OpVideosToVideo = "videos_to_video"
	OpBurnCaptions  = "burn_captions"
)

// Operations lists every composition mode.
var Operations = []string{OpMergeAudio, OpImagesToVideo, OpVideosToVideo, OpBurnCaptions}

const (
	mimeMP4 = "video/mp4"
	mimeMP3 = "audio/mpeg"

	probeParallelism = 4
)

// Prober reads media durations.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// RenderJob is one backend run.
type RenderJob struct {
	Operation string
	Build     ArgsBuilder
	Output    string
	// Duration is the expected output length, used for progress.
	Duration   float64
	OnProgress func(percent int)
}

// Renderer runs ffmpeg and returns the output file's bytes.
type Renderer interface {
	Render(ctx context.Context, job RenderJob) ([]byte, error)
}

// Recorder receives composition metrics. metrics.Metrics implements it.
type Recorder interface {
	RecordProbeFallback(operation string)
	RecordSettingsFallback()
	RecordComposition(operation string, success bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordProbeFallback(string)                    {}
func (nopRecorder) RecordSettingsFallback()                       {}
func (nopRecorder) RecordComposition(string, bool, time.Duration) {}

// Request is one composition: staged files by field, settings, and the
// directory that receives intermediates and the output.
type Request struct {
	Files      map[string][]string
	Settings   Settings
	WorkDir    string
	OnProgress func(percent int)
}

func (r Request) first(field string) string {
	if files := r.Files[field]; len(files) > 0 {
		return files[0]
	}
	return ""
}

// Result is a rendered payload.
type Result struct {
	Data     []byte
	MIMEType string
	Duration float64
}

// Filename is the download name for the payload.
func (r *Result) Filename() string {
	if r.MIMEType == mimeMP3 {
		return "merged.mp3"
	}
	return "output.mp4"
}

// Plan is a resolved composition that has not been rendered yet.
type Plan struct {
	Operation  string
	Settings   Settings
	Timeline   *Timeline
	Invocation *Invocation
}

// Composer runs the four composition operations.
type Composer struct {
	prober   Prober
	renderer Renderer
	recorder Recorder
	logger   *zap.Logger
}

// NewComposer creates a Composer. recorder may be nil.
func NewComposer(prober Prober, renderer Renderer, recorder Recorder, logger *zap.Logger) *Composer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Composer{
		prober:   prober,
		renderer: renderer,
		recorder: recorder,
		logger:   logger,
	}
}

// DecodeSettings parses a raw payload, logging and counting any fallback.
func (c *Composer) DecodeSettings(raw string) Settings {
	s, err := ParseSettings(raw)
	if err != nil {
		c.logger.Warn("Settings payload rejected, using defaults where invalid", zap.Error(err))
		c.recorder.RecordSettingsFallback()
	}
	return s
}

// Run dispatches an operation by name.
func (c *Composer) Run(ctx context.Context, operation string, req Request) (*Result, error) {
	switch operation {
	case OpMergeAudio:
		return c.MergeAudio(ctx, req)
	case OpImagesToVideo:
		return c.ImagesToVideo(ctx, req)
	case OpVideosToVideo:
		return c.VideosToVideo(ctx, req)
	case OpBurnCaptions:
		return c.BurnCaptions(ctx, req)
	}
	return nil, validationErrorf("", "unknown operation %q", operation)
}

// MergeAudio concatenates the audio files into one MP3.
func (c *Composer) MergeAudio(ctx context.Context, req Request) (*Result, error) {
	files := req.Files[FieldAudio]
	if len(files) == 0 {
		files = req.Files[FieldFiles]
	}
	if len(files) == 0 {
		return nil, validationErrorf(FieldAudio, "no audio files uploaded")
	}
	if err := requireWorkDir(req); err != nil {
		return nil, err
	}

	durations := c.probeAll(ctx, files, OpMergeAudio)
	total := 0.0
	for _, d := range durations {
		total += d
	}

	inv, err := AssembleAudioMerge(files, filepath.Join(req.WorkDir, "merged.mp3"))
	if err != nil {
		return nil, err
	}
	return c.render(ctx, OpMergeAudio, inv, inv.Output, total, mimeMP3, req.OnProgress)
}

// ImagesToVideo renders still images over the audio track.
func (c *Composer) ImagesToVideo(ctx context.Context, req Request) (*Result, error) {
	plan, err := c.PlanImages(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.render(ctx, plan.Operation, plan.Invocation, plan.Invocation.Output, plan.Timeline.Total, mimeMP4, req.OnProgress)
}

// VideosToVideo renders video clips over the audio track.
func (c *Composer) VideosToVideo(ctx context.Context, req Request) (*Result, error) {
	plan, err := c.PlanVideos(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.render(ctx, plan.Operation, plan.Invocation, plan.Invocation.Output, plan.Timeline.Total, mimeMP4, req.OnProgress)
}

// PlanImages resolves an images-to-video composition without rendering it.
func (c *Composer) PlanImages(ctx context.Context, req Request) (*Plan, error) {
	return c.planVisual(ctx, OpImagesToVideo, ClipImage, req)
}

// PlanVideos resolves a videos-to-video composition without rendering it.
func (c *Composer) PlanVideos(ctx context.Context, req Request) (*Plan, error) {
	return c.planVisual(ctx, OpVideosToVideo, ClipVideo, req)
}

func (c *Composer) planVisual(ctx context.Context, op string, kind ClipKind, req Request) (*Plan, error) {
	field := fieldForKind(kind)
	clips := req.Files[field]
	audio := req.first(FieldAudio)
	s := req.Settings

	if len(clips) == 0 {
		return nil, validationErrorf(field, "no %s clips uploaded", kind)
	}
	if audio == "" && s.AutoDuration() {
		return nil, validationErrorf(FieldAudio, "an audio track is required when duration is auto")
	}
	if err := requireWorkDir(req); err != nil {
		return nil, err
	}

	// Audio goes first so both probes share one fan-out.
	var targets []string
	if s.AutoDuration() {
		targets = append(targets, audio)
	}
	if kind == ClipVideo {
		targets = append(targets, clips...)
	}
	durations := c.probeAll(ctx, targets, op)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	treq := TimelineRequest{
		Kind:      kind,
		ClipCount: len(clips),
		HasOutro:  req.first(FieldOutro) != "",
		Settings:  s,
	}
	if s.AutoDuration() {
		treq.AudioDuration = durations[0]
		durations = durations[1:]
	}
	if kind == ClipVideo {
		treq.SourceDurations = durations
	}

	tl, err := ResolveTimeline(treq)
	if err != nil {
		return nil, err
	}
	if tl.Fallback {
		c.logger.Warn("Audio duration unknown, timing clips with fallback duration",
			zap.Float64("per_clip", FallbackClipDuration),
			zap.Float64("total", tl.Total),
		)
	}

	inv, err := AssembleVisual(VisualSources{
		Kind:   kind,
		Clips:  clips,
		Outro:  req.first(FieldOutro),
		Audio:  audio,
		Output: filepath.Join(req.WorkDir, "output.mp4"),
	}, tl, s)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Composition planned",
		zap.String("operation", op),
		zap.Int("clips", len(clips)),
		zap.Float64("total", tl.Total),
		zap.Int("graph_nodes", inv.Graph.Len()),
	)

	return &Plan{Operation: op, Settings: s, Timeline: tl, Invocation: inv}, nil
}

// BurnCaptions styles the subtitle script and burns it into the video.
func (c *Composer) BurnCaptions(ctx context.Context, req Request) (*Result, error) {
	video := req.first(FieldVideo)
	captions := req.first(FieldCaptions)
	if video == "" {
		return nil, validationErrorf(FieldVideo, "no video uploaded")
	}
	if captions == "" {
		return nil, validationErrorf(FieldCaptions, "no caption script uploaded")
	}
	if err := requireWorkDir(req); err != nil {
		return nil, err
	}

	script, err := os.ReadFile(captions)
	if err != nil {
		return nil, fmt.Errorf("read caption script: %w", err)
	}
	styled := filepath.Join(req.WorkDir, "styled.ass")
	if err := os.WriteFile(styled, StyleScript(script, req.Settings.Caption), 0644); err != nil {
		return nil, fmt.Errorf("write styled caption script: %w", err)
	}

	duration := c.probeAll(ctx, []string{video}, OpBurnCaptions)[0]
	job := captionBurn{
		video:  video,
		script: styled,
		output: filepath.Join(req.WorkDir, "captioned.mp4"),
	}
	return c.render(ctx, OpBurnCaptions, job, job.output, duration, mimeMP4, req.OnProgress)
}

// captionBurn builds a single-input ass burn. Audio is copied when the video
// has any; the optional map keeps silent videos renderable.
type captionBurn struct {
	video  string
	script string
	output string
}

func (b captionBurn) Args(enc Encoder) []string {
	input := ffmpeg.Input(b.video)
	subtitled := input.Video().Filter("ass", ffmpeg.Args{escapeFilterPath(b.script)})

	kwargs := ffmpeg.KwArgs{
		"c:v":      enc.VideoCodec,
		"pix_fmt":  "yuv420p",
		"c:a":      "copy",
		"movflags": "+faststart",
	}
	if enc.VideoBitrate != "" {
		kwargs["b:v"] = enc.VideoBitrate
	} else {
		if enc.Preset != "" {
			kwargs["preset"] = enc.Preset
		}
		if enc.CRF > 0 {
			kwargs["crf"] = enc.CRF
		}
	}
	if enc.Threads > 0 {
		kwargs["threads"] = enc.Threads
	}

	return ffmpeg.Output([]*ffmpeg.Stream{subtitled, input.Get("a?")}, b.output, kwargs).
		OverWriteOutput().
		GetArgs()
}

func escapeFilterPath(p string) string {
	p = filepath.ToSlash(p)
	return strings.ReplaceAll(p, ":", "\\:")
}

// probeAll reads durations in parallel. A failed probe is logged and yields
// zero for that file, which the timeline resolves with FallbackClipDuration.
func (c *Composer) probeAll(ctx context.Context, paths []string, op string) []float64 {
	durations := make([]float64, len(paths))
	if len(paths) == 0 {
		return durations
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeParallelism)
	for i, path := range paths {
		g.Go(func() error {
			d, err := c.prober.Duration(gctx, path)
			if err != nil || d <= 0 {
				var perr *ProbeError
				if err == nil || !errors.As(err, &perr) {
					perr = &ProbeError{Path: path, Err: err}
					if err == nil {
						perr.Err = errors.New("no duration reported")
					}
				}
				c.logger.Warn("Probe failed, using fallback duration",
					zap.String("path", filepath.Base(path)),
					zap.Float64("fallback", FallbackClipDuration),
					zap.Error(perr),
				)
				c.recorder.RecordProbeFallback(op)
				d = 0
			}
			durations[i] = d
			return nil
		})
	}
	_ = g.Wait()
	return durations
}

func (c *Composer) render(ctx context.Context, op string, build ArgsBuilder, output string, duration float64, mime string, onProgress func(int)) (*Result, error) {
	start := time.Now()
	data, err := c.renderer.Render(ctx, RenderJob{
		Operation:  op,
		Build:      build,
		Output:     output,
		Duration:   duration,
		OnProgress: onProgress,
	})
	c.recorder.RecordComposition(op, err == nil, time.Since(start))
	if err != nil {
		c.logger.Error("Composition render failed", zap.String("operation", op), zap.Error(err))
		return nil, err
	}

	c.logger.Info("Composition rendered",
		zap.String("operation", op),
		zap.Int("bytes", len(data)),
		zap.Float64("duration", duration),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{Data: data, MIMEType: mime, Duration: duration}, nil
}

func requireWorkDir(req Request) error {
	if req.WorkDir == "" {
		return errors.New("compose: request has no work directory")
	}
	return nil
}
