package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProber struct {
	mu        sync.Mutex
	durations map[string]float64
	calls     []string
}

func (p *fakeProber) Duration(_ context.Context, path string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, path)
	if d, ok := p.durations[path]; ok {
		return d, nil
	}
	return 0, &ProbeError{Path: path, Err: errors.New("invalid data found when processing input")}
}

type fakeRenderer struct {
	jobs []RenderJob
	err  error
}

func (r *fakeRenderer) Render(_ context.Context, job RenderJob) ([]byte, error) {
	r.jobs = append(r.jobs, job)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("rendered"), nil
}

type fakeRecorder struct {
	mu               sync.Mutex
	probeFallbacks   int
	settingsFallback int
	compositions     map[string]bool
}

func (r *fakeRecorder) RecordProbeFallback(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeFallbacks++
}

func (r *fakeRecorder) RecordSettingsFallback() { r.settingsFallback++ }

func (r *fakeRecorder) RecordComposition(op string, success bool, _ time.Duration) {
	if r.compositions == nil {
		r.compositions = map[string]bool{}
	}
	r.compositions[op] = success
}

func newTestComposer(durations map[string]float64) (*Composer, *fakeProber, *fakeRenderer, *fakeRecorder) {
	prober := &fakeProber{durations: durations}
	renderer := &fakeRenderer{}
	recorder := &fakeRecorder{}
	return NewComposer(prober, renderer, recorder, zap.NewNop()), prober, renderer, recorder
}

func TestImagesToVideo(t *testing.T) {
	t.Run("renders the planned invocation", func(t *testing.T) {
		c, prober, renderer, recorder := newTestComposer(map[string]float64{"voice.mp3": 15})
		s := DefaultSettings()
		s.Effect = EffectZoomInOut

		res, err := c.ImagesToVideo(context.Background(), Request{
			Files: map[string][]string{
				FieldImages: {"a.jpg", "b.jpg", "c.jpg"},
				FieldAudio:  {"voice.mp3"},
			},
			Settings: s,
			WorkDir:  t.TempDir(),
		})
		require.NoError(t, err)

		assert.Equal(t, "video/mp4", res.MIMEType)
		assert.Equal(t, "output.mp4", res.Filename())
		assert.Equal(t, []byte("rendered"), res.Data)
		assert.InDelta(t, 15, res.Duration, 1e-9)
		assert.Equal(t, []string{"voice.mp3"}, prober.calls)

		require.Len(t, renderer.jobs, 1)
		job := renderer.jobs[0]
		assert.Equal(t, OpImagesToVideo, job.Operation)
		inv, ok := job.Build.(*Invocation)
		require.True(t, ok)
		assert.Equal(t, 3, inv.Graph.Count("zoompan"))
		assert.True(t, recorder.compositions[OpImagesToVideo])
	})

	t.Run("missing audio is rejected before probing", func(t *testing.T) {
		c, prober, renderer, _ := newTestComposer(nil)

		_, err := c.ImagesToVideo(context.Background(), Request{
			Files:    map[string][]string{FieldImages: {"a.jpg"}},
			Settings: DefaultSettings(),
			WorkDir:  t.TempDir(),
		})

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldAudio, verr.Field)
		assert.Empty(t, prober.calls)
		assert.Empty(t, renderer.jobs)
	})

	t.Run("missing images are rejected", func(t *testing.T) {
		c, _, renderer, _ := newTestComposer(nil)
		_, err := c.ImagesToVideo(context.Background(), Request{
			Files:    map[string][]string{FieldAudio: {"voice.mp3"}},
			Settings: DefaultSettings(),
			WorkDir:  t.TempDir(),
		})
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
		assert.Empty(t, renderer.jobs)
	})

	t.Run("unreadable audio falls back to fixed clip durations", func(t *testing.T) {
		c, _, renderer, recorder := newTestComposer(nil)
		_, err := c.ImagesToVideo(context.Background(), Request{
			Files: map[string][]string{
				FieldImages: {"a.jpg", "b.jpg"},
				FieldAudio:  {"broken.mp3"},
			},
			Settings: DefaultSettings(),
			WorkDir:  t.TempDir(),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, recorder.probeFallbacks)
		require.Len(t, renderer.jobs, 1)
		assert.InDelta(t, 10, renderer.jobs[0].Duration, 1e-9)
	})

	t.Run("explicit duration needs no audio", func(t *testing.T) {
		c, prober, renderer, _ := newTestComposer(nil)
		s := DefaultSettings()
		s.Duration = 3
		_, err := c.ImagesToVideo(context.Background(), Request{
			Files:    map[string][]string{FieldImages: {"a.jpg", "b.jpg"}},
			Settings: s,
			WorkDir:  t.TempDir(),
		})
		require.NoError(t, err)
		assert.Empty(t, prober.calls)
		assert.InDelta(t, 6, renderer.jobs[0].Duration, 1e-9)
	})

	t.Run("render failure is surfaced", func(t *testing.T) {
		c, _, renderer, recorder := newTestComposer(map[string]float64{"voice.mp3": 10})
		renderer.err = &RenderError{ExitCode: 1, Err: errors.New("exit status 1")}

		res, err := c.ImagesToVideo(context.Background(), Request{
			Files: map[string][]string{
				FieldImages: {"a.jpg"},
				FieldAudio:  {"voice.mp3"},
			},
			Settings: DefaultSettings(),
			WorkDir:  t.TempDir(),
		})
		assert.Nil(t, res)
		var rerr *RenderError
		assert.True(t, errors.As(err, &rerr))
		assert.False(t, recorder.compositions[OpImagesToVideo])
	})

	t.Run("cancelled context stops before rendering", func(t *testing.T) {
		c, _, renderer, _ := newTestComposer(map[string]float64{"voice.mp3": 10})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.ImagesToVideo(ctx, Request{
			Files: map[string][]string{
				FieldImages: {"a.jpg"},
				FieldAudio:  {"voice.mp3"},
			},
			Settings: DefaultSettings(),
			WorkDir:  t.TempDir(),
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, renderer.jobs)
	})
}

func TestPlanVideos(t *testing.T) {
	c, prober, _, recorder := newTestComposer(map[string]float64{
		"voice.mp3": 10,
		"a.mp4":     4,
		"b.mp4":     8,
	})

	plan, err := c.PlanVideos(context.Background(), Request{
		Files: map[string][]string{
			FieldVideo: {"a.mp4", "b.mp4", "c.mp4"},
			FieldAudio: {"voice.mp3"},
		},
		Settings: DefaultSettings(),
		WorkDir:  t.TempDir(),
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"voice.mp3", "a.mp4", "b.mp4", "c.mp4"}, prober.calls)
	assert.Equal(t, 1, recorder.probeFallbacks)

	tl := plan.Timeline
	require.Len(t, tl.Clips, 3)
	assert.InDelta(t, 4, tl.Clips[0].SourceDuration, 1e-9)
	assert.InDelta(t, FallbackClipDuration, tl.Clips[2].SourceDuration, 1e-9)
	assert.InDelta(t, 10, tl.Total, 1e-9)
	assert.Equal(t, "3:a", plan.Invocation.AudioMap)
}

func TestMergeAudio(t *testing.T) {
	c, _, renderer, _ := newTestComposer(map[string]float64{"a.mp3": 2, "b.mp3": 3})

	t.Run("legacy field", func(t *testing.T) {
		res, err := c.MergeAudio(context.Background(), Request{
			Files:   map[string][]string{FieldFiles: {"a.mp3", "b.mp3"}},
			WorkDir: t.TempDir(),
		})
		require.NoError(t, err)
		assert.Equal(t, "audio/mpeg", res.MIMEType)
		assert.Equal(t, "merged.mp3", res.Filename())
		assert.InDelta(t, 5, renderer.jobs[0].Duration, 1e-9)
		assert.True(t, strings.HasSuffix(renderer.jobs[0].Output, "merged.mp3"))
	})

	t.Run("nothing to merge", func(t *testing.T) {
		_, err := c.MergeAudio(context.Background(), Request{WorkDir: t.TempDir()})
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	})
}

func TestBurnCaptions(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "captions.ass")
	require.NoError(t, os.WriteFile(script, []byte(sampleScript), 0644))

	c, _, renderer, _ := newTestComposer(map[string]float64{"clip.mp4": 12})
	s := DefaultSettings()
	s.Caption.Position = PositionMiddleCenter

	res, err := c.BurnCaptions(context.Background(), Request{
		Files: map[string][]string{
			FieldVideo:    {"clip.mp4"},
			FieldCaptions: {script},
		},
		Settings: s,
		WorkDir:  dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", res.MIMEType)

	styled, err := os.ReadFile(filepath.Join(dir, "styled.ass"))
	require.NoError(t, err)
	assert.Contains(t, string(styled), ",5,40,40,0,1\r\n")

	argv := renderer.jobs[0].Build.Args(DefaultEncoder())
	args := strings.Join(argv, " ")
	assert.Contains(t, args, "clip.mp4")
	assert.Contains(t, args, "ass=")
	assert.Contains(t, args, "captioned.mp4")
	assert.Contains(t, args, "-map 0:a?", "audio is optional so silent videos still render")
	assert.NotContains(t, argv, "0:a")
	assert.Contains(t, args, "-c:a copy")

	t.Run("missing captions", func(t *testing.T) {
		_, err := c.BurnCaptions(context.Background(), Request{
			Files:   map[string][]string{FieldVideo: {"clip.mp4"}},
			WorkDir: dir,
		})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldCaptions, verr.Field)
	})
}

func TestRunDispatch(t *testing.T) {
	c, _, _, _ := newTestComposer(nil)
	_, err := c.Run(context.Background(), "transcode", Request{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDecodeSettings(t *testing.T) {
	c, _, _, recorder := newTestComposer(nil)
	s := c.DecodeSettings("not json")
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, 1, recorder.settingsFallback)
}
