package compose

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainNames(n Node) []string {
	names := make([]string, len(n.Chain))
	for i, f := range n.Chain {
		names[i] = f.Name
	}
	return names
}

func findFilter(t *testing.T, n Node, name string) Filter {
	t.Helper()
	for _, f := range n.Chain {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("filter %q not found in %v", name, chainNames(n))
	return Filter{}
}

func optionValue(f Filter, key string) string {
	for _, o := range f.Options {
		if o.Key == key {
			return o.Value
		}
	}
	return ""
}

func zoomAt(t *testing.T, effect Effect, intensity float64, span, frame int) float64 {
	t.Helper()
	zp := motions[effect](intensity, span)
	return evalExpr(t, zp.z, map[string]float64{"on": float64(frame)})
}

func TestMotionLaws(t *testing.T) {
	const frames = 125
	const intensity = 0.1

	t.Run("zoom in starts at 1 and ends at 1+intensity", func(t *testing.T) {
		assert.InDelta(t, 1.0, zoomAt(t, EffectZoomIn, intensity, frames, 0), 1e-9)
		assert.InDelta(t, 1.1, zoomAt(t, EffectZoomIn, intensity, frames, frames), 1e-9)
		assert.InDelta(t, 1.1, zoomAt(t, EffectZoomIn, intensity, frames, frames+40), 1e-9)
	})

	t.Run("zoom in is monotonic", func(t *testing.T) {
		prev := 0.0
		for k := 0; k <= frames; k++ {
			z := zoomAt(t, EffectZoomIn, intensity, frames, k)
			assert.GreaterOrEqual(t, z, prev)
			prev = z
		}
	})

	t.Run("zoom out is the inverse of zoom in", func(t *testing.T) {
		assert.InDelta(t, 1.1, zoomAt(t, EffectZoomOut, intensity, frames, 0), 1e-9)
		assert.InDelta(t, 1.0, zoomAt(t, EffectZoomOut, intensity, frames, frames), 1e-9)
	})

	t.Run("zoom in-out is symmetric", func(t *testing.T) {
		for k := 0; k <= frames; k++ {
			assert.InDelta(t,
				zoomAt(t, EffectZoomInOut, intensity, frames, k),
				zoomAt(t, EffectZoomInOut, intensity, frames, frames-k),
				1e-9, "frame %d", k)
		}
		assert.InDelta(t, 1.0, zoomAt(t, EffectZoomInOut, intensity, 100, 0), 1e-9)
		assert.InDelta(t, 1.1, zoomAt(t, EffectZoomInOut, intensity, 100, 50), 1e-9)
	})

	t.Run("zoom out-in mirrors zoom in-out", func(t *testing.T) {
		for k := 0; k <= frames; k++ {
			in := zoomAt(t, EffectZoomInOut, intensity, frames, k)
			out := zoomAt(t, EffectZoomOutIn, intensity, frames, k)
			assert.InDelta(t, 2+intensity, in+out, 1e-9, "frame %d", k)
		}
	})

	t.Run("pulse completes one period over the clip", func(t *testing.T) {
		assert.InDelta(t, 1.0, zoomAt(t, EffectPulse, intensity, 100, 0), 1e-9)
		assert.InDelta(t, 1.1, zoomAt(t, EffectPulse, intensity, 100, 50), 1e-9)
		assert.InDelta(t, 1.0, zoomAt(t, EffectPulse, intensity, 100, 100), 1e-9)
	})

	t.Run("pans keep zoom constant and move x linearly", func(t *testing.T) {
		vars := func(on float64) map[string]float64 {
			return map[string]float64{"on": on, "iw": 2160, "zoom": 1 + intensity}
		}
		right := motions[EffectPanRight](intensity, frames)
		left := motions[EffectPanLeft](intensity, frames)
		room := 2160 - 2160/1.1

		assert.InDelta(t, 1.1, evalExpr(t, right.z, nil), 1e-9)
		assert.InDelta(t, 0, evalExpr(t, right.x, vars(0)), 1e-6)
		assert.InDelta(t, room, evalExpr(t, right.x, vars(frames)), 1e-6)
		assert.InDelta(t, room, evalExpr(t, left.x, vars(0)), 1e-6)
		assert.InDelta(t, 0, evalExpr(t, left.x, vars(frames)), 1e-6)
	})

	t.Run("every animated effect has a motion law", func(t *testing.T) {
		for _, e := range Effects {
			_, ok := motions[e]
			assert.Equal(t, e.Animated(), ok, "effect %s", e)
		}
	})
}

func TestClipNode(t *testing.T) {
	base := ClipSpec{
		Index:     0,
		Source:    "0:v",
		Output:    "v0",
		Width:     1080,
		Height:    1920,
		Duration:  5,
		Frames:    125,
		Effect:    EffectZoomInOut,
		Intensity: 0.1,
	}

	t.Run("animated effect oversizes then zooms", func(t *testing.T) {
		node, err := ClipNode(base)
		require.NoError(t, err)

		assert.Equal(t, []string{"scale", "crop", "zoompan", "fps", "trim", "setpts", "setsar", "format"}, chainNames(node))
		assert.Equal(t, "scale=2160:3840:force_original_aspect_ratio=increase", node.Chain[0].String())
		assert.Equal(t, "crop=2160:3840", node.Chain[1].String())

		zp := findFilter(t, node, "zoompan")
		assert.Equal(t, "1080x1920", optionValue(zp, "s"))
		assert.Equal(t, "1", optionValue(zp, "d"))
		assert.Equal(t, "trim=duration=5", findFilter(t, node, "trim").String())
		assert.Equal(t, "[0:v]", node.String()[:5])
		assert.Contains(t, node.String(), "[v0]")
	})

	t.Run("zoom lands on the last rendered frame", func(t *testing.T) {
		tests := []struct {
			effect Effect
			first  float64
			last   float64
		}{
			{EffectZoomIn, 1.0, 1.1},
			{EffectZoomOut, 1.1, 1.0},
			{EffectZoomInOut, 1.0, 1.0},
			{EffectZoomOutIn, 1.1, 1.1},
		}
		for _, tt := range tests {
			spec := base
			spec.Effect = tt.effect
			node, err := ClipNode(spec)
			require.NoError(t, err)

			z := optionValue(findFilter(t, node, "zoompan"), "z")
			z = strings.Trim(z, "'")
			assert.InDelta(t, tt.first, evalExpr(t, z, map[string]float64{"on": 0}), 1e-9, "%s", tt.effect)
			assert.InDelta(t, tt.last, evalExpr(t, z, map[string]float64{"on": float64(spec.Frames - 1)}), 1e-9, "%s", tt.effect)
		}
	})

	t.Run("single frame clip does not divide by zero", func(t *testing.T) {
		spec := base
		spec.Effect = EffectZoomIn
		spec.Frames = 1
		node, err := ClipNode(spec)
		require.NoError(t, err)
		assert.Contains(t, optionValue(findFilter(t, node, "zoompan"), "z"), "on/1,")
	})

	t.Run("zero intensity degenerates to a plain scale", func(t *testing.T) {
		spec := base
		spec.Intensity = 0
		node, err := ClipNode(spec)
		require.NoError(t, err)
		assert.NotContains(t, chainNames(node), "zoompan")
		assert.Equal(t, "scale=1080:1920:force_original_aspect_ratio=increase", node.Chain[0].String())
	})

	t.Run("pad effect letterboxes", func(t *testing.T) {
		spec := base
		spec.Effect = EffectPad
		node, err := ClipNode(spec)
		require.NoError(t, err)
		assert.Equal(t, []string{"scale", "pad", "fps", "trim", "setpts", "setsar", "format"}, chainNames(node))
	})

	t.Run("vignette follows the trim", func(t *testing.T) {
		spec := base
		spec.Effect = EffectNone
		spec.Vignette = true
		node, err := ClipNode(spec)
		require.NoError(t, err)
		assert.Equal(t, []string{"scale", "crop", "fps", "trim", "setpts", "setsar", "vignette", "format"}, chainNames(node))
		assert.Equal(t, "vignette=PI/4", findFilter(t, node, "vignette").String())
	})

	t.Run("outro pads and fades in", func(t *testing.T) {
		spec := base
		spec.Outro = true
		spec.Output = "vo"
		spec.Duration = 2
		spec.Frames = 50
		node, err := ClipNode(spec)
		require.NoError(t, err)
		assert.NotContains(t, chainNames(node), "crop")
		assert.NotContains(t, chainNames(node), "zoompan")
		assert.Equal(t, "fade=t=in:st=0:d=0.5", findFilter(t, node, "fade").String())
	})

	t.Run("speed retimes before framing", func(t *testing.T) {
		spec := base
		spec.Effect = EffectNone
		spec.Speed = 1.2
		node, err := ClipNode(spec)
		require.NoError(t, err)
		assert.Equal(t, "setpts=(PTS-STARTPTS)/1.2", node.Chain[0].String())
	})

	t.Run("rejects zero frames", func(t *testing.T) {
		spec := base
		spec.Frames = 0
		_, err := ClipNode(spec)
		var gerr *GraphAssemblyError
		assert.True(t, errors.As(err, &gerr))
	})
}
