package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	t.Run("empty payload yields defaults", func(t *testing.T) {
		s, err := ParseSettings("")
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings(), s)
		assert.True(t, s.AutoDuration())
		assert.Equal(t, 1080, s.Width)
		assert.Equal(t, 1920, s.Height)
		assert.Equal(t, 25, s.FPS)
		assert.InDelta(t, 0.1, s.ZoomIntensity, 1e-9)
		assert.InDelta(t, 2, s.OutroDuration, 1e-9)
		assert.InDelta(t, 0.5, s.TransitionDuration, 1e-9)
	})

	t.Run("malformed payload yields defaults and an error", func(t *testing.T) {
		s, err := ParseSettings(`{"effect": "zoom_in"`)
		var perr *SettingsParseError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, DefaultSettings(), s)
	})

	t.Run("recognised keys override defaults", func(t *testing.T) {
		s, err := ParseSettings(`{
			"duration": 4,
			"effect": "pan_left",
			"vignette": true,
			"zoom_intensity": 0.25,
			"width": 721,
			"height": "1280",
			"outro_duration": 3,
			"mode": "speed",
			"transition": "wipeleft",
			"transition_duration": 0.75,
			"fps": 60,
			"caption_position": "top_left",
			"unknown": {"nested": true}
		}`)
		require.NoError(t, err)
		assert.InDelta(t, 4, s.Duration, 1e-9)
		assert.False(t, s.AutoDuration())
		assert.Equal(t, EffectPanLeft, s.Effect)
		assert.True(t, s.Vignette)
		assert.InDelta(t, 0.25, s.ZoomIntensity, 1e-9)
		assert.Equal(t, 720, s.Width)
		assert.Equal(t, 1280, s.Height)
		assert.InDelta(t, 3, s.OutroDuration, 1e-9)
		assert.Equal(t, ModeSpeed, s.Mode)
		assert.Equal(t, TransitionWipeLeft, s.Transition)
		assert.InDelta(t, 0.75, s.TransitionDuration, 1e-9)
		assert.Equal(t, FPS, s.FPS)
		assert.Equal(t, PositionTopLeft, s.Caption.Position)
	})

	t.Run("auto duration string", func(t *testing.T) {
		s, err := ParseSettings(`{"duration": "auto"}`)
		require.NoError(t, err)
		assert.True(t, s.AutoDuration())
	})

	t.Run("bad values keep their defaults", func(t *testing.T) {
		s, err := ParseSettings(`{"effect": "spin", "width": -5, "mode": "fast", "vignette": true}`)
		var perr *SettingsParseError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, err.Error(), "effect")
		assert.Contains(t, err.Error(), "mode")
		assert.Contains(t, err.Error(), "width")
		assert.Equal(t, EffectNone, s.Effect)
		assert.Equal(t, DefaultWidth, s.Width)
		assert.Equal(t, ModeFit, s.Mode)
		assert.True(t, s.Vignette)
	})

	t.Run("non-finite and oversized numbers keep their defaults", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
			key     string
		}{
			{"infinite width", `{"width": "Inf"}`, "width"},
			{"nan height", `{"height": "NaN"}`, "height"},
			{"huge width", `{"width": 1e30}`, "width"},
			{"width past limit", `{"width": 8194}`, "width"},
			{"infinite duration", `{"duration": "+Inf"}`, "duration"},
			{"huge duration", `{"duration": 1e30}`, "duration"},
			{"nan intensity", `{"zoom_intensity": "nan"}`, "zoom_intensity"},
			{"huge outro", `{"outro_duration": "1e300"}`, "outro_duration"},
			{"huge caption size", `{"caption_size": 1e20}`, "caption_size"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s, err := ParseSettings(tt.payload)
				var perr *SettingsParseError
				require.True(t, errors.As(err, &perr))
				assert.Contains(t, err.Error(), tt.key)
				assert.Equal(t, DefaultSettings(), s)
			})
		}
	})

	t.Run("largest dimension is accepted", func(t *testing.T) {
		s, err := ParseSettings(`{"width": 8192, "height": "8191"}`)
		require.NoError(t, err)
		assert.Equal(t, 8192, s.Width)
		assert.Equal(t, 8190, s.Height)
	})

	t.Run("intensity is capped", func(t *testing.T) {
		s, err := ParseSettings(`{"zoom_intensity": 5}`)
		require.NoError(t, err)
		assert.InDelta(t, 1, s.ZoomIntensity, 1e-9)
	})
}

func TestSettingsFromMapTOMLTypes(t *testing.T) {
	s, err := SettingsFromMap(map[string]interface{}{
		"duration":     int64(6),
		"width":        int64(720),
		"caption_size": int64(48),
		"caption_bold": false,
	})
	require.NoError(t, err)
	assert.InDelta(t, 6, s.Duration, 1e-9)
	assert.Equal(t, 720, s.Width)
	assert.Equal(t, 48, s.Caption.Size)
	assert.False(t, s.Caption.Bold)
}

func TestEnumParsing(t *testing.T) {
	for _, e := range Effects {
		got, ok := ParseEffect(string(e))
		assert.True(t, ok)
		assert.Equal(t, e, got)
	}
	for _, tr := range Transitions {
		got, ok := ParseTransition(string(tr))
		assert.True(t, ok)
		assert.Equal(t, tr, got)
	}
	_, ok := ParseEffect("ZOOM")
	assert.False(t, ok)
	_, ok = ParseMode("loop")
	assert.False(t, ok)
}
