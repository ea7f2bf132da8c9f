package compose

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FPS is the single global output frame rate.
const FPS = 25

// Defaults for CompositionSettings.
const (
	DefaultWidth              = 1080
	DefaultHeight             = 1920
	DefaultZoomIntensity      = 0.1
	DefaultOutroDuration      = 2.0
	DefaultTransitionDuration = 0.5
	maxZoomIntensity          = 1.0

	// Upper bounds keep frame counts and pixel sizes inside int range.
	maxDimension = 8192
	maxSeconds   = 3600.0
)

// Effect is the per-clip visual effect applied in image mode.
type Effect string

const (
	EffectNone      Effect = "none"
	EffectZoomIn    Effect = "zoom_in"
	EffectZoomOut   Effect = "zoom_out"
	EffectZoomInOut Effect = "zoom_in_out"
	EffectZoomOutIn Effect = "zoom_out_in"
	EffectPulse     Effect = "pulse"
	EffectPanLeft   Effect = "pan_left"
	EffectPanRight  Effect = "pan_right"
	EffectPad       Effect = "pad"
)

// Effects lists every supported effect.
var Effects = []Effect{
	EffectNone, EffectZoomIn, EffectZoomOut, EffectZoomInOut, EffectZoomOutIn,
	EffectPulse, EffectPanLeft, EffectPanRight, EffectPad,
}

// Animated reports whether the effect moves the frame over time.
func (e Effect) Animated() bool {
	switch e {
	case EffectNone, EffectPad:
		return false
	}
	return true
}

// ParseEffect maps a settings value to an Effect.
func ParseEffect(s string) (Effect, bool) {
	for _, e := range Effects {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}

// Transition is the join between consecutive clips. Every value other than
// TransitionNone is an xfade transition name.
type Transition string

const (
	TransitionNone       Transition = "none"
	TransitionFade       Transition = "fade"
	TransitionFadeBlack  Transition = "fadeblack"
	TransitionFadeWhite  Transition = "fadewhite"
	TransitionDissolve   Transition = "dissolve"
	TransitionWipeLeft   Transition = "wipeleft"
	TransitionWipeRight  Transition = "wiperight"
	TransitionSlideLeft  Transition = "slideleft"
	TransitionSlideRight Transition = "slideright"
	TransitionSlideUp    Transition = "slideup"
	TransitionSlideDown  Transition = "slidedown"
	TransitionCircleOpen Transition = "circleopen"
	TransitionSmoothLeft Transition = "smoothleft"
)

// Transitions lists every supported transition.
var Transitions = []Transition{
	TransitionNone, TransitionFade, TransitionFadeBlack, TransitionFadeWhite,
	TransitionDissolve, TransitionWipeLeft, TransitionWipeRight, TransitionSlideLeft,
	TransitionSlideRight, TransitionSlideUp, TransitionSlideDown, TransitionCircleOpen,
	TransitionSmoothLeft,
}

// ParseTransition maps a settings value to a Transition.
func ParseTransition(s string) (Transition, bool) {
	for _, t := range Transitions {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Mode selects how video clips are fitted into their slot.
type Mode string

const (
	// ModeFit trims or loops each clip to an equal share of the content duration.
	ModeFit Mode = "fit"
	// ModeSpeed retimes all clips by one global factor.
	ModeSpeed Mode = "speed"
)

// ParseMode maps a settings value to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeFit, ModeSpeed:
		return Mode(s), true
	}
	return "", false
}

// Settings is the recognised composition configuration.
type Settings struct {
	// Duration is the explicit per-clip duration in seconds. Zero means "auto":
	// the audio track decides the total.
	Duration           float64
	Effect             Effect
	Vignette           bool
	ZoomIntensity      float64
	Width              int
	Height             int
	OutroDuration      float64
	Mode               Mode
	Transition         Transition
	TransitionDuration float64
	FPS                int
	Caption            CaptionStyle
}

// DefaultSettings returns the settings used when nothing is supplied.
func DefaultSettings() Settings {
	return Settings{
		Effect:             EffectNone,
		ZoomIntensity:      DefaultZoomIntensity,
		Width:              DefaultWidth,
		Height:             DefaultHeight,
		OutroDuration:      DefaultOutroDuration,
		Mode:               ModeFit,
		Transition:         TransitionNone,
		TransitionDuration: DefaultTransitionDuration,
		FPS:                FPS,
		Caption:            DefaultCaptionStyle(),
	}
}

// AutoDuration reports whether the total duration follows the audio track.
func (s Settings) AutoDuration() bool {
	return s.Duration <= 0
}

// ParseSettings decodes a raw JSON settings payload. An empty payload yields
// defaults. A malformed payload yields defaults and a *SettingsParseError.
func ParseSettings(raw string) (Settings, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultSettings(), nil
	}

	var values map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return DefaultSettings(), &SettingsParseError{Err: err}
	}

	return SettingsFromMap(values)
}

// SettingsFromMap applies recognised keys over the defaults. Unknown keys are
// ignored. A recognised key with an unusable value keeps its default and is
// reported in the returned *SettingsParseError.
func SettingsFromMap(values map[string]interface{}) (Settings, error) {
	s := DefaultSettings()
	var bad []string

	if v, ok := values["duration"]; ok {
		if d, ok := parseDuration(v); ok {
			s.Duration = d
		} else {
			bad = append(bad, "duration")
		}
	}
	if v, ok := values["effect"]; ok {
		if e, ok := ParseEffect(toString(v)); ok {
			s.Effect = e
		} else {
			bad = append(bad, "effect")
		}
	}
	if v, ok := values["vignette"]; ok {
		if b, ok := toBool(v); ok {
			s.Vignette = b
		} else {
			bad = append(bad, "vignette")
		}
	}
	if v, ok := values["zoom_intensity"]; ok {
		if f, ok := toFloat(v); ok && f >= 0 {
			s.ZoomIntensity = min(f, maxZoomIntensity)
		} else {
			bad = append(bad, "zoom_intensity")
		}
	}
	if v, ok := values["width"]; ok {
		if n, ok := toDimension(v); ok {
			s.Width = n
		} else {
			bad = append(bad, "width")
		}
	}
	if v, ok := values["height"]; ok {
		if n, ok := toDimension(v); ok {
			s.Height = n
		} else {
			bad = append(bad, "height")
		}
	}
	if v, ok := values["outro_duration"]; ok {
		if f, ok := toFloat(v); ok && f > 0 && f <= maxSeconds {
			s.OutroDuration = f
		} else {
			bad = append(bad, "outro_duration")
		}
	}
	if v, ok := values["mode"]; ok {
		if m, ok := ParseMode(toString(v)); ok {
			s.Mode = m
		} else {
			bad = append(bad, "mode")
		}
	}
	if v, ok := values["transition"]; ok {
		if t, ok := ParseTransition(toString(v)); ok {
			s.Transition = t
		} else {
			bad = append(bad, "transition")
		}
	}
	if v, ok := values["transition_duration"]; ok {
		if f, ok := toFloat(v); ok && f > 0 && f <= maxSeconds {
			s.TransitionDuration = f
		} else {
			bad = append(bad, "transition_duration")
		}
	}

	bad = append(bad, s.Caption.apply(values)...)

	if len(bad) > 0 {
		sort.Strings(bad)
		return s, &SettingsParseError{Err: fmt.Errorf("invalid values for %s", strings.Join(bad, ", "))}
	}
	return s, nil
}

func parseDuration(v interface{}) (float64, bool) {
	if str, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(str), "auto") {
		return 0, true
	}
	f, ok := toFloat(v)
	if !ok || f <= 0 || f > maxSeconds {
		return 0, false
	}
	return f, true
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return ""
}

// toFloat converts JSON, TOML and string numbers. NaN and infinities are
// rejected.
func toFloat(v interface{}) (float64, bool) {
	f, ok := anyFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func anyFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	}
	return false, false
}

// toDimension accepts a pixel size in [2, maxDimension] and rounds it down to
// an even number, which yuv420p requires.
func toDimension(v interface{}) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f < 2 || f > maxDimension {
		return 0, false
	}
	n := int(f)
	return n - n%2, true
}
