package compose

import (
	"fmt"
)

// oversample scales the source above the output size before zoompan so that
// zoom and pan motion never reveal the frame edge.
const oversample = 2

// outroFadeIn is the fade-in applied to the start of every outro.
const outroFadeIn = 0.5

const vignetteAngle = "PI/4"

// ClipSpec describes one clip's processing chain.
type ClipSpec struct {
	Index int
	// Source is the raw input stream, e.g. "0:v".
	Source string
	// Output is the label the chain binds to.
	Output    string
	Width     int
	Height    int
	Duration  float64
	Frames    int
	Effect    Effect
	Intensity float64
	Vignette  bool
	// Speed divides timestamps when greater than zero and not 1.
	Speed float64
	// Outro pads instead of cropping and fades in.
	Outro bool
}

// zoomPan is the z, x and y expressions of a zoompan filter.
type zoomPan struct {
	z, x, y string
}

const (
	centerX = "iw/2-(iw/zoom/2)"
	centerY = "ih/2-(ih/zoom/2)"
)

// motions maps every animated effect to its motion law. Progress is on/span,
// where span is the index of the clip's last frame, so progress runs from 0
// on the first rendered frame to 1 on the last.
var motions = map[Effect]func(intensity float64, span int) zoomPan{
	EffectZoomIn: func(i float64, n int) zoomPan {
		return zoomPan{
			z: fmt.Sprintf("min(1+%s*on/%d,%s)", formatNumber(i), n, formatNumber(1+i)),
			x: centerX, y: centerY,
		}
	},
	EffectZoomOut: func(i float64, n int) zoomPan {
		return zoomPan{
			z: fmt.Sprintf("max(%s-%s*on/%d,1)", formatNumber(1+i), formatNumber(i), n),
			x: centerX, y: centerY,
		}
	},
	EffectZoomInOut: func(i float64, n int) zoomPan {
		return zoomPan{
			z: fmt.Sprintf("1+%s*(1-abs(2*on/%d-1))", formatNumber(i), n),
			x: centerX, y: centerY,
		}
	},
	EffectZoomOutIn: func(i float64, n int) zoomPan {
		return zoomPan{
			z: fmt.Sprintf("1+%s*abs(2*on/%d-1)", formatNumber(i), n),
			x: centerX, y: centerY,
		}
	},
	EffectPulse: func(i float64, n int) zoomPan {
		return zoomPan{
			z: fmt.Sprintf("1+%s*(1-cos(2*PI*on/%d))", formatNumber(i/2), n),
			x: centerX, y: centerY,
		}
	},
	EffectPanLeft: func(i float64, n int) zoomPan {
		return zoomPan{
			z: formatNumber(1 + i),
			x: fmt.Sprintf("(iw-iw/zoom)*(1-on/%d)", n),
			y: centerY,
		}
	},
	EffectPanRight: func(i float64, n int) zoomPan {
		return zoomPan{
			z: formatNumber(1 + i),
			x: fmt.Sprintf("(iw-iw/zoom)*on/%d", n),
			y: centerY,
		}
	},
}

// ClipNode builds the processing chain of one clip: framing, effect, trim,
// optional vignette, bound to spec.Output.
func ClipNode(spec ClipSpec) (Node, error) {
	if spec.Frames < 1 {
		return Node{}, assemblyErrorf("clip %d has no frames", spec.Index)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return Node{}, assemblyErrorf("clip %d has invalid size %dx%d", spec.Index, spec.Width, spec.Height)
	}

	var chain []Filter
	if spec.Speed > 0 && spec.Speed != 1 {
		chain = append(chain, NewFilter("setpts", Arg(fmt.Sprintf("(PTS-STARTPTS)/%s", formatNumber(spec.Speed)))))
	}

	motion, animated := motions[spec.Effect]
	if spec.Outro || spec.Intensity <= 0 {
		animated = false
	}

	switch {
	case spec.Outro || spec.Effect == EffectPad:
		chain = append(chain, fitPad(spec.Width, spec.Height)...)
	case animated:
		chain = append(chain, fillCrop(spec.Width*oversample, spec.Height*oversample)...)
		zp := motion(spec.Intensity, max(spec.Frames-1, 1))
		chain = append(chain, NewFilter("zoompan",
			Opt("z", zp.z),
			Opt("x", zp.x),
			Opt("y", zp.y),
			Opt("d", 1),
			Opt("s", fmt.Sprintf("%dx%d", spec.Width, spec.Height)),
			Opt("fps", FPS),
		))
	default:
		chain = append(chain, fillCrop(spec.Width, spec.Height)...)
	}

	chain = append(chain,
		NewFilter("fps", Arg(FPS)),
		NewFilter("trim", Opt("duration", spec.Duration)),
		NewFilter("setpts", Arg("PTS-STARTPTS")),
		NewFilter("setsar", Arg(1)),
	)

	if spec.Outro {
		chain = append(chain, NewFilter("fade",
			Opt("t", "in"),
			Opt("st", 0),
			Opt("d", min(outroFadeIn, spec.Duration)),
		))
	}
	if spec.Vignette {
		chain = append(chain, NewFilter("vignette", Arg(vignetteAngle)))
	}
	chain = append(chain, NewFilter("format", Arg("yuv420p")))

	return Node{Inputs: []string{spec.Source}, Chain: chain, Output: spec.Output}, nil
}

// fillCrop covers the target size and crops the overflow.
func fillCrop(w, h int) []Filter {
	return []Filter{
		NewFilter("scale", Arg(w), Arg(h), Opt("force_original_aspect_ratio", "increase")),
		NewFilter("crop", Arg(w), Arg(h)),
	}
}

// fitPad fits inside the target size and letterboxes the rest.
func fitPad(w, h int) []Filter {
	return []Filter{
		NewFilter("scale", Arg(w), Arg(h), Opt("force_original_aspect_ratio", "decrease")),
		NewFilter("pad", Arg(w), Arg(h), Arg("(ow-iw)/2"), Arg("(oh-ih)/2"), Arg("black")),
	}
}
