package compose

import (
	"math"
)

// FallbackClipDuration is used per clip when a duration cannot be probed.
const FallbackClipDuration = 5.0

// durationTolerance bounds floating point drift when comparing summed durations.
const durationTolerance = 1e-3

// ClipKind distinguishes still images from video clips.
type ClipKind int

const (
	ClipImage ClipKind = iota
	ClipVideo
)

func (k ClipKind) String() string {
	if k == ClipVideo {
		return "video"
	}
	return "image"
}

// Slot is one clip's place on the timeline.
type Slot struct {
	Index int
	// Start is where the clip becomes the visible stream.
	Start float64
	// Duration is the clip's share of the timeline.
	Duration float64
	// Lead is extra rendered time at the head of the clip that is hidden under
	// the incoming cross-fade.
	Lead float64
	// SourceDuration is the probed length of a video clip.
	SourceDuration float64
	// Loops is how many times a video source is played back to back before
	// trimming. 1 means no looping.
	Loops int
	// Speed divides the clip's timestamps. 1 means no retiming.
	Speed float64
}

// RenderDuration is the length of the clip's processed stream.
func (s Slot) RenderDuration() float64 {
	return s.Duration + s.Lead
}

// Frames is the number of output frames in the processed stream.
func (s Slot) Frames() int {
	return int(math.Round(s.RenderDuration() * FPS))
}

// End is where the clip stops being the visible stream.
func (s Slot) End() float64 {
	return s.Start + s.Duration
}

// Timeline is the per-request ordering of clips and the outro.
type Timeline struct {
	Kind               ClipKind
	Clips              []Slot
	Outro              *Slot
	Total              float64
	Content            float64
	Mode               Mode
	Transition         Transition
	TransitionDuration float64
	// SpeedFactor is the global retime factor in speed mode.
	SpeedFactor float64
	// Fallback is set when the total was derived from FallbackClipDuration.
	Fallback bool
}

// Crossfade reports whether clips are joined with xfade.
func (t *Timeline) Crossfade() bool {
	return t.Transition != TransitionNone
}

// Sum returns the visible durations of all clips plus the outro.
func (t *Timeline) Sum() float64 {
	sum := 0.0
	for _, c := range t.Clips {
		sum += c.Duration
	}
	if t.Outro != nil {
		sum += t.Outro.Duration
	}
	return sum
}

// TimelineRequest carries everything the resolver needs.
type TimelineRequest struct {
	Kind      ClipKind
	ClipCount int
	// SourceDurations holds one probed duration per video clip. Non-positive
	// entries fall back to FallbackClipDuration.
	SourceDurations []float64
	// AudioDuration is the probed audio length. Non-positive means unknown.
	AudioDuration float64
	HasOutro      bool
	Settings      Settings
}

// ResolveTimeline computes every clip's duration, offset and retiming so that
// the clips plus the outro add up to the target total.
func ResolveTimeline(req TimelineRequest) (*Timeline, error) {
	n := req.ClipCount
	if n <= 0 {
		return nil, validationErrorf(fieldForKind(req.Kind), "at least one clip is required")
	}
	s := req.Settings

	outro := 0.0
	if req.HasOutro {
		outro = s.OutroDuration
	}

	tl := &Timeline{
		Kind:               req.Kind,
		Mode:               s.Mode,
		Transition:         s.Transition,
		TransitionDuration: s.TransitionDuration,
		SpeedFactor:        1,
	}

	switch {
	case !s.AutoDuration():
		tl.Total = s.Duration*float64(n) + outro
	case req.AudioDuration > 0:
		tl.Total = req.AudioDuration
	default:
		tl.Total = FallbackClipDuration*float64(n) + outro
		tl.Fallback = true
	}

	tl.Content = tl.Total - outro
	if tl.Content <= 0 {
		return nil, validationErrorf(FieldAudio, "total duration %.3fs leaves no room for clips after a %.3fs outro", tl.Total, outro)
	}

	lead := 0.0
	if tl.Crossfade() {
		lead = s.TransitionDuration
	}

	tl.Clips = make([]Slot, n)
	switch {
	case req.Kind == ClipVideo && s.Mode == ModeSpeed:
		resolveSpeed(tl, req.SourceDurations, lead)
	default:
		per := tl.Content / float64(n)
		for i := range tl.Clips {
			tl.Clips[i] = Slot{Index: i, Duration: per, Loops: 1, Speed: 1}
			if i > 0 {
				tl.Clips[i].Lead = lead
			}
			if req.Kind == ClipVideo {
				fitClip(&tl.Clips[i], sourceDuration(req.SourceDurations, i))
			}
		}
	}

	start := 0.0
	for i := range tl.Clips {
		tl.Clips[i].Start = start
		start += tl.Clips[i].Duration
	}

	if req.HasOutro {
		tl.Outro = &Slot{Index: n, Start: tl.Content, Duration: outro, Lead: lead, Loops: 1, Speed: 1}
	}

	if err := tl.check(); err != nil {
		return nil, err
	}
	return tl, nil
}

// fitClip sets the loop count of a video clip whose source is shorter than its
// rendered length. One spare playback is added so the trim never runs past
// the decodable end of the looped stream.
func fitClip(slot *Slot, source float64) {
	slot.SourceDuration = source
	target := slot.RenderDuration()
	if source >= target {
		return
	}
	slot.Loops = int(math.Ceil(target/source)) + 1
}

// resolveSpeed retimes every clip by one factor. With cross-fades each clip
// after the first also covers the transition lead, so the factor is taken
// against the content plus all leads.
func resolveSpeed(tl *Timeline, durations []float64, lead float64) {
	n := len(tl.Clips)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += sourceDuration(durations, i)
	}
	rendered := tl.Content + lead*float64(n-1)
	tl.SpeedFactor = sum / rendered

	for i := range tl.Clips {
		src := sourceDuration(durations, i)
		slot := Slot{Index: i, SourceDuration: src, Loops: 1, Speed: tl.SpeedFactor}
		length := src / tl.SpeedFactor
		if i > 0 {
			slot.Lead = lead
		}
		slot.Duration = length - slot.Lead
		tl.Clips[i] = slot
	}
}

func sourceDuration(durations []float64, i int) float64 {
	if i < len(durations) && durations[i] > 0 {
		return durations[i]
	}
	return FallbackClipDuration
}

func (t *Timeline) check() error {
	field := fieldForKind(t.Kind)
	for _, c := range t.Clips {
		if c.Duration <= 0 || c.Frames() < 1 {
			return validationErrorf(field, "clip %d resolves to a zero-length duration", c.Index)
		}
	}

	if t.Crossfade() {
		td := t.TransitionDuration
		for i := 1; i < len(t.Clips); i++ {
			shorter := math.Min(t.Clips[i-1].Duration, t.Clips[i].Duration)
			if td >= shorter {
				return validationErrorf("transition_duration", "%.3fs transition does not fit between clips %d and %d (%.3fs)", td, i-1, i, shorter)
			}
		}
		if t.Outro != nil {
			last := t.Clips[len(t.Clips)-1].Duration
			if shorter := math.Min(last, t.Outro.Duration); td >= shorter {
				return validationErrorf("transition_duration", "%.3fs transition does not fit before the outro (%.3fs)", td, shorter)
			}
		}
	}

	if math.Abs(t.Sum()-t.Total) > durationTolerance {
		return assemblyErrorf("timeline sums to %.4fs, expected %.4fs", t.Sum(), t.Total)
	}
	return nil
}

func fieldForKind(k ClipKind) string {
	if k == ClipVideo {
		return FieldVideo
	}
	return FieldImages
}
