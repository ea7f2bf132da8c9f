package compose

import (
	"fmt"
)

// TerminalLabel is the final visual stream of every composition graph.
const TerminalLabel = "vout"

// Join is one cross-fade between the running stream and the next clip.
type Join struct {
	Into   int
	Offset float64
}

// Joins returns the cross-fade points of a timeline in order. Each offset is
// the cumulative visible duration before the incoming clip, less the fade.
func (t *Timeline) Joins() []Join {
	if !t.Crossfade() {
		return nil
	}
	var joins []Join
	for i := 1; i < len(t.Clips); i++ {
		joins = append(joins, Join{Into: i, Offset: t.Clips[i].Start - t.TransitionDuration})
	}
	if t.Outro != nil {
		joins = append(joins, Join{Into: t.Outro.Index, Offset: t.Content - t.TransitionDuration})
	}
	return joins
}

// TransitionNodes stitches the processed clip labels, and the outro label when
// non-empty, into one stream labelled TerminalLabel.
func TransitionNodes(clipLabels []string, outroLabel string, tl *Timeline) ([]Node, error) {
	if len(clipLabels) == 0 {
		return nil, assemblyErrorf("no clip streams to join")
	}
	if len(clipLabels) != len(tl.Clips) {
		return nil, assemblyErrorf("%d clip streams for %d timeline slots", len(clipLabels), len(tl.Clips))
	}

	labels := append([]string(nil), clipLabels...)
	if outroLabel != "" {
		if tl.Outro == nil {
			return nil, assemblyErrorf("outro stream without an outro slot")
		}
		labels = append(labels, outroLabel)
	}

	joins := tl.Joins()
	if len(joins) == 0 {
		return []Node{{
			Inputs: labels,
			Chain:  []Filter{NewFilter("concat", Opt("n", len(labels)), Opt("v", 1), Opt("a", 0))},
			Output: TerminalLabel,
		}}, nil
	}
	if len(joins) != len(labels)-1 {
		return nil, assemblyErrorf("%d cross-fades for %d streams", len(joins), len(labels))
	}

	nodes := make([]Node, 0, len(joins))
	prev := labels[0]
	last := -1.0
	for k, j := range joins {
		if j.Offset <= last || j.Offset <= 0 {
			return nil, assemblyErrorf("cross-fade into stream %d has non-increasing offset %.3f", j.Into, j.Offset)
		}
		last = j.Offset

		out := fmt.Sprintf("x%d", j.Into)
		if k == len(joins)-1 {
			out = TerminalLabel
		}
		nodes = append(nodes, Node{
			Inputs: []string{prev, labels[j.Into]},
			Chain: []Filter{NewFilter("xfade",
				Opt("transition", string(tl.Transition)),
				Opt("duration", tl.TransitionDuration),
				Opt("offset", j.Offset),
			)},
			Output: out,
		})
		prev = out
	}
	return nodes, nil
}
