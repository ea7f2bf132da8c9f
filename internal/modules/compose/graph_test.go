package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterString(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"bare", NewFilter("setsar", Arg(1)), "setsar=1"},
		{"no options", NewFilter("null"), "null"},
		{"keyed", NewFilter("trim", Opt("duration", 4.1666666667)), "trim=duration=4.166667"},
		{"mixed", NewFilter("scale", Arg(1080), Arg(1920), Opt("force_original_aspect_ratio", "increase")), "scale=1080:1920:force_original_aspect_ratio=increase"},
		{"quotes expressions with commas", NewFilter("zoompan", Opt("z", "min(1+0.1*on/125,1.1)"), Opt("d", 1)), "zoompan=z='min(1+0.1*on/125,1.1)':d=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.String())
		})
	}
}

func TestGraphValidate(t *testing.T) {
	chain := []Filter{NewFilter("null")}

	tests := []struct {
		name   string
		nodes  []Node
		inputs int
		ok     bool
	}{
		{
			name: "valid chain",
			nodes: []Node{
				{Inputs: []string{"0:v"}, Chain: chain, Output: "v0"},
				{Inputs: []string{"1:v"}, Chain: chain, Output: "v1"},
				{Inputs: []string{"v0", "v1"}, Chain: chain, Output: "vout"},
			},
			inputs: 2,
			ok:     true,
		},
		{
			name:   "empty graph",
			inputs: 1,
		},
		{
			name: "forward reference",
			nodes: []Node{
				{Inputs: []string{"v1"}, Chain: chain, Output: "vout"},
				{Inputs: []string{"0:v"}, Chain: chain, Output: "v1"},
			},
			inputs: 1,
		},
		{
			name: "input out of range",
			nodes: []Node{
				{Inputs: []string{"3:v"}, Chain: chain, Output: "vout"},
			},
			inputs: 2,
		},
		{
			name: "duplicate label",
			nodes: []Node{
				{Inputs: []string{"0:v"}, Chain: chain, Output: "v0"},
				{Inputs: []string{"0:v"}, Chain: chain, Output: "v0"},
				{Inputs: []string{"v0"}, Chain: chain, Output: "vout"},
			},
			inputs: 1,
		},
		{
			name: "dangling intermediate",
			nodes: []Node{
				{Inputs: []string{"0:v"}, Chain: chain, Output: "v0"},
				{Inputs: []string{"1:v"}, Chain: chain, Output: "vout"},
			},
			inputs: 2,
		},
		{
			name: "terminal never produced",
			nodes: []Node{
				{Inputs: []string{"0:v"}, Chain: chain, Output: "v0"},
			},
			inputs: 1,
		},
		{
			name: "node without filters",
			nodes: []Node{
				{Inputs: []string{"0:v"}, Output: "vout"},
			},
			inputs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Graph{}
			g.Add(tt.nodes...)
			err := g.Validate(tt.inputs, "vout")
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var gerr *GraphAssemblyError
			assert.True(t, errors.As(err, &gerr), "got %v", err)
		})
	}
}

func TestGraphString(t *testing.T) {
	g := &Graph{}
	g.Add(
		Node{Inputs: []string{"0:v"}, Chain: []Filter{NewFilter("setsar", Arg(1)), NewFilter("format", Arg("yuv420p"))}, Output: "v0"},
		Node{Inputs: []string{"v0"}, Chain: []Filter{NewFilter("concat", Opt("n", 1), Opt("v", 1), Opt("a", 0))}, Output: "vout"},
	)
	require.NoError(t, g.Validate(1, "vout"))
	assert.Equal(t, "[0:v]setsar=1,format=yuv420p[v0];[v0]concat=n=1:v=1:a=0[vout]", g.String())
	assert.Equal(t, 1, g.Count("concat"))
}
