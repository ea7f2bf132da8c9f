package compose

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Option is one filter option. An empty Key makes it positional.
type Option struct {
	Key   string
	Value string
}

// Filter is a single filter with its options in order.
type Filter struct {
	Name    string
	Options []Option
}

// NewFilter builds a Filter.
func NewFilter(name string, opts ...Option) Filter {
	return Filter{Name: name, Options: opts}
}

// Opt builds a keyed option, formatting numbers compactly.
func Opt(key string, value interface{}) Option {
	return Option{Key: key, Value: formatValue(value)}
}

// Arg builds a positional option.
func Arg(value interface{}) Option {
	return Option{Value: formatValue(value)}
}

func (f Filter) String() string {
	if len(f.Options) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Options))
	for i, o := range f.Options {
		v := quoteValue(o.Value)
		if o.Key == "" {
			parts[i] = v
		} else {
			parts[i] = o.Key + "=" + v
		}
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

// Node reads one or more streams, runs them through a linear filter chain and
// produces exactly one labelled stream.
type Node struct {
	Inputs []string
	Chain  []Filter
	Output string
}

func (n Node) String() string {
	var b strings.Builder
	for _, in := range n.Inputs {
		b.WriteString("[" + in + "]")
	}
	for i, f := range n.Chain {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.String())
	}
	b.WriteString("[" + n.Output + "]")
	return b.String()
}

// Graph is an ordered list of nodes. It is only turned into ffmpeg's textual
// filtergraph form by String.
type Graph struct {
	nodes []Node
}

// Add appends nodes in dependency order.
func (g *Graph) Add(nodes ...Node) {
	g.nodes = append(g.nodes, nodes...)
}

// Nodes returns the nodes in order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Count returns how many nodes contain a filter with the given name.
func (g *Graph) Count(filter string) int {
	count := 0
	for _, n := range g.nodes {
		for _, f := range n.Chain {
			if f.Name == filter {
				count++
				break
			}
		}
	}
	return count
}

func (g *Graph) String() string {
	parts := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ";")
}

var streamRef = regexp.MustCompile(`^(\d+):[va](:\d+)?$`)

// Validate checks label discipline: raw stream references point at existing
// inputs, every consumed label was produced by an earlier node, no label is
// produced twice, intermediate labels are consumed and terminal is the single
// unconsumed output.
func (g *Graph) Validate(inputCount int, terminal string) error {
	if len(g.nodes) == 0 {
		return assemblyErrorf("graph has no nodes")
	}

	produced := make(map[string]bool, len(g.nodes))
	consumed := make(map[string]int, len(g.nodes))

	for i, n := range g.nodes {
		if len(n.Inputs) == 0 {
			return assemblyErrorf("node %d has no inputs", i)
		}
		if len(n.Chain) == 0 {
			return assemblyErrorf("node %d has no filters", i)
		}
		for _, in := range n.Inputs {
			if m := streamRef.FindStringSubmatch(in); m != nil {
				idx, _ := strconv.Atoi(m[1])
				if idx >= inputCount {
					return assemblyErrorf("node %d references input %d of %d", i, idx, inputCount)
				}
				continue
			}
			if !produced[in] {
				return assemblyErrorf("node %d consumes label %q before it is produced", i, in)
			}
			consumed[in]++
		}
		if n.Output == "" || streamRef.MatchString(n.Output) {
			return assemblyErrorf("node %d has invalid output label %q", i, n.Output)
		}
		if produced[n.Output] {
			return assemblyErrorf("label %q produced twice", n.Output)
		}
		produced[n.Output] = true
	}

	if !produced[terminal] {
		return assemblyErrorf("terminal label %q is never produced", terminal)
	}
	if consumed[terminal] > 0 {
		return assemblyErrorf("terminal label %q is consumed inside the graph", terminal)
	}
	for label := range produced {
		if label != terminal && consumed[label] == 0 {
			return assemblyErrorf("label %q is produced but never consumed", label)
		}
	}
	return nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatNumber(x)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// formatNumber renders a float with at most six decimals and no trailing zeros.
func formatNumber(f float64) string {
	r := math.Round(f*1e6) / 1e6
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func quoteValue(v string) string {
	if strings.ContainsAny(v, ",:;[]' ") {
		return "'" + v + "'"
	}
	return v
}
