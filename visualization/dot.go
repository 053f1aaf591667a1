// Package visualization renders state machines as Graphviz documents.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/0000marcell/xstate"
)

// DOTGenerator generates Graphviz DOT representations of a state
// machine's node tree.
type DOTGenerator struct {
	machine *xstate.StateMachine
	options DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowEventTypes bool
	RankDirection  string // "TB", "LR", "BT", "RL"
	NodeShape      string
	CompoundStyle  string
	ParallelStyle  string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowEventTypes: true,
		RankDirection:  "TB",
		NodeShape:      "box",
		CompoundStyle:  "rounded",
		ParallelStyle:  "dashed,rounded",
	}
}

// NewDOTGenerator creates a new DOT generator for the given machine
func NewDOTGenerator(machine *xstate.StateMachine, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &DOTGenerator{machine: machine, options: opts}
}

// Generate creates a DOT representation of the state machine
func (g *DOTGenerator) Generate() (string, error) {
	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	root := g.machine.Root()
	for _, child := range root.OrderedChildren() {
		g.generateNode(&dot, child, "  ")
	}
	dot.WriteString("\n")
	g.generateTransitions(&dot, root)

	dot.WriteString("}\n")
	return dot.String(), nil
}

// generateNode emits one node, using cluster subgraphs for compound and
// parallel states.
func (g *DOTGenerator) generateNode(dot *strings.Builder, node *xstate.StateNode, indent string) {
	switch node.Kind {
	case xstate.KindCompound, xstate.KindParallel:
		style := g.options.CompoundStyle
		if node.Kind == xstate.KindParallel {
			style = g.options.ParallelStyle
		}
		dot.WriteString(fmt.Sprintf("%ssubgraph \"cluster_%s\" {\n", indent, node.ID))
		dot.WriteString(fmt.Sprintf("%s  label=\"%s\";\n", indent, node.Key))
		dot.WriteString(fmt.Sprintf("%s  style=\"%s\";\n", indent, style))
		for _, child := range node.OrderedChildren() {
			g.generateNode(dot, child, indent+"  ")
		}
		dot.WriteString(indent + "}\n")
	case xstate.KindFinal:
		dot.WriteString(fmt.Sprintf("%s\"%s\" [shape=doublecircle label=\"%s\"];\n", indent, node.ID, node.Key))
	case xstate.KindHistory:
		label := "H"
		if node.Depth == xstate.HistoryDeep {
			label = "H*"
		}
		dot.WriteString(fmt.Sprintf("%s\"%s\" [shape=circle label=\"%s\"];\n", indent, node.ID, label))
	default:
		dot.WriteString(fmt.Sprintf("%s\"%s\" [label=\"%s\"];\n", indent, node.ID, node.Key))
	}
}

// generateTransitions emits the edges of the whole tree.
func (g *DOTGenerator) generateTransitions(dot *strings.Builder, node *xstate.StateNode) {
	for _, t := range node.Transitions {
		from := edgeAnchor(node)
		for _, target := range t.Targets {
			if g.options.ShowEventTypes && t.EventType != "" {
				dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%s\"];\n", from, edgeAnchor(target), t.EventType))
			} else {
				dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", from, edgeAnchor(target)))
			}
		}
	}
	for _, child := range node.OrderedChildren() {
		g.generateTransitions(dot, child)
	}
}

// edgeAnchor picks a drawable node for an edge endpoint: compound and
// parallel states are clusters, so their first leaf anchors the edge.
func edgeAnchor(node *xstate.StateNode) string {
	switch node.Kind {
	case xstate.KindCompound, xstate.KindParallel:
		children := node.OrderedChildren()
		if len(children) > 0 {
			return edgeAnchor(children[0])
		}
	}
	return node.ID
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(content), 0644)
}

// GenerateSVG creates an SVG representation by piping the DOT document
// through the Graphviz dot command.
func (g *DOTGenerator) GenerateSVG() (string, error) {
	dotContent, err := g.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}
	return out.String(), nil
}
