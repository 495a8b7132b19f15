// Package render serializes a finished callgraph.Graph as a GraphViz `dot`
// document, the one consumer-facing artifact the analyzer produces. It
// has no knowledge of how the graph was built: it only reads Nodes,
// Successors, and Cycles.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/armstack/callstack/internal/callgraph"
	"github.com/armstack/callstack/internal/demangle"
)

// Printer wraps an io.Writer with one print method per `dot` construct,
// rather than building the document with string concatenation.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer that writes to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintGraph writes g as one `digraph` document: a default node style, one
// node statement per function (labelled with its escaped demangled name,
// `max = `, and `local = `), one edge statement per call, and one labelled
// `cluster_<i>` subgraph per detected cycle.
func (p *Printer) PrintGraph(g *callgraph.Graph) {
	fmt.Fprintln(p.w, "digraph {")
	fmt.Fprintln(p.w, "\tnode [shape=box fontname=monospace]")

	inCycle := map[string]int{}
	cycles := g.Cycles()
	for i, comp := range cycles {
		for _, name := range comp {
			inCycle[name] = i
		}
	}

	for _, n := range g.Nodes() {
		if _, clustered := inCycle[n.Name]; clustered {
			continue // printed inside its cluster subgraph below
		}
		p.printNode(n)
	}

	for i, comp := range cycles {
		fmt.Fprintf(p.w, "\tsubgraph cluster_%d {\n", i)
		fmt.Fprintf(p.w, "\t\tlabel = %q\n", fmt.Sprintf("SCC%d", i))
		for _, name := range comp {
			n, ok := g.Node(name)
			if !ok {
				continue
			}
			p.printIndentedNode(n, "\t\t")
		}
		fmt.Fprintln(p.w, "\t}")
	}

	for _, n := range g.Nodes() {
		for _, succ := range g.Successors(n.Name) {
			fmt.Fprintf(p.w, "\t%q -> %q\n", n.Name, succ)
		}
	}

	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printNode(n *callgraph.Node) {
	p.printIndentedNode(n, "\t")
}

func (p *Printer) printIndentedNode(n *callgraph.Node, indent string) {
	fmt.Fprintf(p.w, "%s%q [label=%q%s]\n", indent, n.Name, label(n), style(n))
}

func style(n *callgraph.Node) string {
	if n.Synthetic {
		return " style=dashed"
	}
	return ""
}

// label builds the multi-line node label: the display name (dehashed when
// unambiguous), then `max = ` and `local = `.
func label(n *callgraph.Node) string {
	name := n.Name
	if n.DisplayName != "" {
		name = n.DisplayName
	} else if !n.Synthetic {
		name = demangle.Demangle(name)
	}

	// A literal newline here, not "\n": %q (used by printIndentedNode to
	// quote the whole label) escapes a real newline byte to the two-
	// character "\n" sequence dot's own quoted-string grammar treats as a
	// line break, so the label renders as three lines once dot parses it.
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("\n")
	b.WriteString("max = ")
	b.WriteString(formatMax(n.Max))
	b.WriteString("\n")
	b.WriteString("local = ")
	b.WriteString(formatLocal(n.Local))
	return b.String()
}

func formatMax(m callgraph.Max) string {
	switch m.Kind {
	case callgraph.MaxExact:
		return fmt.Sprintf("%d", m.Bytes)
	case callgraph.MaxLowerBound:
		return fmt.Sprintf("%d+", m.Bytes)
	default:
		return "?"
	}
}

func formatLocal(l callgraph.Local) string {
	if l.Kind == callgraph.LocalExact {
		return fmt.Sprintf("%d", l.Bytes)
	}
	return "?"
}
