// Package callgraph builds and annotates the directed multigraph of
// function calls the rest of the analyzer produces facts for: the graph
// engine in this file (nodes, edges, strongly connected components,
// reverse-topological stack-bound propagation), and the fact reconciler in
// reconcile.go (which fuses IR, ELF, and Thumb facts into that graph).
package callgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/armstack/callstack/internal/demangle"
)

// LocalKind discriminates whether a node's own stack-frame size is known.
type LocalKind int

const (
	LocalUnknown LocalKind = iota
	LocalExact
)

// Local is a node's own stack-frame size, before considering callees.
type Local struct {
	Kind  LocalKind
	Bytes uint64
}

// MaxKind discriminates a proven-exact worst case from a lower bound the
// analyzer could not tighten (because of a cycle or an unknown Local along
// the path).
type MaxKind int

const (
	MaxUnset MaxKind = iota
	MaxExact
	MaxLowerBound
)

// Max is a node's worst-case stack usage including every reachable callee.
type Max struct {
	Kind  MaxKind
	Bytes uint64
}

// Node is one function (or synthetic indirect-call/unknown-sink stand-in)
// in the graph.
type Node struct {
	Name      string
	// DisplayName is the dehashed/demangled label the renderer prefers
	// when non-empty; empty means render Name as-is.
	DisplayName string
	Local       Local
	Max         Max
	Synthetic   bool
}

// Graph is a directed multigraph over Nodes, with per-caller edge
// deduplication (adding (src, dst) twice leaves the graph identical to
// adding it once) and insertion-ordered iteration so that running the
// analyzer twice over identical input produces byte-identical output.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges map[string][]string
	seen  map[string]map[string]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: map[string]*Node{},
		edges: map[string][]string{},
		seen:  map[string]map[string]bool{},
	}
}

// Intern returns the node for name, creating an unknown-stack node if one
// does not already exist.
func (g *Graph) Intern(name string) *Node {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := &Node{Name: name, Local: Local{Kind: LocalUnknown}}
	g.nodes[name] = n
	g.order = append(g.order, name)
	return n
}

// Node looks up a node without creating one.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Successors returns src's callees in the order edges were added.
func (g *Graph) Successors(src string) []string {
	return g.edges[src]
}

// AddEdge adds an edge from src to dst, interning both ends. Adding the
// same (src, dst) pair more than once is a no-op after the first call.
func (g *Graph) AddEdge(src, dst string) {
	g.Intern(src)
	g.Intern(dst)
	if g.seen[src] == nil {
		g.seen[src] = map[string]bool{}
	}
	if g.seen[src][dst] {
		return
	}
	g.seen[src][dst] = true
	g.edges[src] = append(g.edges[src], dst)
}

// FilterReachable reduces the graph in place to the subgraph reachable
// from start by depth-first traversal. If no node's name exactly matches
// start, it falls back to matching against every node's demangled name
// with the trailing `::h<hex>` hash suffix stripped; more than one such
// match is an error.
func (g *Graph) FilterReachable(start string) error {
	root, err := g.resolveStart(start)
	if err != nil {
		return err
	}

	keep := map[string]bool{}
	stack := []string{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if keep[n] {
			continue
		}
		keep[n] = true
		for _, succ := range g.edges[n] {
			if !keep[succ] {
				stack = append(stack, succ)
			}
		}
	}

	var newOrder []string
	for _, name := range g.order {
		if keep[name] {
			newOrder = append(newOrder, name)
		} else {
			delete(g.nodes, name)
			delete(g.edges, name)
			delete(g.seen, name)
		}
	}
	for src := range g.edges {
		var filtered []string
		for _, dst := range g.edges[src] {
			if keep[dst] {
				filtered = append(filtered, dst)
			}
		}
		g.edges[src] = filtered
	}
	g.order = newOrder
	return nil
}

func (g *Graph) resolveStart(start string) (string, error) {
	if _, ok := g.nodes[start]; ok {
		return start, nil
	}
	var candidates []string
	for _, name := range g.order {
		if demangle.Dehash(demangle.Demangle(name)) == start {
			candidates = append(candidates, name)
		}
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no node matches start symbol %q", start)
	case 1:
		return candidates[0], nil
	default:
		sort.Strings(candidates)
		return "", fmt.Errorf("start symbol %q is ambiguous: matches %s", start, strings.Join(candidates, ", "))
	}
}

// ComputeMax propagates worst-case stack usage in reverse topological
// order. Acyclic subgraphs get exact bounds when every
// descendant's Local is exact; any cycle (strongly connected component of
// size > 1, or a self-loop) degrades every member's bound to a lower
// bound, since the analyzer cannot prove an iteration count.
func (g *Graph) ComputeMax() {
	for _, comp := range g.sccs() {
		if len(comp) == 1 && !g.hasSelfLoop(comp[0]) {
			g.computeSingleton(comp[0])
			continue
		}
		g.computeCycle(comp)
	}
}

func (g *Graph) hasSelfLoop(name string) bool {
	for _, succ := range g.edges[name] {
		if succ == name {
			return true
		}
	}
	return false
}

func (g *Graph) computeSingleton(name string) {
	n := g.nodes[name]
	best := Max{Kind: MaxExact, Bytes: 0}
	for _, succ := range g.edges[name] {
		sm := g.nodes[succ].Max
		best = maxOf(best, sm)
	}
	n.Max = addLocal(n.Local, best)
}

// computeCycle handles an SCC of size > 1, or a singleton with a
// self-loop: every member's bound becomes a lower bound built from the sum
// of the cycle's own local sizes plus the best bound reachable by leaving
// the cycle, since the number of times the cycle iterates is not
// statically known.
func (g *Graph) computeCycle(comp []string) {
	members := map[string]bool{}
	for _, name := range comp {
		members[name] = true
	}

	var sum uint64
	anyUnknown := false
	best := Max{Kind: MaxExact, Bytes: 0}
	for _, name := range comp {
		n := g.nodes[name]
		if n.Local.Kind == LocalExact {
			sum += n.Local.Bytes
		} else {
			anyUnknown = true
		}
		for _, succ := range g.edges[name] {
			if members[succ] {
				continue // internal to the cycle; already counted via sum
			}
			best = maxOf(best, g.nodes[succ].Max)
		}
	}

	kind := MaxLowerBound
	_ = anyUnknown // a cycle is always a lower bound regardless of Local exactness
	total := sum + best.Bytes
	for _, name := range comp {
		g.nodes[name].Max = Max{Kind: kind, Bytes: total}
	}
}

// maxOf implements the sibling-maximum rule: the larger byte count wins,
// and the result is a lower bound if either operand is.
func maxOf(a, b Max) Max {
	kind := MaxExact
	if a.Kind == MaxLowerBound || b.Kind == MaxLowerBound {
		kind = MaxLowerBound
	}
	bytes := a.Bytes
	if b.Bytes > bytes {
		bytes = b.Bytes
	}
	return Max{Kind: kind, Bytes: bytes}
}

// addLocal implements the Local+Max addition rule: exact+exact=exact;
// unknown or lower_bound on either side makes the result a lower bound,
// and an unknown Local contributes no bytes of its own.
func addLocal(l Local, m Max) Max {
	kind := MaxExact
	if l.Kind == LocalUnknown || m.Kind == MaxLowerBound {
		kind = MaxLowerBound
	}
	return Max{Kind: kind, Bytes: l.Bytes + m.Bytes}
}
