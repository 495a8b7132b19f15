package callgraph

// Cycles returns every strongly connected component of size > 1, plus any
// singleton with a self-loop, in the same completion order sccs() finds
// them. The renderer groups each one into a labelled `cluster_<i>`
// subgraph; a node that is not part of any cycle is not a member of any
// returned component.
func (g *Graph) Cycles() [][]string {
	var out [][]string
	for _, comp := range g.sccs() {
		if len(comp) > 1 || (len(comp) == 1 && g.hasSelfLoop(comp[0])) {
			out = append(out, comp)
		}
	}
	return out
}

// sccs returns the graph's strongly connected components using Tarjan's
// algorithm, in the order Tarjan completes them. That completion order is
// a reverse topological order of the condensation: a component is
// finished only after every component it can reach has already finished,
// so iterating the result in order and computing each component's Max
// before moving to the next always has every successor's Max already
// available.
func (g *Graph) sccs() [][]string {
	t := &tarjan{
		index:   map[string]int{},
		lowlink: map[string]int{},
		onStack: map[string]bool{},
	}
	for _, name := range g.order {
		if _, visited := t.index[name]; !visited {
			t.strongconnect(g, name)
		}
	}
	return t.components
}

type tarjan struct {
	counter    int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

// strongconnect is an iterative rewrite of the textbook recursive
// algorithm (the graphs this analyzer processes can be deep: a long
// straight-line call chain would overflow a naive recursive port).
func (t *tarjan) strongconnect(g *Graph, root string) {
	type frame struct {
		name    string
		succIdx int
		succs   []string
	}
	var work []*frame
	push := func(name string) {
		t.index[name] = t.counter
		t.lowlink[name] = t.counter
		t.counter++
		t.stack = append(t.stack, name)
		t.onStack[name] = true
		work = append(work, &frame{name: name, succs: g.edges[name]})
	}
	push(root)

	for len(work) > 0 {
		f := work[len(work)-1]
		if f.succIdx < len(f.succs) {
			succ := f.succs[f.succIdx]
			f.succIdx++
			if _, visited := t.index[succ]; !visited {
				push(succ)
			} else if t.onStack[succ] {
				if t.index[succ] < t.lowlink[f.name] {
					t.lowlink[f.name] = t.index[succ]
				}
			}
			continue
		}

		// Done with f: pop it, propagate lowlink to parent, and emit its
		// component if it is a root (lowlink == index).
		work = work[:len(work)-1]
		if len(work) > 0 {
			parent := work[len(work)-1]
			if t.lowlink[f.name] < t.lowlink[parent.name] {
				t.lowlink[parent.name] = t.lowlink[f.name]
			}
		}
		if t.lowlink[f.name] == t.index[f.name] {
			var comp []string
			for {
				n := t.stack[len(t.stack)-1]
				t.stack = t.stack[:len(t.stack)-1]
				t.onStack[n] = false
				comp = append(comp, n)
				if n == f.name {
					break
				}
			}
			t.components = append(t.components, comp)
		}
	}
}
