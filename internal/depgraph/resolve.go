// Package depgraph orders actions by the data keys they read and write.
//
// An action that writes a key runs before every action that reads it, unless
// the reader declared that it reads the key before it is written, in which
// case the reader runs first. Actions without a relation keep their declared
// order.
package depgraph

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// CycleError indicates that the declared reads and writes cannot be ordered.
type CycleError struct {
	// Keys are the data keys on the edges of the cycle, sorted.
	Keys []string

	// Nodes are the names of the actions forming the cycle.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected on data keys %s (actions: %s)",
		strings.Join(e.Keys, ","), strings.Join(e.Nodes, " -> "))
}

// Node describes the data dependencies of one action.
type Node struct {
	// Name identifies the node in errors.
	Name string

	// ImplicitReads are keys the action reads through its inputs and
	// conditions.
	ImplicitReads []string

	// ImplicitWrites are keys the action writes its result to.
	ImplicitWrites []string

	// Reads, Writes and ReadsBeforeWritten override the implicit sets per
	// key. A ReadsBeforeWritten entry wins over a Reads entry for the same
	// key.
	Reads              map[string]bool
	Writes             map[string]bool
	ReadsBeforeWritten map[string]bool
}

// Effective returns the resolved key sets of the node.
func (n Node) Effective() (reads, writes, readsBeforeWritten map[string]bool) {
	reads = make(map[string]bool)
	writes = make(map[string]bool)
	readsBeforeWritten = make(map[string]bool)

	for _, k := range n.ImplicitReads {
		reads[k] = true
	}
	for _, k := range n.ImplicitWrites {
		writes[k] = true
	}
	for k, v := range n.Reads {
		if v {
			reads[k] = true
		} else {
			delete(reads, k)
		}
	}
	for k, v := range n.Writes {
		if v {
			writes[k] = true
		} else {
			delete(writes, k)
		}
	}
	for k, v := range n.ReadsBeforeWritten {
		if v {
			readsBeforeWritten[k] = true
			delete(reads, k)
		}
	}
	return reads, writes, readsBeforeWritten
}

type graph struct {
	nodes []Node
	// preds[i] lists the nodes that must run before i, ascending.
	preds [][]int
	// labels[from][to] holds the keys that created the edge.
	labels map[int]map[int][]string
}

func (g *graph) addEdge(from, to int, key string) {
	if from == to {
		return
	}
	if g.labels[from] == nil {
		g.labels[from] = make(map[int][]string)
	}
	if _, exists := g.labels[from][to]; !exists {
		g.preds[to] = append(g.preds[to], from)
	}
	if !slices.Contains(g.labels[from][to], key) {
		g.labels[from][to] = append(g.labels[from][to], key)
	}
}

func build(nodes []Node) *graph {
	g := &graph{
		nodes:  nodes,
		preds:  make([][]int, len(nodes)),
		labels: make(map[int]map[int][]string),
	}

	writers := make(map[string][]int)
	readers := make(map[string][]int)
	early := make(map[string][]int)
	var keys []string
	seen := make(map[string]bool)
	track := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for i, n := range nodes {
		reads, writes, rbw := n.Effective()
		for _, k := range sortedKeys(writes) {
			writers[k] = append(writers[k], i)
			track(k)
		}
		for _, k := range sortedKeys(reads) {
			readers[k] = append(readers[k], i)
			track(k)
		}
		for _, k := range sortedKeys(rbw) {
			early[k] = append(early[k], i)
			track(k)
		}
	}

	for _, k := range keys {
		for _, w := range writers[k] {
			for _, r := range readers[k] {
				g.addEdge(w, r, k)
			}
			for _, r := range early[k] {
				g.addEdge(r, w, k)
			}
		}
	}

	for i := range g.preds {
		sort.Ints(g.preds[i])
	}
	return g
}

// Resolve returns an execution order for nodes as indices into nodes. It
// fails with *CycleError when no order satisfies the dependencies.
func Resolve(nodes []Node) ([]int, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	g := build(nodes)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	stack := make([]int, 0, len(nodes))
	order := make([]int, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return g.cycleError(stack, i)
		}
		state[i] = visiting
		stack = append(stack, i)
		for _, p := range g.preds[i] {
			if err := visit(p); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		order = append(order, i)
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// cycleError builds the error for a back edge reaching i. The stack from i
// onwards is a chain in which every element must run before the previous one.
func (g *graph) cycleError(stack []int, i int) *CycleError {
	pos := slices.Index(stack, i)
	cycle := stack[pos:]

	keySet := make(map[string]bool)
	names := make([]string, 0, len(cycle))
	for j, node := range cycle {
		names = append(names, g.nodes[node].Name)
		// The closing edge points from the head of the cycle to its tail.
		from := cycle[0]
		if j+1 < len(cycle) {
			from = cycle[j+1]
		}
		for _, k := range g.labels[from][node] {
			keySet[k] = true
		}
	}
	slices.Reverse(names)

	return &CycleError{Keys: sortedKeys(keySet), Nodes: names}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
