// Package scene is a minimal in-memory transform hierarchy. It holds enough of a
// scene graph to place joint markers under a body root and answer world-space
// position queries; nothing is rendered.
package scene

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/bodytrack/internal/visual"
)

var (
	// ErrForeignNode is returned when a parent handle was not created by this graph.
	ErrForeignNode = errors.New("node does not belong to this graph")
	// ErrReleasedNode is returned when creating under a released parent.
	ErrReleasedNode = errors.New("node has been released")
	// ErrPositionCount is returned when a polyline receives the wrong number of points.
	ErrPositionCount = errors.New("position count mismatch")
)

// Graph owns every node and line it creates. Structural changes are guarded;
// transforms are expected to be mutated from a single host goroutine.
type Graph struct {
	mu    sync.Mutex
	root  *Node
	lines map[*Line]struct{}
	nodes int
}

// New returns a graph with an identity root node.
func New() *Graph {
	g := &Graph{lines: make(map[*Line]struct{})}
	g.root = newNode(g, nil, "root")
	g.nodes = 1
	return g
}

// Root returns the graph's root node.
func (g *Graph) Root() *Node {
	return g.root
}

// NewNode creates a plain transform under parent (the root when parent is nil).
func (g *Graph) NewNode(parent *Node, label string) (*Node, error) {
	if parent == nil {
		parent = g.root
	}
	if parent.graph != g {
		return nil, ErrForeignNode
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if parent.released {
		return nil, fmt.Errorf("%w: %s", ErrReleasedNode, parent.label)
	}
	n := newNode(g, parent, label)
	parent.children = append(parent.children, n)
	g.nodes++
	return n, nil
}

// NewJoint implements visual.Sink.
func (g *Graph) NewJoint(parent visual.Node, label string) (visual.Node, error) {
	p, err := g.own(parent)
	if err != nil {
		return nil, err
	}
	n, err := g.NewNode(p, label)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewPolyline implements visual.Sink. Lines hold world-space points, so the
// parent only scopes the line's lifetime.
func (g *Graph) NewPolyline(parent visual.Node, label string, count int) (visual.Polyline, error) {
	p, err := g.own(parent)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrPositionCount, count)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.released {
		return nil, fmt.Errorf("%w: %s", ErrReleasedNode, p.label)
	}
	l := &Line{label: label, owner: p, points: make([]mgl32.Vec3, count)}
	p.lines = append(p.lines, l)
	g.lines[l] = struct{}{}
	return l, nil
}

// Release implements visual.Sink. Releasing a node releases its subtree.
func (g *Graph) Release(v visual.Visual) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch t := v.(type) {
	case *Node:
		if t == g.root || t.graph != g {
			return
		}
		g.releaseNode(t)
	case *Line:
		g.releaseLine(t)
	}
}

// NodeCount returns the number of live nodes including the root.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes
}

// LineCount returns the number of live lines.
func (g *Graph) LineCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lines)
}

func (g *Graph) own(n visual.Node) (*Node, error) {
	if n == nil {
		return g.root, nil
	}
	p, ok := n.(*Node)
	if !ok || p.graph != g {
		return nil, ErrForeignNode
	}
	return p, nil
}

func (g *Graph) releaseNode(n *Node) {
	if n.released {
		return
	}
	n.released = true
	g.nodes--
	if p := n.parent; p != nil && !p.released {
		p.children = removeNode(p.children, n)
	}
	for _, c := range n.children {
		g.releaseNode(c)
	}
	for _, l := range n.lines {
		g.releaseLine(l)
	}
	n.children = nil
	n.lines = nil
}

func (g *Graph) releaseLine(l *Line) {
	if _, ok := g.lines[l]; !ok {
		return
	}
	delete(g.lines, l)
	if o := l.owner; o != nil && !o.released {
		o.lines = removeLine(o.lines, l)
	}
	l.released = true
}

func removeNode(list []*Node, n *Node) []*Node {
	for i, c := range list {
		if c == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeLine(list []*Line, l *Line) []*Line {
	for i, c := range list {
		if c == l {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
