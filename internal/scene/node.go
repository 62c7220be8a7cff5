package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Node is a transform with a parent. World transforms are composed on demand
// as parent.World * T * R * S.
type Node struct {
	graph    *Graph
	parent   *Node
	children []*Node
	lines    []*Line
	label    string
	released bool

	position mgl32.Vec3
	rotation mgl32.Quat
	scale    mgl32.Vec3
}

func newNode(g *Graph, parent *Node, label string) *Node {
	return &Node{
		graph:    g,
		parent:   parent,
		label:    label,
		rotation: mgl32.QuatIdent(),
		scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Label implements visual.Visual.
func (n *Node) Label() string { return n.label }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns a copy of the direct children.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// Released reports whether the node was released from its graph.
func (n *Node) Released() bool { return n.released }

// SetLocal implements visual.Node.
func (n *Node) SetLocal(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) {
	n.position = position
	n.rotation = rotation
	n.scale = scale
}

// LocalPosition returns the position relative to the parent.
func (n *Node) LocalPosition() mgl32.Vec3 { return n.position }

// LocalRotation returns the rotation relative to the parent.
func (n *Node) LocalRotation() mgl32.Quat { return n.rotation }

// LocalScale returns the scale relative to the parent.
func (n *Node) LocalScale() mgl32.Vec3 { return n.scale }

// LocalMatrix returns T * R * S.
func (n *Node) LocalMatrix() mgl32.Mat4 {
	t := mgl32.Translate3D(n.position[0], n.position[1], n.position[2])
	s := mgl32.Scale3D(n.scale[0], n.scale[1], n.scale[2])
	return t.Mul4(n.rotation.Mat4()).Mul4(s)
}

// WorldMatrix composes the local matrices from the root down to n.
func (n *Node) WorldMatrix() mgl32.Mat4 {
	m := n.LocalMatrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul4(m)
	}
	return m
}

// WorldPosition implements visual.Node.
func (n *Node) WorldPosition() mgl32.Vec3 {
	return n.WorldMatrix().Col(3).Vec3()
}

func (n *Node) String() string {
	return fmt.Sprintf("%s pos=%v", n.label, n.position)
}

// Line is a polyline with a fixed point count.
type Line struct {
	label    string
	owner    *Node
	points   []mgl32.Vec3
	released bool
}

// Label implements visual.Visual.
func (l *Line) Label() string { return l.label }

// PositionCount implements visual.Polyline.
func (l *Line) PositionCount() int { return len(l.points) }

// SetPositions implements visual.Polyline.
func (l *Line) SetPositions(points []mgl32.Vec3) error {
	if len(points) != len(l.points) {
		return fmt.Errorf("%w: line %s has %d positions, got %d", ErrPositionCount, l.label, len(l.points), len(points))
	}
	copy(l.points, points)
	return nil
}

// Positions returns a copy of the current points.
func (l *Line) Positions() []mgl32.Vec3 {
	return append([]mgl32.Vec3(nil), l.points...)
}

// Released reports whether the line was released from its graph.
func (l *Line) Released() bool { return l.released }
