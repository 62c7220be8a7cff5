// Package visual defines the contract between the skeleton model and whatever
// hosts its joint markers and segment lines.
package visual

import "github.com/go-gl/mathgl/mgl32"

// Visual is anything a Sink created and can later release.
type Visual interface {
	Label() string
}

// Node is a transform handle. Local values are relative to the parent it was created under.
type Node interface {
	Visual
	SetLocal(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3)
	WorldPosition() mgl32.Vec3
}

// Polyline is a line strip with a fixed number of world-space points.
type Polyline interface {
	Visual
	PositionCount() int
	SetPositions(points []mgl32.Vec3) error
}

// Sink creates visuals under an attachment context.
type Sink interface {
	NewJoint(parent Node, label string) (Node, error)
	NewPolyline(parent Node, label string, count int) (Polyline, error)
	Release(v Visual)
}
