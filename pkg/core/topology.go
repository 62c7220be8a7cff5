// pkg/core/topology.go
package core

import (
	"errors"
	"fmt"
)

// ErrInvalidTopology is returned when a topology fails validation.
var ErrInvalidTopology = errors.New("invalid skeleton topology")

// SegmentDef is one polyline of the skeleton, drawn through its joints in order.
type SegmentDef struct {
	Name   string
	Joints []JointKind
}

// Topology describes which joints are tracked and how they are connected.
// It is shared by value and never mutated after construction.
type Topology struct {
	Name     string
	Indices  IndexTable
	Segments []SegmentDef
}

// DefaultTopology returns the reference five-segment skeleton over the ARKit joint layout.
func DefaultTopology() Topology {
	return Topology{
		Name:    "arkit",
		Indices: ARKitIndexTable,
		Segments: []SegmentDef{
			{Name: "head_neck", Joints: []JointKind{Head, Neck}},
			{Name: "arms", Joints: []JointKind{RightHand, RightForearm, RightArm, Neck, LeftArm, LeftForearm, LeftHand}},
			{Name: "legs", Joints: []JointKind{RightFoot, RightLeg, RightUpLeg, LeftUpLeg, LeftLeg, LeftFoot}},
			{Name: "right_side", Joints: []JointKind{RightArm, RightUpLeg}},
			{Name: "left_side", Joints: []JointKind{LeftArm, LeftUpLeg}},
		},
	}
}

// TopologyByName returns the reference topology read through a named index
// table: "arkit" or "sequential".
func TopologyByName(name string) (Topology, error) {
	switch name {
	case "", "arkit":
		return DefaultTopology(), nil
	case "sequential":
		return DefaultTopology().WithIndices("sequential", SequentialIndexTable), nil
	default:
		return Topology{}, fmt.Errorf("%w: unknown topology %q", ErrInvalidTopology, name)
	}
}

// SegmentNames lists the segment names in drawing order.
func (t Topology) SegmentNames() []string {
	names := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		names[i] = s.Name
	}
	return names
}

// WithIndices returns a copy of t that reads joints through a different index table.
func (t Topology) WithIndices(name string, indices IndexTable) Topology {
	t.Name = name
	t.Indices = indices
	t.Segments = cloneSegments(t.Segments)
	return t
}

// Clone returns a deep copy of t.
func (t Topology) Clone() Topology {
	t.Segments = cloneSegments(t.Segments)
	return t
}

func cloneSegments(in []SegmentDef) []SegmentDef {
	out := make([]SegmentDef, len(in))
	for i, s := range in {
		out[i] = SegmentDef{Name: s.Name, Joints: append([]JointKind(nil), s.Joints...)}
	}
	return out
}

// Validate reports the first structural problem in t, wrapped in ErrInvalidTopology.
func (t Topology) Validate() error {
	if err := t.Indices.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	seen := make(map[string]struct{}, len(t.Segments))
	for i, s := range t.Segments {
		if s.Name == "" {
			return fmt.Errorf("%w: segment %d has no name", ErrInvalidTopology, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate segment %q", ErrInvalidTopology, s.Name)
		}
		seen[s.Name] = struct{}{}
		if len(s.Joints) < 2 {
			return fmt.Errorf("%w: segment %q needs at least 2 joints, has %d", ErrInvalidTopology, s.Name, len(s.Joints))
		}
		for _, k := range s.Joints {
			if !k.Valid() {
				return fmt.Errorf("%w: segment %q references %s", ErrInvalidTopology, s.Name, k)
			}
		}
	}
	return nil
}
