// Package skeleton maps tracked joint samples onto a fixed set of joint markers
// and the line segments connecting them.
package skeleton

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/OCAP2/bodytrack/internal/visual"
	"github.com/OCAP2/bodytrack/pkg/core"
)

var (
	// ErrMissingAttachmentContext is returned when the body has no root to attach visuals to.
	ErrMissingAttachmentContext = errors.New("missing attachment context")
	// ErrJointSamplesUnavailable is returned when the joint array is absent or too short
	// and skipping is disabled.
	ErrJointSamplesUnavailable = errors.New("joint samples unavailable")
	// ErrReleased is returned when a released model is used again.
	ErrReleased = errors.New("skeleton model released")
)

// State is the model lifecycle.
type State int

const (
	Uninitialized State = iota
	Initialized
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// UpdateResult tells the caller whether an update changed anything.
type UpdateResult int

const (
	UpdateSkipped UpdateResult = iota
	UpdateApplied
)

func (r UpdateResult) String() string {
	if r == UpdateApplied {
		return "applied"
	}
	return "skipped"
}

// JointNode is the marker for one joint kind.
type JointNode struct {
	Kind     core.JointKind
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3

	visual visual.Node
}

// World returns the marker's current world-space position.
func (j JointNode) World() mgl32.Vec3 {
	if j.visual == nil {
		return mgl32.Vec3{}
	}
	return j.visual.WorldPosition()
}

type segment struct {
	def    core.SegmentDef
	line   visual.Polyline
	points []mgl32.Vec3
}

// SegmentState is a read-only view of one segment.
type SegmentState struct {
	Name   string
	Joints []core.JointKind
	Points []mgl32.Vec3
}

// Model is the joint markers and segments of one tracked body. It is not safe
// for concurrent use; drive it from the host's frame callback.
type Model struct {
	topo     core.Topology
	sink     visual.Sink
	opts     options
	log      *slog.Logger
	required int

	state    State
	joints   [core.JointKindCount]*JointNode
	segments []*segment
}

// New validates topo and returns an uninitialized model that creates its visuals through sink.
func New(topo core.Topology, sink visual.Sink, opts ...Option) (*Model, error) {
	if sink == nil {
		return nil, errors.New("visual sink is required")
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if o.bodyID != uuid.Nil {
		log = log.With("body", o.bodyID.String())
	}
	return &Model{
		topo:     topo.Clone(),
		sink:     sink,
		opts:     o,
		log:      log,
		required: topo.Indices.Required(),
	}, nil
}

// State returns the lifecycle state.
func (m *Model) State() State {
	return m.state
}

// Topology returns a copy of the model's topology.
func (m *Model) Topology() core.Topology {
	return m.topo.Clone()
}

// Initialize creates one marker per joint kind and one polyline per segment under root.
// It does nothing once the model is initialized.
func (m *Model) Initialize(root visual.Node) error {
	switch m.state {
	case Initialized:
		return nil
	case Released:
		return ErrReleased
	}
	if root == nil {
		return ErrMissingAttachmentContext
	}

	var created []visual.Visual
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			m.sink.Release(created[i])
		}
	}

	var joints [core.JointKindCount]*JointNode
	for _, kind := range core.AllJointKinds() {
		v, err := m.sink.NewJoint(root, m.label(kind.String()))
		if err != nil {
			rollback()
			return fmt.Errorf("creating joint %s: %w", kind, err)
		}
		created = append(created, v)
		joints[kind] = &JointNode{
			Kind:     kind,
			Rotation: mgl32.QuatIdent(),
			Scale:    mgl32.Vec3{1, 1, 1},
			visual:   v,
		}
	}

	segments := make([]*segment, 0, len(m.topo.Segments))
	for _, def := range m.topo.Segments {
		line, err := m.sink.NewPolyline(root, m.label(def.Name), len(def.Joints))
		if err != nil {
			rollback()
			return fmt.Errorf("creating segment %s: %w", def.Name, err)
		}
		created = append(created, line)
		if line.PositionCount() != len(def.Joints) {
			rollback()
			return fmt.Errorf("%w: segment %s sized %d for %d joints",
				core.ErrInvalidTopology, def.Name, line.PositionCount(), len(def.Joints))
		}
		segments = append(segments, &segment{
			def:    def,
			line:   line,
			points: make([]mgl32.Vec3, len(def.Joints)),
		})
	}

	m.joints = joints
	m.segments = segments
	m.state = Initialized
	m.log.Debug("skeleton initialized", "joints", core.JointKindCount, "segments", len(segments))
	return nil
}

// Update applies one frame of joint samples, initializing the model first if needed.
// Samples are indexed through the topology's index table. When the array is
// missing or too short nothing is modified.
func (m *Model) Update(root visual.Node, samples []core.JointPose) (UpdateResult, error) {
	if m.state == Released {
		return UpdateSkipped, ErrReleased
	}
	if root == nil {
		return UpdateSkipped, ErrMissingAttachmentContext
	}
	if err := m.Initialize(root); err != nil {
		return UpdateSkipped, err
	}

	if samples == nil || len(samples) < m.required {
		if m.opts.skipUnavailable {
			m.log.Debug("joint samples unavailable, skipping update", "have", len(samples), "need", m.required)
			return UpdateSkipped, nil
		}
		return UpdateSkipped, fmt.Errorf("%w: have %d, need %d", ErrJointSamplesUnavailable, len(samples), m.required)
	}

	for _, j := range m.joints {
		m.applyJoint(j, samples[m.topo.Indices.Index(j.Kind)])
	}

	// Segments read world positions, so they go after every joint is placed.
	for _, s := range m.segments {
		for i, kind := range s.def.Joints {
			s.points[i] = m.joints[kind].visual.WorldPosition()
		}
		if err := s.line.SetPositions(s.points); err != nil {
			return UpdateSkipped, fmt.Errorf("updating segment %s: %w", s.def.Name, err)
		}
	}
	return UpdateApplied, nil
}

func (m *Model) applyJoint(j *JointNode, pose core.JointPose) {
	j.Position = pose.Position
	j.Rotation = pose.Rotation
	j.Scale = pose.Scale.Mul(m.opts.scaleModifier)
	j.visual.SetLocal(j.Position, j.Rotation, j.Scale)
}

// Joint returns a copy of the marker for kind. The zero value is returned before initialization.
func (m *Model) Joint(kind core.JointKind) JointNode {
	if !kind.Valid() || m.joints[kind] == nil {
		return JointNode{Kind: kind}
	}
	return *m.joints[kind]
}

// Segments returns a copy of every segment in topology order.
func (m *Model) Segments() []SegmentState {
	out := make([]SegmentState, len(m.segments))
	for i, s := range m.segments {
		out[i] = SegmentState{
			Name:   s.def.Name,
			Joints: append([]core.JointKind(nil), s.def.Joints...),
			Points: append([]mgl32.Vec3(nil), s.points...),
		}
	}
	return out
}

// Snapshot captures the current visualized state for recording.
func (m *Model) Snapshot(bodyID uuid.UUID, frame uint64, at time.Time) core.SkeletonFrame {
	f := core.SkeletonFrame{
		BodyID:   bodyID,
		Frame:    frame,
		Time:     at,
		Joints:   make([]core.JointState, 0, core.JointKindCount),
		Segments: make([]core.SegmentPoints, 0, len(m.segments)),
	}
	for _, j := range m.joints {
		if j == nil {
			continue
		}
		f.Joints = append(f.Joints, core.JointState{
			Kind:     j.Kind,
			Position: j.Position,
			Rotation: core.QuatToArray(j.Rotation),
			Scale:    j.Scale,
			World:    j.World(),
		})
	}
	for _, s := range m.segments {
		f.Segments = append(f.Segments, core.SegmentPoints{
			Name:   s.def.Name,
			Points: append([]mgl32.Vec3(nil), s.points...),
		})
	}
	return f
}

// Release hands every visual back to the sink. The model cannot be used afterwards.
func (m *Model) Release() {
	if m.state == Released {
		return
	}
	for _, s := range m.segments {
		m.sink.Release(s.line)
	}
	for _, j := range m.joints {
		if j != nil {
			m.sink.Release(j.visual)
		}
	}
	m.joints = [core.JointKindCount]*JointNode{}
	m.segments = nil
	m.state = Released
}

func (m *Model) label(name string) string {
	if m.opts.bodyID == uuid.Nil {
		return name
	}
	return m.opts.bodyID.String() + "/" + name
}
