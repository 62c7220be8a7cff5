// pkg/core/pose.go
package core

import (
	"encoding/json"

	"github.com/go-gl/mathgl/mgl32"
)

// JointPose is one joint sample as reported by the tracking subsystem,
// expressed in the tracked body's local space.
type JointPose struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

// NewJointPose returns a pose at position with identity rotation and unit scale.
func NewJointPose(position mgl32.Vec3) JointPose {
	return JointPose{
		Position: position,
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// jointPoseJSON is the wire form; rotation is [x, y, z, w].
type jointPoseJSON struct {
	Position mgl32.Vec3  `json:"position"`
	Rotation *[4]float32 `json:"rotation,omitempty"`
	Scale    *mgl32.Vec3 `json:"scale,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p JointPose) MarshalJSON() ([]byte, error) {
	rot := QuatToArray(p.Rotation)
	scale := p.Scale
	return json.Marshal(jointPoseJSON{
		Position: p.Position,
		Rotation: &rot,
		Scale:    &scale,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Missing rotation decodes to identity
// and missing scale decodes to (1, 1, 1).
func (p *JointPose) UnmarshalJSON(data []byte) error {
	var raw jointPoseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = NewJointPose(raw.Position)
	if raw.Rotation != nil {
		p.Rotation = QuatFromArray(*raw.Rotation)
	}
	if raw.Scale != nil {
		p.Scale = *raw.Scale
	}
	return nil
}

// QuatToArray flattens q as [x, y, z, w].
func QuatToArray(q mgl32.Quat) [4]float32 {
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}

// QuatFromArray builds a quaternion from [x, y, z, w].
func QuatFromArray(a [4]float32) mgl32.Quat {
	return mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}
}
