// pkg/core/body.go
package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/OCAP2/bodytrack/internal/visual"
)

// TrackedBody is one person's skeleton as reported for the current frame.
// A nil Root means the host has no attachment context for the body yet;
// a nil Joints slice means the joint array has not been populated.
type TrackedBody struct {
	ID     uuid.UUID
	Root   visual.Node
	Joints []JointPose
}

// HasJoints reports whether the joint array is populated.
func (b TrackedBody) HasJoints() bool {
	return b.Joints != nil
}

// BodiesChanged is a single frame event from the tracking subsystem.
type BodiesChanged struct {
	Frame     uint64
	Timestamp time.Time
	Added     []TrackedBody
	Updated   []TrackedBody
	Removed   []TrackedBody
}

// Empty reports whether the event carries no body changes.
func (e BodiesChanged) Empty() bool {
	return len(e.Added) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}
