// pkg/core/recording.go
package core

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Session is one recording run.
type Session struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	StartTime     time.Time `json:"startTime"`
	Topology      string    `json:"topology"`
	Segments      []string  `json:"segments"`
	ScaleModifier float32   `json:"scaleModifier"`
}

// BodyRecord registers a tracked body the first time a frame is recorded for it.
type BodyRecord struct {
	BodyID     uuid.UUID `json:"bodyId"`
	FirstFrame uint64    `json:"firstFrame"`
	Time       time.Time `json:"time"`
}

// BodyRemoval marks a body as no longer tracked.
type BodyRemoval struct {
	BodyID uuid.UUID `json:"bodyId"`
	Frame  uint64    `json:"frame"`
	Time   time.Time `json:"time"`
}

// JointState is the applied local transform of one joint marker plus its world position.
type JointState struct {
	Kind     JointKind  `json:"kind"`
	Position mgl32.Vec3 `json:"position"`
	Rotation [4]float32 `json:"rotation"`
	Scale    mgl32.Vec3 `json:"scale"`
	World    mgl32.Vec3 `json:"world"`
}

// SegmentPoints is the world-space polyline of one segment.
type SegmentPoints struct {
	Name   string       `json:"name"`
	Points []mgl32.Vec3 `json:"points"`
}

// SkeletonFrame is the visualized state of one body after an applied update.
type SkeletonFrame struct {
	BodyID   uuid.UUID       `json:"bodyId"`
	Frame    uint64          `json:"frame"`
	Time     time.Time       `json:"time"`
	Joints   []JointState    `json:"joints"`
	Segments []SegmentPoints `json:"segments"`
}
