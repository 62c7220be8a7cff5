package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/OCAP2/bodytrack/pkg/core"
)

// WireBody is one tracked body as the host sends it. RootPose places the
// body anchor in the scene; a body without one has no attachment context.
// A null joints array means the joint data is not available yet.
type WireBody struct {
	ID       uuid.UUID        `json:"id"`
	RootPose *core.JointPose  `json:"rootPose,omitempty"`
	Joints   []core.JointPose `json:"joints"`
}

// WireBodiesChanged is the :BODIES: payload.
type WireBodiesChanged struct {
	Frame     uint64     `json:"frame"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Added     []WireBody `json:"added"`
	Updated   []WireBody `json:"updated"`
	Removed   []WireBody `json:"removed"`
}

// SessionRequest is the :SESSION:START: payload.
type SessionRequest struct {
	Name string `json:"name"`
}

// SessionReply describes a started or ended session.
type SessionReply struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Topology string `json:"topology,omitempty"`
	File     string `json:"file,omitempty"`
}
