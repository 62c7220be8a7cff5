// pkg/core/joint.go
package core

import (
	"fmt"
	"strings"
)

// JointKind identifies one of the skeletal landmarks that get a marker.
// The set is closed; values are dense so they can index fixed-size arrays.
type JointKind uint8

const (
	Head JointKind = iota
	Neck
	LeftArm
	RightArm
	LeftForearm
	RightForearm
	LeftHand
	RightHand
	LeftUpLeg
	RightUpLeg
	LeftLeg
	RightLeg
	LeftFoot
	RightFoot

	// JointKindCount is the number of joint kinds.
	JointKindCount = int(RightFoot) + 1
)

var jointKindNames = [JointKindCount]string{
	Head:         "head",
	Neck:         "neck",
	LeftArm:      "left_arm",
	RightArm:     "right_arm",
	LeftForearm:  "left_forearm",
	RightForearm: "right_forearm",
	LeftHand:     "left_hand",
	RightHand:    "right_hand",
	LeftUpLeg:    "left_up_leg",
	RightUpLeg:   "right_up_leg",
	LeftLeg:      "left_leg",
	RightLeg:     "right_leg",
	LeftFoot:     "left_foot",
	RightFoot:    "right_foot",
}

// String returns the snake_case name of the joint kind.
func (k JointKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("joint(%d)", uint8(k))
	}
	return jointKindNames[k]
}

// Valid reports whether k is one of the declared joint kinds.
func (k JointKind) Valid() bool {
	return int(k) < JointKindCount
}

// MarshalText implements encoding.TextMarshaler.
func (k JointKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid joint kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *JointKind) UnmarshalText(text []byte) error {
	parsed, err := ParseJointKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseJointKind resolves a joint name as produced by String. Matching is case-insensitive.
func ParseJointKind(name string) (JointKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range jointKindNames {
		if n == name {
			return JointKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown joint kind %q", name)
}

// AllJointKinds returns every joint kind in ordinal order.
func AllJointKinds() []JointKind {
	kinds := make([]JointKind, JointKindCount)
	for i := range kinds {
		kinds[i] = JointKind(i)
	}
	return kinds
}

// IndexTable maps each joint kind to its slot in the per-frame joint array
// reported by the tracking subsystem.
type IndexTable [JointKindCount]int

// ARKitJointCount is the length of the ARKit 3D skeleton joint array.
const ARKitJointCount = 91

// ARKitIndexTable is the ARKit 3D skeleton layout (JointIndices3D).
var ARKitIndexTable = IndexTable{
	Head:         51,
	Neck:         47, // neck_1
	LeftArm:      20,
	RightArm:     64,
	LeftForearm:  21,
	RightForearm: 65,
	LeftHand:     22,
	RightHand:    66,
	LeftUpLeg:    2,
	RightUpLeg:   7,
	LeftLeg:      3,
	RightLeg:     8,
	LeftFoot:     4,
	RightFoot:    9,
}

// SequentialIndexTable maps each joint kind to its own ordinal.
var SequentialIndexTable = func() IndexTable {
	var t IndexTable
	for i := range t {
		t[i] = i
	}
	return t
}()

// Index returns the joint array slot for k.
func (t IndexTable) Index(k JointKind) int {
	return t[k]
}

// Required returns the minimum joint array length that covers every mapped slot.
func (t IndexTable) Required() int {
	highest := -1
	for _, idx := range t {
		if idx > highest {
			highest = idx
		}
	}
	return highest + 1
}

// Validate checks that every slot is non-negative.
func (t IndexTable) Validate() error {
	for k, idx := range t {
		if idx < 0 {
			return fmt.Errorf("joint %s mapped to negative index %d", JointKind(k), idx)
		}
	}
	return nil
}
