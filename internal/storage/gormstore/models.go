package gormstore

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// DatabaseModels is every table the backend migrates.
var DatabaseModels = []any{
	&SessionRow{},
	&BodyRow{},
	&FrameRow{},
}

// SessionRow is one recording run.
type SessionRow struct {
	ID            uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	UUID          string         `json:"uuid" gorm:"size:36;uniqueIndex"`
	Name          string         `json:"name" gorm:"size:128"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       *time.Time     `json:"endTime"`
	Topology      string         `json:"topology" gorm:"size:64"`
	SegmentNames  datatypes.JSON `json:"segmentNames"`
	ScaleModifier float32        `json:"scaleModifier"`
}

func (*SessionRow) TableName() string {
	return "sessions"
}

// BodyRow is a tracked body within a session.
type BodyRow struct {
	ID           uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID    uint       `json:"sessionId" gorm:"index:idx_body_session"`
	Session      SessionRow `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	BodyUUID     string     `json:"bodyId" gorm:"size:36;index:idx_body_session"`
	FirstFrame   uint64     `json:"firstFrame"`
	AddedAt      time.Time  `json:"addedAt"`
	RemovedFrame *uint64    `json:"removedFrame"`
	RemovedAt    *time.Time `json:"removedAt"`
}

func (*BodyRow) TableName() string {
	return "bodies"
}

// FrameRow is one applied skeleton update. Joints hold the full joint state as
// JSON; Segments is a MULTILINESTRING Z in session segment order.
type FrameRow struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID uint           `json:"sessionId" gorm:"index:idx_frame_session_body"`
	Session   SessionRow     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	BodyUUID  string         `json:"bodyId" gorm:"size:36;index:idx_frame_session_body"`
	Frame     uint64         `json:"frame" gorm:"index:idx_frame_number"`
	Time      time.Time      `json:"time"`
	Head      geom.Point     `json:"head"`
	Joints    datatypes.JSON `json:"joints"`
	Segments  geom.Geometry  `json:"-"`
}

func (*FrameRow) TableName() string {
	return "skeleton_frames"
}
