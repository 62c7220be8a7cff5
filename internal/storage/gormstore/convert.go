package gormstore

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/OCAP2/bodytrack/internal/geo"
	"github.com/OCAP2/bodytrack/pkg/core"
)

func sessionToRow(s core.Session) (SessionRow, error) {
	names, err := json.Marshal(s.Segments)
	if err != nil {
		return SessionRow{}, fmt.Errorf("encoding segment names: %w", err)
	}
	return SessionRow{
		UUID:          s.ID.String(),
		Name:          s.Name,
		StartTime:     s.StartTime,
		Topology:      s.Topology,
		SegmentNames:  datatypes.JSON(names),
		ScaleModifier: s.ScaleModifier,
	}, nil
}

func bodyToRow(sessionID uint, b core.BodyRecord) BodyRow {
	return BodyRow{
		SessionID:  sessionID,
		BodyUUID:   b.BodyID.String(),
		FirstFrame: b.FirstFrame,
		AddedAt:    b.Time,
	}
}

func frameToRow(sessionID uint, f core.SkeletonFrame) (FrameRow, error) {
	joints, err := json.Marshal(f.Joints)
	if err != nil {
		return FrameRow{}, fmt.Errorf("encoding joints: %w", err)
	}
	segments, err := geo.SegmentsGeometry(f.Segments)
	if err != nil {
		return FrameRow{}, err
	}
	row := FrameRow{
		SessionID: sessionID,
		BodyUUID:  f.BodyID.String(),
		Frame:     f.Frame,
		Time:      f.Time,
		Joints:    datatypes.JSON(joints),
		Segments:  segments,
	}
	for _, j := range f.Joints {
		if j.Kind == core.Head {
			row.Head = geo.PointFromVec3(j.World)
			break
		}
	}
	return row, nil
}

func rowToFrame(r FrameRow, segmentNames []string) (core.SkeletonFrame, error) {
	id, err := uuid.Parse(r.BodyUUID)
	if err != nil {
		return core.SkeletonFrame{}, fmt.Errorf("parsing body id: %w", err)
	}
	var joints []core.JointState
	if err := json.Unmarshal(r.Joints, &joints); err != nil {
		return core.SkeletonFrame{}, fmt.Errorf("decoding joints: %w", err)
	}
	segments, err := geo.SegmentsFromGeometry(r.Segments, segmentNames)
	if err != nil {
		return core.SkeletonFrame{}, err
	}
	return core.SkeletonFrame{
		BodyID:   id,
		Frame:    r.Frame,
		Time:     r.Time,
		Joints:   joints,
		Segments: segments,
	}, nil
}
