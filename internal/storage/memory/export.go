// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OCAP2/bodytrack/pkg/core"
)

// ExportVersion is bumped whenever the file layout changes.
const ExportVersion = 1

// SessionExport is the root JSON structure
type SessionExport struct {
	Version       int          `json:"version"`
	SessionID     uuid.UUID    `json:"sessionId"`
	Name          string       `json:"name"`
	StartTime     time.Time    `json:"startTime"`
	Topology      string       `json:"topology"`
	ScaleModifier float32      `json:"scaleModifier"`
	EndFrame      uint64       `json:"endFrame"`
	Bodies        []BodyExport `json:"bodies"`
}

// BodyExport is one tracked body and its frames
type BodyExport struct {
	ID           uuid.UUID     `json:"id"`
	FirstFrame   uint64        `json:"firstFrame"`
	RemovedFrame *uint64       `json:"removedFrame,omitempty"`
	Frames       []FrameExport `json:"frames"`
}

// FrameExport drops the body id, which is implied by the enclosing body.
type FrameExport struct {
	Frame    uint64               `json:"frame"`
	Time     time.Time            `json:"time"`
	Joints   []core.JointState    `json:"joints"`
	Segments []core.SegmentPoints `json:"segments"`
}

// exportJSON writes the session data to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	// Build filename
	name := strings.ReplaceAll(b.session.Name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	if name == "" {
		name = "session"
	}
	timestamp := b.session.StartTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", name, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", name, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		Version:       ExportVersion,
		SessionID:     b.session.ID,
		Name:          b.session.Name,
		StartTime:     b.session.StartTime,
		Topology:      b.session.Topology,
		ScaleModifier: b.session.ScaleModifier,
		EndFrame:      b.endFrame,
		Bodies:        make([]BodyExport, 0, len(b.order)),
	}

	for _, id := range b.order {
		track := b.bodies[id]
		body := BodyExport{
			ID:         id,
			FirstFrame: track.Body.FirstFrame,
			Frames:     make([]FrameExport, 0, len(track.Frames)),
		}
		if track.Removed != nil {
			frame := track.Removed.Frame
			body.RemovedFrame = &frame
		}
		for _, f := range track.Frames {
			body.Frames = append(body.Frames, FrameExport{
				Frame:    f.Frame,
				Time:     f.Time,
				Joints:   f.Joints,
				Segments: f.Segments,
			})
		}
		export.Bodies = append(export.Bodies, body)
	}

	return export
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
