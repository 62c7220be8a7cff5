// internal/storage/memory/memory_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/bodytrack/internal/config"
	"github.com/OCAP2/bodytrack/internal/storage"
	"github.com/OCAP2/bodytrack/pkg/core"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*Backend)(nil)

// Verify Backend implements storage.Exportable interface
var _ storage.Exportable = (*Backend)(nil)

var start = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func newSession(name string) *core.Session {
	return &core.Session{
		ID:            uuid.New(),
		Name:          name,
		StartTime:     start,
		Topology:      "arkit",
		ScaleModifier: 0.4,
	}
}

func frame(id uuid.UUID, n uint64) *core.SkeletonFrame {
	return &core.SkeletonFrame{
		BodyID: id,
		Frame:  n,
		Time:   start.Add(time.Duration(n) * 16 * time.Millisecond),
		Joints: []core.JointState{
			{Kind: core.Head, Position: mgl32.Vec3{0, 1.8, 0}, Rotation: [4]float32{0, 0, 0, 1}, Scale: mgl32.Vec3{0.4, 0.4, 0.4}, World: mgl32.Vec3{0, 1.8, float32(n)}},
		},
		Segments: []core.SegmentPoints{
			{Name: "head_neck", Points: []mgl32.Vec3{{0, 1.8, 0}, {0, 1.5, 0}}},
		},
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
}

func TestRecordingRequiresSession(t *testing.T) {
	b := New(config.MemoryConfig{})
	id := uuid.New()

	assert.ErrorIs(t, b.AddBody(&core.BodyRecord{BodyID: id}), ErrNoSession)
	assert.ErrorIs(t, b.RecordFrame(frame(id, 1)), ErrNoSession)
	assert.ErrorIs(t, b.RemoveBody(&core.BodyRemoval{BodyID: id}), ErrNoSession)
	assert.ErrorIs(t, b.EndSession(), ErrNoSession)
}

func TestStartSessionResets(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartSession(newSession("first")))
	id := uuid.New()
	require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: id}))
	require.NoError(t, b.RecordFrame(frame(id, 1)))

	require.NoError(t, b.StartSession(newSession("second")))

	assert.Equal(t, 0, b.BodyCount())
	_, ok := b.Body(id)
	assert.False(t, ok)
}

func TestRecordFrame(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartSession(newSession("rec")))

	id := uuid.New()
	require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: id, FirstFrame: 3}))
	// second add is ignored
	require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: id, FirstFrame: 99}))

	for n := uint64(3); n < 6; n++ {
		require.NoError(t, b.RecordFrame(frame(id, n)))
	}

	track, ok := b.Body(id)
	require.True(t, ok)
	assert.Equal(t, uint64(3), track.Body.FirstFrame)
	require.Len(t, track.Frames, 3)
	assert.Equal(t, uint64(5), track.Frames[2].Frame)
	assert.Nil(t, track.Removed)

	err := b.RecordFrame(frame(uuid.New(), 1))
	assert.ErrorIs(t, err, ErrUnknownBody)
}

func TestRemoveBody(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartSession(newSession("rm")))
	id := uuid.New()
	require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: id}))
	require.NoError(t, b.RecordFrame(frame(id, 1)))

	require.NoError(t, b.RemoveBody(&core.BodyRemoval{BodyID: id, Frame: 2}))

	track, ok := b.Body(id)
	require.True(t, ok)
	require.NotNil(t, track.Removed)
	assert.Equal(t, uint64(2), track.Removed.Frame)
	assert.Len(t, track.Frames, 1)

	assert.ErrorIs(t, b.RemoveBody(&core.BodyRemoval{BodyID: uuid.New()}), ErrUnknownBody)
}

func TestEndSession_ExportJSON(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
		suffix   string
	}{
		{name: "plain", compress: false, suffix: ".json"},
		{name: "gzip", compress: true, suffix: ".json.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: tt.compress})
			sess := newSession("Lab Run: 1")
			require.NoError(t, b.StartSession(sess))

			first, second := uuid.New(), uuid.New()
			require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: first, FirstFrame: 1}))
			require.NoError(t, b.RecordFrame(frame(first, 1)))
			require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: second, FirstFrame: 2}))
			require.NoError(t, b.RecordFrame(frame(second, 2)))
			require.NoError(t, b.RecordFrame(frame(first, 4)))
			require.NoError(t, b.RemoveBody(&core.BodyRemoval{BodyID: second, Frame: 3}))

			require.NoError(t, b.EndSession())

			path := b.ExportedFilePath()
			assert.Equal(t, filepath.Join(dir, "Lab_Run__1_20260115_103000"+tt.suffix), path)
			assert.True(t, strings.HasSuffix(path, tt.suffix))

			export := readExport(t, path, tt.compress)
			assert.Equal(t, ExportVersion, export.Version)
			assert.Equal(t, sess.ID, export.SessionID)
			assert.Equal(t, "Lab Run: 1", export.Name)
			assert.Equal(t, "arkit", export.Topology)
			assert.Equal(t, uint64(4), export.EndFrame)

			require.Len(t, export.Bodies, 2)
			assert.Equal(t, first, export.Bodies[0].ID)
			assert.Len(t, export.Bodies[0].Frames, 2)
			assert.Nil(t, export.Bodies[0].RemovedFrame)
			assert.Equal(t, second, export.Bodies[1].ID)
			require.NotNil(t, export.Bodies[1].RemovedFrame)
			assert.Equal(t, uint64(3), *export.Bodies[1].RemovedFrame)

			j := export.Bodies[0].Frames[0].Joints[0]
			assert.Equal(t, core.Head, j.Kind)
			assert.Equal(t, mgl32.Vec3{0, 1.8, 1}, j.World)

			// the session is closed after export
			assert.ErrorIs(t, b.EndSession(), ErrNoSession)
		})
	}
}

func TestExport_KindIsWrittenByName(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir})
	require.NoError(t, b.StartSession(newSession("names")))
	id := uuid.New()
	require.NoError(t, b.AddBody(&core.BodyRecord{BodyID: id}))
	require.NoError(t, b.RecordFrame(frame(id, 1)))
	require.NoError(t, b.EndSession())

	raw, err := os.ReadFile(b.ExportedFilePath())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"head"`)
}

func readExport(t *testing.T, path string, compressed bool) SessionExport {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var export SessionExport
	if compressed {
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gz.Close()
		require.NoError(t, json.NewDecoder(gz).Decode(&export))
	} else {
		require.NoError(t, json.NewDecoder(f).Decode(&export))
	}
	return export
}
