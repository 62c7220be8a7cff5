// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/OCAP2/bodytrack/internal/config"
	"github.com/OCAP2/bodytrack/pkg/core"
)

var (
	// ErrNoSession is returned when recording outside of a session.
	ErrNoSession = errors.New("no active session")
	// ErrUnknownBody is returned for frames of a body that was never added.
	ErrUnknownBody = errors.New("unknown body")
)

// BodyTrack groups a body with all its recorded frames
type BodyTrack struct {
	Body    core.BodyRecord
	Frames  []core.SkeletonFrame
	Removed *core.BodyRemoval
}

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	bodies   map[uuid.UUID]*BodyTrack
	order    []uuid.UUID
	endFrame uint64

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:    cfg,
		bodies: make(map[uuid.UUID]*BodyTrack),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session and drops anything recorded before.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.bodies = make(map[uuid.UUID]*BodyTrack)
	b.order = nil
	b.endFrame = 0
	return nil
}

// EndSession exports the session and closes it.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	if err := b.exportJSON(); err != nil {
		return err
	}
	b.session = nil
	return nil
}

// AddBody registers a tracked body. Adding a body twice is a no-op.
func (b *Backend) AddBody(r *core.BodyRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	if _, ok := b.bodies[r.BodyID]; ok {
		return nil
	}
	b.bodies[r.BodyID] = &BodyTrack{
		Body:   *r,
		Frames: make([]core.SkeletonFrame, 0),
	}
	b.order = append(b.order, r.BodyID)
	return nil
}

// RecordFrame appends a frame to its body.
func (b *Backend) RecordFrame(f *core.SkeletonFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	track, ok := b.bodies[f.BodyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBody, f.BodyID)
	}
	track.Frames = append(track.Frames, *f)
	if f.Frame > b.endFrame {
		b.endFrame = f.Frame
	}
	return nil
}

// RemoveBody marks a body as no longer tracked. Its frames are kept.
func (b *Backend) RemoveBody(r *core.BodyRemoval) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	track, ok := b.bodies[r.BodyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBody, r.BodyID)
	}
	removal := *r
	track.Removed = &removal
	return nil
}

// Body returns a copy of the recorded track for id.
func (b *Backend) Body(id uuid.UUID) (BodyTrack, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	track, ok := b.bodies[id]
	if !ok {
		return BodyTrack{}, false
	}
	out := *track
	out.Frames = append([]core.SkeletonFrame(nil), track.Frames...)
	return out, true
}

// BodyCount returns the number of bodies recorded in the current session.
func (b *Backend) BodyCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bodies)
}

// ExportedFilePath returns the path of the last exported file.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
