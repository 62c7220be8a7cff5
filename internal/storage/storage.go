// internal/storage/storage.go
package storage

import "github.com/OCAP2/bodytrack/pkg/core"

// Backend is the interface all recording implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Body registration, called once before the body's first frame
	AddBody(b *core.BodyRecord) error

	// State recording
	RecordFrame(f *core.SkeletonFrame) error
	RemoveBody(r *core.BodyRemoval) error
}

// Exportable is an optional interface for backends that write a file when a
// session ends.
type Exportable interface {
	ExportedFilePath() string
}

// Nop discards everything. It backs the "none" storage type.
type Nop struct{}

func (Nop) Init() error                           { return nil }
func (Nop) Close() error                          { return nil }
func (Nop) StartSession(*core.Session) error      { return nil }
func (Nop) EndSession() error                     { return nil }
func (Nop) AddBody(*core.BodyRecord) error        { return nil }
func (Nop) RecordFrame(*core.SkeletonFrame) error { return nil }
func (Nop) RemoveBody(*core.BodyRemoval) error    { return nil }
