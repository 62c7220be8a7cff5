package visualizer

import (
	"time"

	"github.com/google/uuid"
)

// SkipReason says why a body was not updated for a frame.
type SkipReason string

const (
	SkipMissingRoot SkipReason = "missing_root"
	SkipUnavailable SkipReason = "unavailable"
	SkipReleased    SkipReason = "released"
	SkipFailed      SkipReason = "failed"
)

// Observer is told about every per-body outcome. Calls happen on the goroutine
// that delivered the frame event.
type Observer interface {
	BodyAdded(id uuid.UUID)
	BodyRemoved(id uuid.UUID)
	UpdateApplied(id uuid.UUID, took time.Duration)
	UpdateSkipped(id uuid.UUID, reason SkipReason)
}

type nopObserver struct{}

func (nopObserver) BodyAdded(uuid.UUID)                    {}
func (nopObserver) BodyRemoved(uuid.UUID)                  {}
func (nopObserver) UpdateApplied(uuid.UUID, time.Duration) {}
func (nopObserver) UpdateSkipped(uuid.UUID, SkipReason)    {}
