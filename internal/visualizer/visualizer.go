// Package visualizer drives one skeleton model per tracked body from a stream
// of frame events.
package visualizer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OCAP2/bodytrack/internal/skeleton"
	"github.com/OCAP2/bodytrack/internal/tracking"
	"github.com/OCAP2/bodytrack/internal/visual"
	"github.com/OCAP2/bodytrack/pkg/core"
)

var (
	ErrNoRecorder     = errors.New("no recorder configured")
	ErrSessionActive  = errors.New("a recording session is already active")
	ErrNoSession      = errors.New("no recording session is active")
	ErrInvalidSession = errors.New("invalid session")
)

type body struct {
	model    *skeleton.Model
	recorded bool // AddBody sent for the active session
}

// Visualizer owns the skeleton models. Frame events are expected one at a
// time; the mutex makes status queries from other goroutines safe.
type Visualizer struct {
	source tracking.Source
	sink   visual.Sink
	opts   options
	log    *slog.Logger

	mu      sync.Mutex
	sub     tracking.Subscription
	bodies  map[uuid.UUID]*body
	order   []uuid.UUID
	session *core.Session
}

// New validates the configured topology and returns a disabled visualizer.
func New(source tracking.Source, sink visual.Sink, opts ...Option) (*Visualizer, error) {
	if source == nil {
		return nil, errors.New("tracking source is required")
	}
	if sink == nil {
		return nil, errors.New("visual sink is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.topology.Validate(); err != nil {
		return nil, err
	}
	return &Visualizer{
		source: source,
		sink:   sink,
		opts:   o,
		log:    o.logger.With("component", "visualizer"),
		bodies: make(map[uuid.UUID]*body),
	}, nil
}

// Enable subscribes to the tracking source. Calling it again has no effect.
func (v *Visualizer) Enable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub != nil {
		return
	}
	v.sub = v.source.Subscribe(v.HandleBodiesChanged)
	v.log.Info("Visualizer enabled", "topology", v.opts.topology.Name)
}

// Disable unsubscribes from the tracking source. Models are kept.
func (v *Visualizer) Disable() {
	v.mu.Lock()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		v.log.Info("Visualizer disabled")
	}
}

// Enabled reports whether the visualizer is subscribed.
func (v *Visualizer) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sub != nil
}

// HandleBodiesChanged applies one frame event: added bodies, then updated
// bodies, then removals.
func (v *Visualizer) HandleBodiesChanged(ev core.BodiesChanged) {
	v.mu.Lock()
	defer v.mu.Unlock()

	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	for _, b := range ev.Added {
		v.updateBody(b, ev.Frame, at)
	}
	for _, b := range ev.Updated {
		v.updateBody(b, ev.Frame, at)
	}
	for _, b := range ev.Removed {
		v.removeBody(b.ID, ev.Frame, at)
	}
}

func (v *Visualizer) updateBody(b core.TrackedBody, frame uint64, at time.Time) {
	log := v.log.With("body", b.ID.String(), "frame", frame)

	if b.Root == nil {
		log.Warn("Body has no attachment context, skipping")
		v.opts.observer.UpdateSkipped(b.ID, SkipMissingRoot)
		return
	}

	tb, err := v.bodyFor(b.ID)
	if err != nil {
		log.Error("Error creating skeleton model", "error", err)
		v.opts.observer.UpdateSkipped(b.ID, SkipFailed)
		return
	}

	start := time.Now()
	result, err := tb.model.Update(b.Root, b.Joints)
	took := time.Since(start)

	switch {
	case errors.Is(err, skeleton.ErrMissingAttachmentContext):
		log.Warn("Body has no attachment context, skipping")
		v.opts.observer.UpdateSkipped(b.ID, SkipMissingRoot)
		return
	case errors.Is(err, skeleton.ErrJointSamplesUnavailable):
		log.Debug("Joint samples unavailable", "error", err)
		v.opts.observer.UpdateSkipped(b.ID, SkipUnavailable)
		return
	case errors.Is(err, skeleton.ErrReleased):
		v.opts.observer.UpdateSkipped(b.ID, SkipReleased)
		return
	case err != nil:
		log.Error("Error updating skeleton", "error", err)
		v.opts.observer.UpdateSkipped(b.ID, SkipFailed)
		return
	}

	if result != skeleton.UpdateApplied {
		v.opts.observer.UpdateSkipped(b.ID, SkipUnavailable)
		return
	}

	v.opts.observer.UpdateApplied(b.ID, took)
	v.record(b.ID, tb, frame, at)
}

// bodyFor returns the model for id, creating it on first sight.
func (v *Visualizer) bodyFor(id uuid.UUID) (*body, error) {
	if tb, ok := v.bodies[id]; ok {
		return tb, nil
	}
	model, err := skeleton.New(v.opts.topology, v.sink,
		skeleton.WithBodyID(id),
		skeleton.WithJointScaleModifier(v.opts.scaleModifier),
		skeleton.WithSkipUnavailable(v.opts.skipUnavailable),
		skeleton.WithLogger(v.opts.logger),
	)
	if err != nil {
		return nil, err
	}
	tb := &body{model: model}
	v.bodies[id] = tb
	v.order = append(v.order, id)
	v.opts.observer.BodyAdded(id)
	v.log.Debug("Tracking new body", "body", id.String())
	return tb, nil
}

func (v *Visualizer) removeBody(id uuid.UUID, frame uint64, at time.Time) {
	tb, ok := v.bodies[id]
	if !ok {
		return
	}
	if !v.opts.releaseRemoved {
		v.log.Debug("Body removed, keeping visuals", "body", id.String())
		return
	}

	tb.model.Release()
	delete(v.bodies, id)
	for i, o := range v.order {
		if o == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	v.opts.observer.BodyRemoved(id)
	v.log.Debug("Released removed body", "body", id.String())

	if v.session != nil && tb.recorded {
		err := v.opts.recorder.RemoveBody(&core.BodyRemoval{BodyID: id, Frame: frame, Time: at})
		if err != nil {
			v.log.Error("Error recording body removal", "body", id.String(), "error", err)
		}
	}
}

func (v *Visualizer) record(id uuid.UUID, tb *body, frame uint64, at time.Time) {
	if v.session == nil {
		return
	}
	if !tb.recorded {
		if err := v.opts.recorder.AddBody(&core.BodyRecord{BodyID: id, FirstFrame: frame, Time: at}); err != nil {
			v.log.Error("Error recording body", "body", id.String(), "error", err)
			return
		}
		tb.recorded = true
	}
	snap := tb.model.Snapshot(id, frame, at)
	if err := v.opts.recorder.RecordFrame(&snap); err != nil {
		v.log.Error("Error recording frame", "body", id.String(), "frame", frame, "error", err)
	}
}

// StartSession begins recording applied frames under a new session.
func (v *Visualizer) StartSession(name string) (core.Session, error) {
	if v.opts.recorder == nil {
		return core.Session{}, ErrNoRecorder
	}
	if name == "" {
		return core.Session{}, fmt.Errorf("%w: name is required", ErrInvalidSession)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		return core.Session{}, fmt.Errorf("%w: %s", ErrSessionActive, v.session.Name)
	}

	s := &core.Session{
		ID:            uuid.New(),
		Name:          name,
		StartTime:     time.Now().UTC(),
		Topology:      v.opts.topology.Name,
		Segments:      v.opts.topology.SegmentNames(),
		ScaleModifier: v.opts.scaleModifier,
	}
	if err := v.opts.recorder.StartSession(s); err != nil {
		return core.Session{}, fmt.Errorf("starting session: %w", err)
	}
	for _, tb := range v.bodies {
		tb.recorded = false
	}
	v.session = s
	v.log.Info("Recording session started", "session", s.ID.String(), "name", s.Name)
	return *s, nil
}

// EndSession stops recording and lets the backend finalize its output.
func (v *Visualizer) EndSession() (core.Session, error) {
	if v.opts.recorder == nil {
		return core.Session{}, ErrNoRecorder
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return core.Session{}, ErrNoSession
	}
	s := *v.session
	v.session = nil
	if err := v.opts.recorder.EndSession(); err != nil {
		return s, fmt.Errorf("ending session: %w", err)
	}
	v.log.Info("Recording session ended", "session", s.ID.String(), "name", s.Name)
	return s, nil
}

// Session returns the active session, if any.
func (v *Visualizer) Session() (core.Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return core.Session{}, false
	}
	return *v.session, true
}

// Bodies returns the tracked body ids in the order they were first seen.
func (v *Visualizer) Bodies() []uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uuid.UUID(nil), v.order...)
}

// Model returns the skeleton model of a tracked body.
func (v *Visualizer) Model(id uuid.UUID) (*skeleton.Model, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tb, ok := v.bodies[id]
	if !ok {
		return nil, false
	}
	return tb.model, true
}

// ReleaseAll releases every model and forgets all bodies.
func (v *Visualizer) ReleaseAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.order {
		v.bodies[id].model.Release()
		v.opts.observer.BodyRemoved(id)
	}
	v.bodies = make(map[uuid.UUID]*body)
	v.order = nil
}
