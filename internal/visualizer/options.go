package visualizer

import (
	"log/slog"

	"github.com/OCAP2/bodytrack/internal/skeleton"
	"github.com/OCAP2/bodytrack/internal/storage"
	"github.com/OCAP2/bodytrack/pkg/core"
)

type options struct {
	topology        core.Topology
	scaleModifier   float32
	skipUnavailable bool
	releaseRemoved  bool
	recorder        storage.Backend
	observer        Observer
	logger          *slog.Logger
}

func defaultOptions() options {
	return options{
		topology:        core.DefaultTopology(),
		scaleModifier:   skeleton.DefaultJointScaleModifier,
		skipUnavailable: true,
		releaseRemoved:  true,
		observer:        nopObserver{},
		logger:          slog.Default(),
	}
}

// Option configures a Visualizer.
type Option func(*options)

// WithTopology sets the skeleton topology used for every body.
func WithTopology(t core.Topology) Option {
	return func(o *options) {
		o.topology = t.Clone()
	}
}

// WithJointScaleModifier is passed to each body's skeleton model.
func WithJointScaleModifier(f float32) Option {
	return func(o *options) {
		o.scaleModifier = f
	}
}

// WithSkipUnavailable is passed to each body's skeleton model.
func WithSkipUnavailable(skip bool) Option {
	return func(o *options) {
		o.skipUnavailable = skip
	}
}

// WithReleaseRemoved controls whether removed bodies have their visuals released.
func WithReleaseRemoved(release bool) Option {
	return func(o *options) {
		o.releaseRemoved = release
	}
}

// WithRecorder records applied frames while a session is active.
func WithRecorder(b storage.Backend) Option {
	return func(o *options) {
		o.recorder = b
	}
}

// WithObserver reports per-body outcomes. A nil observer is ignored.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
