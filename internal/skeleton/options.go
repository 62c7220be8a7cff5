package skeleton

import (
	"log/slog"

	"github.com/google/uuid"
)

// DefaultJointScaleModifier shrinks the reported joint scale so markers don't overlap.
const DefaultJointScaleModifier float32 = 0.4

type options struct {
	scaleModifier   float32
	skipUnavailable bool
	bodyID          uuid.UUID
	logger          *slog.Logger
}

func defaultOptions() options {
	return options{
		scaleModifier:   DefaultJointScaleModifier,
		skipUnavailable: true,
		logger:          slog.Default(),
	}
}

// Option configures a Model.
type Option func(*options)

// WithJointScaleModifier sets the factor applied to every incoming joint scale.
// Use 1 to apply scales unmodified.
func WithJointScaleModifier(f float32) Option {
	return func(o *options) {
		o.scaleModifier = f
	}
}

// WithSkipUnavailable controls what Update does when the joint array is missing
// or too short: a silent skip (true), or ErrJointSamplesUnavailable (false).
// State is left untouched either way.
func WithSkipUnavailable(skip bool) Option {
	return func(o *options) {
		o.skipUnavailable = skip
	}
}

// WithBodyID tags visual labels and log records with the tracked body's id.
func WithBodyID(id uuid.UUID) Option {
	return func(o *options) {
		o.bodyID = id
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
