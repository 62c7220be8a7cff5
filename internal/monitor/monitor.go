// Package monitor keeps runtime counters for the visualizer and reports them
// as a status snapshot, a status file and InfluxDB points.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OCAP2/bodytrack/internal/influx"
	"github.com/OCAP2/bodytrack/internal/queue"
	"github.com/OCAP2/bodytrack/internal/visualizer"
	"github.com/OCAP2/bodytrack/pkg/core"
)

// updateWindow is how many recent update durations feed the average.
const updateWindow = 120

// MetricsWriter receives points. *influx.Manager satisfies it.
type MetricsWriter interface {
	WritePoint(p *influxdb2_write.Point) error
}

// Tracker is the view of the visualizer the monitor reports on.
type Tracker interface {
	Bodies() []uuid.UUID
	Session() (core.Session, bool)
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Tracker    Tracker
	Metrics    MetricsWriter
	Backend    any // reported on when it exposes Pending() or Dropped()
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is a point-in-time view of the runtime.
type Status struct {
	Time            time.Time         `json:"time"`
	Session         string            `json:"session,omitempty"`
	SessionName     string            `json:"sessionName,omitempty"`
	TrackedBodies   int               `json:"trackedBodies"`
	BodiesAdded     uint64            `json:"bodiesAdded"`
	BodiesRemoved   uint64            `json:"bodiesRemoved"`
	UpdatesApplied  uint64            `json:"updatesApplied"`
	UpdatesSkipped  map[string]uint64 `json:"updatesSkipped"`
	AvgUpdateMicros float64           `json:"avgUpdateMicros"`
	PendingWrites   *int              `json:"pendingWrites,omitempty"`
	DroppedMessages *uint64           `json:"droppedMessages,omitempty"`
}

// Service counts visualizer outcomes. It implements visualizer.Observer.
type Service struct {
	deps Dependencies
	log  *slog.Logger

	mu        sync.RWMutex
	added     uint64
	removed   uint64
	applied   uint64
	skipped   map[visualizer.SkipReason]uint64
	durations *queue.Queue[time.Duration]

	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

var _ visualizer.Observer = (*Service)(nil)

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:      deps,
		log:       deps.Logger.With("component", "monitor"),
		skipped:   make(map[visualizer.SkipReason]uint64),
		durations: queue.NewBounded[time.Duration](updateWindow),
	}
}

// SetTracker attaches the visualizer after construction; the visualizer
// itself takes the service as its observer.
func (s *Service) SetTracker(t Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.Tracker = t
}

func (s *Service) BodyAdded(uuid.UUID) {
	s.mu.Lock()
	s.added++
	s.mu.Unlock()
}

func (s *Service) BodyRemoved(uuid.UUID) {
	s.mu.Lock()
	s.removed++
	s.mu.Unlock()
}

func (s *Service) UpdateApplied(id uuid.UUID, took time.Duration) {
	s.mu.Lock()
	s.applied++
	s.mu.Unlock()
	s.durations.Push(took)
	s.writePoint(influx.UpdatePoint(id.String(), "applied", took, time.Now()))
}

func (s *Service) UpdateSkipped(id uuid.UUID, reason visualizer.SkipReason) {
	s.mu.Lock()
	s.skipped[reason]++
	s.mu.Unlock()
	s.writePoint(influx.UpdatePoint(id.String(), string(reason), 0, time.Now()))
}

func (s *Service) writePoint(p *influxdb2_write.Point) {
	if s.deps.Metrics == nil {
		return
	}
	if err := s.deps.Metrics.WritePoint(p); err != nil {
		s.log.Debug("Error writing metrics point", "error", err)
	}
}

// Status returns the current counters.
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		Time:           time.Now().UTC(),
		BodiesAdded:    s.added,
		BodiesRemoved:  s.removed,
		UpdatesApplied: s.applied,
		UpdatesSkipped: make(map[string]uint64, len(s.skipped)),
	}
	for reason, n := range s.skipped {
		st.UpdatesSkipped[string(reason)] = n
	}
	tracker := s.deps.Tracker
	s.mu.RUnlock()

	if tracker != nil {
		st.TrackedBodies = len(tracker.Bodies())
		if sess, ok := tracker.Session(); ok {
			st.Session = sess.ID.String()
			st.SessionName = sess.Name
		}
	}

	if recent := s.durations.Items(); len(recent) > 0 {
		var total time.Duration
		for _, d := range recent {
			total += d
		}
		st.AvgUpdateMicros = float64(total.Microseconds()) / float64(len(recent))
	}

	if p, ok := s.deps.Backend.(interface{ Pending() int }); ok {
		n := p.Pending()
		st.PendingWrites = &n
	}
	if d, ok := s.deps.Backend.(interface{ Dropped() uint64 }); ok {
		n := d.Dropped()
		st.DroppedMessages = &n
	}
	return st
}

// StatusPoint converts a status snapshot into an InfluxDB point.
func StatusPoint(st Status) *influxdb2_write.Point {
	fields := map[string]any{
		"tracked_bodies":    st.TrackedBodies,
		"updates_applied":   int64(st.UpdatesApplied),
		"avg_update_us":     st.AvgUpdateMicros,
		"bodies_added":      int64(st.BodiesAdded),
		"bodies_removed":    int64(st.BodiesRemoved),
		"session_recording": st.Session != "",
	}
	for reason, n := range st.UpdatesSkipped {
		fields["skipped_"+reason] = int64(n)
	}
	if st.PendingWrites != nil {
		fields["pending_writes"] = *st.PendingWrites
	}
	if st.DroppedMessages != nil {
		fields["dropped_messages"] = int64(*st.DroppedMessages)
	}
	return influxdb2_write.NewPoint(influx.MeasurementStatus, nil, fields, st.Time)
}

// IsRunning returns whether the status loop is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start starts the status loop, which rewrites the status file and emits a
// status point every interval.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	var statusFile *os.File
	if s.deps.StatusFile != "" {
		f, err := os.Create(s.deps.StatusFile)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("creating status file: %w", err)
		}
		statusFile = f
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if statusFile != nil {
				statusFile.Close()
			}
		}()

		s.log.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				st := s.Status()
				if statusFile != nil {
					if err := writeStatusFile(statusFile, st); err != nil {
						s.log.Error("Error writing status file", "error", err)
					}
				}
				s.writePoint(StatusPoint(st))
			}
		}
	}()

	return nil
}

func writeStatusFile(f *os.File, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Stop stops the status loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
