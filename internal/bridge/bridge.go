// Package bridge turns host command lines into dispatcher events and formats
// the replies the host reads back.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OCAP2/bodytrack/internal/dispatcher"
	"github.com/OCAP2/bodytrack/internal/influx"
	"github.com/OCAP2/bodytrack/internal/logging"
	"github.com/OCAP2/bodytrack/internal/scene"
	"github.com/OCAP2/bodytrack/internal/storage"
	"github.com/OCAP2/bodytrack/pkg/core"
)

// Commands understood by the bridge.
const (
	CmdVersion      = ":VERSION:"
	CmdTimestamp    = ":TIMESTAMP:"
	CmdBodies       = ":BODIES:"
	CmdSessionStart = ":SESSION:START:"
	CmdSessionEnd   = ":SESSION:END:"
	CmdStatus       = ":STATUS:"
	CmdMetric       = ":METRIC:"
)

// metricQueueSize bounds the :METRIC: queue.
const metricQueueSize = 1000

var (
	ErrNoHandler      = errors.New("no handler registered")
	ErrMissingPayload = errors.New("missing payload")
	ErrUnavailable    = errors.New("not available")
)

// Publisher delivers frame events to the visualizer. *tracking.Feed satisfies it.
type Publisher interface {
	Publish(ev core.BodiesChanged)
}

// subscriberCounter is implemented by publishers that report their listeners.
// *tracking.Feed satisfies it.
type subscriberCounter interface {
	Subscribers() int
}

// Sessions starts and ends recording sessions. *visualizer.Visualizer satisfies it.
type Sessions interface {
	StartSession(name string) (core.Session, error)
	EndSession() (core.Session, error)
}

// MetricsWriter receives host metrics. *influx.Manager satisfies it.
type MetricsWriter interface {
	WritePoint(p *influxdb2_write.Point) error
}

// Dependencies holds everything the command handlers reach.
type Dependencies struct {
	Dispatcher     *dispatcher.Dispatcher
	Feed           Publisher
	Graph          *scene.Graph
	Sessions       Sessions
	Recorder       storage.Backend
	Status         func() any
	Metrics        MetricsWriter
	SessionContext *logging.SessionContext
	ReleaseRemoved bool
	Version        string
	BuildDate      string
	Logger         *slog.Logger
}

// Bridge owns the per-body anchor nodes and the command handlers.
type Bridge struct {
	deps Dependencies
	log  *slog.Logger

	mu    sync.Mutex
	roots map[uuid.UUID]*scene.Node
}

// New registers every command on the dispatcher.
func New(deps Dependencies) (*Bridge, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Feed == nil || deps.Graph == nil {
		return nil, errors.New("feed and scene graph are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	b := &Bridge{
		deps:  deps,
		log:   deps.Logger.With("component", "bridge"),
		roots: make(map[uuid.UUID]*scene.Node),
	}
	b.register()
	return b, nil
}

func (b *Bridge) register() {
	d := b.deps.Dispatcher
	d.Register(CmdVersion, b.handleVersion)
	d.Register(CmdTimestamp, b.handleTimestamp)
	d.Register(CmdBodies, b.handleBodies)
	d.Register(CmdSessionStart, b.handleSessionStart, dispatcher.Logged())
	d.Register(CmdSessionEnd, b.handleSessionEnd, dispatcher.Logged())
	d.Register(CmdStatus, b.handleStatus)
	d.Register(CmdMetric, b.handleMetric, dispatcher.Buffered(metricQueueSize), dispatcher.Logged())
}

// Call handles a "command|payload" line. Everything after the first "|" is
// passed to the handler as its single argument.
func (b *Bridge) Call(line string) string {
	command, payload, hasPayload := strings.Cut(line, "|")
	var args []string
	if hasPayload {
		args = []string{payload}
	}
	return b.CallArgs(command, args)
}

// CallArgs handles a command with an argument list.
func (b *Bridge) CallArgs(command string, args []string) string {
	if !b.deps.Dispatcher.HasHandler(command) {
		return FormatReply(nil, fmt.Errorf("%w: %s", ErrNoHandler, command))
	}
	result, err := b.deps.Dispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	})
	return FormatReply(result, err)
}

// Close drains queued commands.
func (b *Bridge) Close() {
	b.deps.Dispatcher.Close()
}

// FormatReply renders a handler outcome as a JSON array: ["ok"], ["ok", result]
// or ["error", message].
func FormatReply(result any, err error) string {
	var reply []any
	switch {
	case err != nil:
		reply = []any{"error", err.Error()}
	case result == nil:
		reply = []any{"ok"}
	default:
		reply = []any{"ok", result}
	}
	data, mErr := json.Marshal(reply)
	if mErr != nil {
		data, _ = json.Marshal([]any{"error", fmt.Sprintf("encoding reply: %v", mErr)})
	}
	return string(data)
}

func payload(e dispatcher.Event) (string, error) {
	if len(e.Args) == 0 || strings.TrimSpace(e.Args[0]) == "" {
		return "", fmt.Errorf("%w for %s", ErrMissingPayload, e.Command)
	}
	return e.Args[0], nil
}

func (b *Bridge) handleVersion(dispatcher.Event) (any, error) {
	return []string{b.deps.Version, b.deps.BuildDate}, nil
}

func (b *Bridge) handleTimestamp(dispatcher.Event) (any, error) {
	return strconv.FormatInt(time.Now().UTC().UnixNano(), 10), nil
}

func (b *Bridge) handleBodies(e dispatcher.Event) (any, error) {
	raw, err := payload(e)
	if err != nil {
		return nil, err
	}
	var wire WireBodiesChanged
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", CmdBodies, err)
	}

	ev, err := b.resolve(wire, e.Timestamp)
	if err != nil {
		return nil, err
	}
	b.deps.Feed.Publish(ev)

	// A disabled visualizer keeps its models, so their anchors stay too.
	if b.deps.ReleaseRemoved && b.delivered() {
		b.releaseRoots(ev.Removed)
	}
	return nil, nil
}

// delivered reports whether published events reach a listener.
func (b *Bridge) delivered() bool {
	if sc, ok := b.deps.Feed.(subscriberCounter); ok {
		return sc.Subscribers() > 0
	}
	return true
}

// resolve turns wire bodies into tracked bodies, placing each body's anchor
// node under the scene root.
func (b *Bridge) resolve(wire WireBodiesChanged, received time.Time) (core.BodiesChanged, error) {
	ev := core.BodiesChanged{Frame: wire.Frame, Timestamp: received}
	if wire.Timestamp != nil {
		ev.Timestamp = *wire.Timestamp
	}
	for _, list := range [][]WireBody{wire.Added, wire.Updated} {
		for _, wb := range list {
			if wb.ID == uuid.Nil {
				return ev, fmt.Errorf("decoding %s payload: body without id", CmdBodies)
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var created []uuid.UUID
	fail := func(err error) (core.BodiesChanged, error) {
		for _, id := range created {
			b.deps.Graph.Release(b.roots[id])
			delete(b.roots, id)
		}
		return ev, err
	}

	convert := func(in []WireBody) ([]core.TrackedBody, error) {
		out := make([]core.TrackedBody, 0, len(in))
		for _, wb := range in {
			tb := core.TrackedBody{ID: wb.ID, Joints: wb.Joints}
			if wb.RootPose != nil {
				_, known := b.roots[wb.ID]
				root, err := b.rootFor(wb.ID)
				if err != nil {
					return nil, err
				}
				if !known {
					created = append(created, wb.ID)
				}
				root.SetLocal(wb.RootPose.Position, wb.RootPose.Rotation, wb.RootPose.Scale)
				tb.Root = root
			}
			out = append(out, tb)
		}
		return out, nil
	}

	var err error
	if ev.Added, err = convert(wire.Added); err != nil {
		return fail(err)
	}
	if ev.Updated, err = convert(wire.Updated); err != nil {
		return fail(err)
	}
	for _, wb := range wire.Removed {
		ev.Removed = append(ev.Removed, core.TrackedBody{ID: wb.ID})
	}
	return ev, nil
}

func (b *Bridge) rootFor(id uuid.UUID) (*scene.Node, error) {
	if n, ok := b.roots[id]; ok {
		return n, nil
	}
	n, err := b.deps.Graph.NewNode(nil, id.String())
	if err != nil {
		return nil, fmt.Errorf("creating anchor for body %s: %w", id, err)
	}
	b.roots[id] = n
	return n, nil
}

func (b *Bridge) releaseRoots(removed []core.TrackedBody) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tb := range removed {
		if n, ok := b.roots[tb.ID]; ok {
			b.deps.Graph.Release(n)
			delete(b.roots, tb.ID)
		}
	}
}

// Anchors returns the number of body anchor nodes in the scene.
func (b *Bridge) Anchors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.roots)
}

func (b *Bridge) handleSessionStart(e dispatcher.Event) (any, error) {
	if b.deps.Sessions == nil {
		return nil, fmt.Errorf("recording %w", ErrUnavailable)
	}
	raw, err := payload(e)
	if err != nil {
		return nil, err
	}
	var req SessionRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", CmdSessionStart, err)
	}

	s, err := b.deps.Sessions.StartSession(req.Name)
	if err != nil {
		return nil, err
	}
	if b.deps.SessionContext != nil {
		b.deps.SessionContext.Set(s.ID.String(), s.Name)
	}
	b.log.Info("Session started", "session", s.ID.String(), "name", s.Name)
	return SessionReply{ID: s.ID.String(), Name: s.Name, Topology: s.Topology}, nil
}

func (b *Bridge) handleSessionEnd(dispatcher.Event) (any, error) {
	if b.deps.Sessions == nil {
		return nil, fmt.Errorf("recording %w", ErrUnavailable)
	}
	s, err := b.deps.Sessions.EndSession()
	if b.deps.SessionContext != nil && s.ID != uuid.Nil {
		b.deps.SessionContext.Clear()
	}
	if err != nil {
		return nil, err
	}

	reply := SessionReply{ID: s.ID.String(), Name: s.Name, Topology: s.Topology}
	if exp, ok := b.deps.Recorder.(storage.Exportable); ok {
		reply.File = exp.ExportedFilePath()
	}
	b.log.Info("Session ended", "session", reply.ID, "file", reply.File)
	return reply, nil
}

func (b *Bridge) handleStatus(dispatcher.Event) (any, error) {
	if b.deps.Status == nil {
		return nil, fmt.Errorf("status %w", ErrUnavailable)
	}
	return b.deps.Status(), nil
}

// handleMetric accepts either an argument list or one "|"-separated argument.
func (b *Bridge) handleMetric(e dispatcher.Event) (any, error) {
	if b.deps.Metrics == nil {
		return nil, nil
	}
	args := e.Args
	if len(args) == 1 {
		args = strings.Split(args[0], "|")
	}
	point, err := influx.ParseMetric(args, e.Timestamp)
	if err != nil {
		return nil, err
	}
	return nil, b.deps.Metrics.WritePoint(point)
}
