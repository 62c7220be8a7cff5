package visualizer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/bodytrack/internal/scene"
	"github.com/OCAP2/bodytrack/internal/skeleton"
	"github.com/OCAP2/bodytrack/internal/storage"
	"github.com/OCAP2/bodytrack/internal/tracking"
	"github.com/OCAP2/bodytrack/pkg/core"
)

var frameTime = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type fakeRecorder struct {
	storage.Nop
	mu       sync.Mutex
	sessions []core.Session
	ended    int
	bodies   []core.BodyRecord
	frames   []core.SkeletonFrame
	removals []core.BodyRemoval
	addErr   error
}

func (r *fakeRecorder) StartSession(s *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, *s)
	return nil
}

func (r *fakeRecorder) EndSession() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
	return nil
}

func (r *fakeRecorder) AddBody(b *core.BodyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		err := r.addErr
		r.addErr = nil
		return err
	}
	r.bodies = append(r.bodies, *b)
	return nil
}

func (r *fakeRecorder) RecordFrame(f *core.SkeletonFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, *f)
	return nil
}

func (r *fakeRecorder) RemoveBody(b *core.BodyRemoval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals = append(r.removals, *b)
	return nil
}

type fakeObserver struct {
	added   []uuid.UUID
	removed []uuid.UUID
	applied map[uuid.UUID]int
	skipped map[SkipReason]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{applied: map[uuid.UUID]int{}, skipped: map[SkipReason]int{}}
}

func (o *fakeObserver) BodyAdded(id uuid.UUID)                      { o.added = append(o.added, id) }
func (o *fakeObserver) BodyRemoved(id uuid.UUID)                    { o.removed = append(o.removed, id) }
func (o *fakeObserver) UpdateApplied(id uuid.UUID, _ time.Duration) { o.applied[id]++ }
func (o *fakeObserver) UpdateSkipped(_ uuid.UUID, r SkipReason)     { o.skipped[r]++ }

type fixture struct {
	feed  *tracking.Feed
	graph *scene.Graph
	vis   *Visualizer
	rec   *fakeRecorder
	obs   *fakeObserver
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	topo, err := core.TopologyByName("sequential")
	require.NoError(t, err)

	f := &fixture{
		feed:  tracking.NewFeed(),
		graph: scene.New(),
		rec:   &fakeRecorder{},
		obs:   newFakeObserver(),
	}
	base := []Option{
		WithTopology(topo),
		WithJointScaleModifier(1),
		WithRecorder(f.rec),
		WithObserver(f.obs),
	}
	f.vis, err = New(f.feed, f.graph, append(base, opts...)...)
	require.NoError(t, err)
	f.vis.Enable()
	return f
}

func (f *fixture) root(t *testing.T, x float32) *scene.Node {
	t.Helper()
	n, err := f.graph.NewNode(nil, "anchor")
	require.NoError(t, err)
	n.SetLocal(mgl32.Vec3{x, 0, 0}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
	return n
}

// poses puts joint i at (i, offset, 0).
func poses(offset float32) []core.JointPose {
	out := make([]core.JointPose, core.JointKindCount)
	for i := range out {
		out[i] = core.NewJointPose(mgl32.Vec3{float32(i), offset, 0})
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, scene.New())
	assert.Error(t, err)

	_, err = New(tracking.NewFeed(), nil)
	assert.Error(t, err)

	bad := core.DefaultTopology()
	bad.Segments[0].Joints = bad.Segments[0].Joints[:1]
	_, err = New(tracking.NewFeed(), scene.New(), WithTopology(bad))
	assert.ErrorIs(t, err, core.ErrInvalidTopology)
}

func TestEnableDisable(t *testing.T) {
	feed := tracking.NewFeed()
	v, err := New(feed, scene.New())
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	v.Enable()
	v.Enable()
	assert.True(t, v.Enabled())
	assert.Equal(t, 1, feed.Subscribers())

	v.Disable()
	v.Disable()
	assert.False(t, v.Enabled())
	assert.Equal(t, 0, feed.Subscribers())
}

func TestDisabled_IgnoresEvents(t *testing.T) {
	f := newFixture(t)
	f.vis.Disable()

	id := uuid.New()
	f.feed.Publish(core.BodiesChanged{Added: []core.TrackedBody{{ID: id, Root: f.root(t, 0), Joints: poses(0)}}})

	assert.Empty(t, f.vis.Bodies())
}

func TestAddedBody_BuildsAndPlacesSkeleton(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	root := f.root(t, 10)

	f.feed.Publish(core.BodiesChanged{Frame: 1, Added: []core.TrackedBody{{ID: id, Root: root, Joints: poses(2)}}})

	require.Equal(t, []uuid.UUID{id}, f.vis.Bodies())
	m, ok := f.vis.Model(id)
	require.True(t, ok)
	assert.Equal(t, skeleton.Initialized, m.State())

	neck := m.Joint(core.Neck)
	assert.Equal(t, mgl32.Vec3{1, 2, 0}, neck.Position)
	assert.True(t, mgl32.Vec3{11, 2, 0}.ApproxEqual(neck.World()))

	segs := m.Segments()
	require.Equal(t, "head_neck", segs[0].Name)
	assert.True(t, mgl32.Vec3{10, 2, 0}.ApproxEqual(segs[0].Points[0]))
	assert.True(t, mgl32.Vec3{11, 2, 0}.ApproxEqual(segs[0].Points[1]))

	// anchor + 14 joints under it
	assert.Len(t, root.Children(), core.JointKindCount)
	assert.Equal(t, []uuid.UUID{id}, f.obs.added)
	assert.Equal(t, 1, f.obs.applied[id])
}

func TestUpdatedBodies_AreIsolated(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	rootA, rootB := f.root(t, 0), f.root(t, 100)

	f.feed.Publish(core.BodiesChanged{Frame: 1, Added: []core.TrackedBody{
		{ID: a, Root: rootA, Joints: poses(0)},
		{ID: b, Root: rootB, Joints: poses(0)},
	}})

	// b has no joint data this frame; a moves
	f.feed.Publish(core.BodiesChanged{Frame: 2, Updated: []core.TrackedBody{
		{ID: a, Root: rootA, Joints: poses(5)},
		{ID: b, Root: rootB},
	}})

	ma, _ := f.vis.Model(a)
	mb, _ := f.vis.Model(b)
	assert.Equal(t, float32(5), ma.Joint(core.Head).Position.Y())
	assert.Equal(t, float32(0), mb.Joint(core.Head).Position.Y())
	assert.True(t, mgl32.Vec3{100, 0, 0}.ApproxEqual(mb.Joint(core.Head).World()))

	assert.Equal(t, 2, f.obs.applied[a])
	assert.Equal(t, 1, f.obs.applied[b])
	assert.Equal(t, 1, f.obs.skipped[SkipUnavailable])
}

func TestMissingRoot_SkipsWithoutModel(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	f.feed.Publish(core.BodiesChanged{Added: []core.TrackedBody{{ID: id, Joints: poses(0)}}})

	assert.Empty(t, f.vis.Bodies())
	assert.Equal(t, 1, f.obs.skipped[SkipMissingRoot])
	assert.Equal(t, 1, f.graph.NodeCount())

	// the next frame with a root succeeds
	f.feed.Publish(core.BodiesChanged{Updated: []core.TrackedBody{{ID: id, Root: f.root(t, 0), Joints: poses(0)}}})
	assert.Equal(t, []uuid.UUID{id}, f.vis.Bodies())
}

func TestUnavailableSamples_ErrorMode(t *testing.T) {
	f := newFixture(t, WithSkipUnavailable(false))
	id := uuid.New()

	f.feed.Publish(core.BodiesChanged{Added: []core.TrackedBody{{ID: id, Root: f.root(t, 0), Joints: poses(0)[:3]}}})

	m, ok := f.vis.Model(id)
	require.True(t, ok)
	assert.Equal(t, skeleton.Initialized, m.State())
	assert.Equal(t, mgl32.Vec3{}, m.Joint(core.Head).Position)
	assert.Equal(t, 1, f.obs.skipped[SkipUnavailable])
}

func TestRemovedBody_Released(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	root := f.root(t, 0)

	f.feed.Publish(core.BodiesChanged{Frame: 1, Added: []core.TrackedBody{{ID: id, Root: root, Joints: poses(0)}}})
	m, _ := f.vis.Model(id)

	f.feed.Publish(core.BodiesChanged{Frame: 2, Removed: []core.TrackedBody{{ID: id}}})

	assert.Empty(t, f.vis.Bodies())
	assert.Equal(t, skeleton.Released, m.State())
	assert.Empty(t, root.Children())
	assert.Equal(t, 0, f.graph.LineCount())
	assert.Equal(t, []uuid.UUID{id}, f.obs.removed)

	// unknown removals are ignored
	f.feed.Publish(core.BodiesChanged{Removed: []core.TrackedBody{{ID: uuid.New()}}})
	assert.Len(t, f.obs.removed, 1)
}

func TestRemovedBody_KeptWhenReleaseDisabled(t *testing.T) {
	f := newFixture(t, WithReleaseRemoved(false))
	id := uuid.New()

	f.feed.Publish(core.BodiesChanged{Added: []core.TrackedBody{{ID: id, Root: f.root(t, 0), Joints: poses(0)}}})
	f.feed.Publish(core.BodiesChanged{Removed: []core.TrackedBody{{ID: id}}})

	m, ok := f.vis.Model(id)
	require.True(t, ok)
	assert.Equal(t, skeleton.Initialized, m.State())
	assert.Empty(t, f.obs.removed)
}

func TestRecording_Session(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	root := f.root(t, 0)
	body := func(off float32) []core.TrackedBody {
		return []core.TrackedBody{{ID: id, Root: root, Joints: poses(off)}}
	}

	// nothing is recorded outside a session
	f.feed.Publish(core.BodiesChanged{Frame: 1, Timestamp: frameTime, Added: body(0)})
	assert.Empty(t, f.rec.frames)

	s, err := f.vis.StartSession("Lab run")
	require.NoError(t, err)
	assert.Equal(t, "sequential", s.Topology)
	assert.Equal(t, float32(1), s.ScaleModifier)
	assert.Equal(t, []string{"head_neck", "arms", "legs", "right_side", "left_side"}, s.Segments)

	active, ok := f.vis.Session()
	require.True(t, ok)
	assert.Equal(t, s.ID, active.ID)

	f.feed.Publish(core.BodiesChanged{Frame: 2, Timestamp: frameTime, Updated: body(1)})
	f.feed.Publish(core.BodiesChanged{Frame: 3, Timestamp: frameTime, Updated: body(2)})
	f.feed.Publish(core.BodiesChanged{Frame: 4, Timestamp: frameTime, Removed: body(0)})

	ended, err := f.vis.EndSession()
	require.NoError(t, err)
	assert.Equal(t, s.ID, ended.ID)

	require.Len(t, f.rec.bodies, 1)
	assert.Equal(t, core.BodyRecord{BodyID: id, FirstFrame: 2, Time: frameTime}, f.rec.bodies[0])
	require.Len(t, f.rec.frames, 2)
	assert.Equal(t, uint64(3), f.rec.frames[1].Frame)
	assert.Len(t, f.rec.frames[1].Joints, core.JointKindCount)
	assert.Equal(t, []core.BodyRemoval{{BodyID: id, Frame: 4, Time: frameTime}}, f.rec.removals)
	assert.Equal(t, 1, f.rec.ended)

	_, ok = f.vis.Session()
	assert.False(t, ok)
}

func TestRecording_AddBodyFailureRetries(t *testing.T) {
	f := newFixture(t)
	f.rec.addErr = errors.New("disk full")
	id := uuid.New()
	root := f.root(t, 0)

	_, err := f.vis.StartSession("retry")
	require.NoError(t, err)

	f.feed.Publish(core.BodiesChanged{Frame: 1, Added: []core.TrackedBody{{ID: id, Root: root, Joints: poses(0)}}})
	assert.Empty(t, f.rec.frames)

	f.feed.Publish(core.BodiesChanged{Frame: 2, Updated: []core.TrackedBody{{ID: id, Root: root, Joints: poses(0)}}})
	require.Len(t, f.rec.bodies, 1)
	assert.Equal(t, uint64(2), f.rec.bodies[0].FirstFrame)
	assert.Len(t, f.rec.frames, 1)
}

func TestSession_Errors(t *testing.T) {
	v, err := New(tracking.NewFeed(), scene.New())
	require.NoError(t, err)
	_, err = v.StartSession("x")
	assert.ErrorIs(t, err, ErrNoRecorder)
	_, err = v.EndSession()
	assert.ErrorIs(t, err, ErrNoRecorder)

	f := newFixture(t)
	_, err = f.vis.StartSession("")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.vis.EndSession()
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = f.vis.StartSession("one")
	require.NoError(t, err)
	_, err = f.vis.StartSession("two")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestReleaseAll(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.feed.Publish(core.BodiesChanged{Added: []core.TrackedBody{{ID: uuid.New(), Root: f.root(t, 0), Joints: poses(0)}}})
	}
	require.Len(t, f.vis.Bodies(), 3)

	f.vis.ReleaseAll()

	assert.Empty(t, f.vis.Bodies())
	assert.Len(t, f.obs.removed, 3)
	assert.Equal(t, 0, f.graph.LineCount())
	assert.Equal(t, 4, f.graph.NodeCount()) // root + three anchors
}
