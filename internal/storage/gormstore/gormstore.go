// Package gormstore implements the storage.Backend interface using GORM with
// internal queues and a background DB writer goroutine. It runs on PostgreSQL
// or SQLite.
package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OCAP2/bodytrack/internal/queue"
	"github.com/OCAP2/bodytrack/pkg/core"
)

// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
const DefaultFlushInterval = 2 * time.Second

// ErrNoSession is returned when recording outside of a session.
var ErrNoSession = errors.New("no active session")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Bodies   *queue.Queue[BodyRow]
	Frames   *queue.Queue[FrameRow]
	Removals *queue.Queue[removal]
}

type removal struct {
	sessionID uint
	body      core.BodyRemoval
}

func newQueues() *queues {
	return &queues{
		Bodies:   queue.New[BodyRow](),
		Frames:   queue.New[FrameRow](),
		Removals: queue.New[removal](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	log       *slog.Logger
	queues    *queues
	sessionID atomic.Uint64

	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps:   deps,
		log:    log.With("component", "gormstore", "dialect", dialect(deps.DB)),
		queues: newQueues(),
	}
}

func dialect(db *gorm.DB) string {
	if db == nil {
		return ""
	}
	return db.Dialector.Name()
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gormstore: no database connection")
	}
	b.log.Info("Migrating schema")
	if err := b.deps.DB.AutoMigrate(DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the DB writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return b.Flush()
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// SessionID returns the row id of the active session, 0 when none is active.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// StartSession inserts the session row synchronously so later rows can reference it.
func (b *Backend) StartSession(s *core.Session) error {
	row, err := sessionToRow(*s)
	if err != nil {
		return err
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))
	b.log.Info("Session started", "session", s.ID, "name", s.Name, "rowId", row.ID)
	return nil
}

// EndSession flushes pending rows and stamps the session's end time.
func (b *Backend) EndSession() error {
	id := b.SessionID()
	if id == 0 {
		return ErrNoSession
	}
	if err := b.Flush(); err != nil {
		return err
	}
	now := time.Now()
	if err := b.deps.DB.Model(&SessionRow{}).Where("id = ?", id).Update("end_time", now).Error; err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	b.sessionID.Store(0)
	b.log.Info("Session ended", "rowId", id)
	return nil
}

// AddBody queues a body row.
func (b *Backend) AddBody(r *core.BodyRecord) error {
	id := b.SessionID()
	if id == 0 {
		return ErrNoSession
	}
	b.queues.Bodies.Push(bodyToRow(id, *r))
	return nil
}

// RecordFrame converts and queues a frame.
func (b *Backend) RecordFrame(f *core.SkeletonFrame) error {
	id := b.SessionID()
	if id == 0 {
		return ErrNoSession
	}
	row, err := frameToRow(id, *f)
	if err != nil {
		return err
	}
	b.queues.Frames.Push(row)
	return nil
}

// RemoveBody queues the removal. It is applied after pending body rows are written.
func (b *Backend) RemoveBody(r *core.BodyRemoval) error {
	id := b.SessionID()
	if id == 0 {
		return ErrNoSession
	}
	b.queues.Removals.Push(removal{sessionID: id, body: *r})
	return nil
}

// Pending returns the number of queued rows not yet written.
func (b *Backend) Pending() int {
	return b.queues.Bodies.Len() + b.queues.Frames.Len() + b.queues.Removals.Len()
}

// Flush writes every queue to the database. Bodies go first so frames and
// removals never reference a missing row.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var errs []error
	if err := writeQueue(b.deps.DB, b.queues.Bodies, "bodies", b.log); err != nil {
		errs = append(errs, err)
	}
	if err := writeQueue(b.deps.DB, b.queues.Frames, "frames", b.log); err != nil {
		errs = append(errs, err)
	}
	if err := b.applyRemovals(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Backend) applyRemovals() error {
	if b.queues.Removals.Empty() {
		return nil
	}
	items := b.queues.Removals.GetAndEmpty()
	for i, r := range items {
		frame := r.body.Frame
		at := r.body.Time
		err := b.deps.DB.Model(&BodyRow{}).
			Where("session_id = ? AND body_uuid = ?", r.sessionID, r.body.BodyID.String()).
			Updates(map[string]any{"removed_frame": frame, "removed_at": at}).Error
		if err != nil {
			b.log.Error("Error applying body removal", "body", r.body.BodyID, "error", err)
			b.queues.Removals.Requeue(items[i:]...)
			return fmt.Errorf("applying removals: %w", err)
		}
	}
	return nil
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items stay on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) error {
	if q.Empty() {
		return nil
	}

	tx := db.Begin()
	if tx.Error != nil {
		log.Error("Error starting transaction", "table", name, "error", tx.Error)
		return fmt.Errorf("writing %s: %w", name, tx.Error)
	}
	items := q.GetAndEmpty()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Requeue(items...)
		return fmt.Errorf("writing %s: %w", name, err)
	}

	if err := tx.Commit().Error; err != nil {
		q.Requeue(items...)
		return fmt.Errorf("committing %s: %w", name, err)
	}
	log.Debug("Wrote rows", "table", name, "count", len(items))
	return nil
}

// writerLoop periodically drains queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Warn("Flush failed, will retry", "error", err)
			}
		}
	}
}

// Frames reads back the recorded frames of one body in frame order.
func (b *Backend) Frames(sessionID uint, bodyID uuid.UUID) ([]core.SkeletonFrame, error) {
	var session SessionRow
	if err := b.deps.DB.First(&session, sessionID).Error; err != nil {
		return nil, fmt.Errorf("loading session %d: %w", sessionID, err)
	}
	var names []string
	if len(session.SegmentNames) > 0 {
		if err := json.Unmarshal(session.SegmentNames, &names); err != nil {
			return nil, fmt.Errorf("decoding segment names: %w", err)
		}
	}

	var rows []FrameRow
	err := b.deps.DB.
		Where("session_id = ? AND body_uuid = ?", sessionID, bodyID.String()).
		Order("frame").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading frames: %w", err)
	}

	frames := make([]core.SkeletonFrame, 0, len(rows))
	for _, r := range rows {
		f, err := rowToFrame(r, names)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", r.ID, err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}
