package gormstore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/OCAP2/bodytrack/internal/database"
)

// SqliteConfig holds configuration for the SQLite variant.
type SqliteConfig struct {
	DumpInterval time.Duration
	DumpPath     string // Path for periodic VACUUM INTO dumps
}

// SqliteBackend records into an in-memory SQLite database and periodically
// dumps it to disk with VACUUM INTO. A final dump is written on Close.
type SqliteBackend struct {
	*Backend
	db       *gorm.DB
	cfg      SqliteConfig
	stopChan chan struct{}
	done     chan struct{}
}

// NewSqlite wraps a GORM backend running on db.
func NewSqlite(cfg SqliteConfig, db *gorm.DB, deps Dependencies) *SqliteBackend {
	deps.DB = db
	return &SqliteBackend{
		Backend: New(deps),
		db:      db,
		cfg:     cfg,
	}
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *SqliteBackend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	} else {
		close(b.done)
	}

	return nil
}

// Close stops the dump goroutine, closes the embedded GORM backend and writes a final dump.
func (b *SqliteBackend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.Dump()
}

// EndSession ends the session and dumps so the file holds the finished session.
func (b *SqliteBackend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.Dump()
}

// Dump writes the database to DumpPath. It does nothing when no path is set.
func (b *SqliteBackend) Dump() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
		return fmt.Errorf("dumping sqlite: %w", err)
	}
	b.log.Debug("Dumped to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

// ExportedFilePath returns the dump path.
func (b *SqliteBackend) ExportedFilePath() string {
	return b.cfg.DumpPath
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *SqliteBackend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
