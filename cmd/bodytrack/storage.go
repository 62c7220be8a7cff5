package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OCAP2/bodytrack/internal/config"
	"github.com/OCAP2/bodytrack/internal/database"
	"github.com/OCAP2/bodytrack/internal/storage"
	"github.com/OCAP2/bodytrack/internal/storage/gormstore"
	"github.com/OCAP2/bodytrack/internal/storage/memory"
	wsstorage "github.com/OCAP2/bodytrack/internal/storage/websocket"
)

// sqliteMemoryName names the shared in-memory database the sqlite backend dumps from.
const sqliteMemoryName = "bodytrack"

func createStorageBackend(storageCfg config.StorageConfig, startedAt time.Time, logger *slog.Logger) (storage.Backend, error) {
	switch strings.ToLower(storageCfg.Type) {
	case "", "memory":
		return memory.New(storageCfg.Memory), nil

	case "sqlite":
		dumpPath := sqliteDumpPath(storageCfg.SQLite.Path, startedAt)
		if previous, err := database.BackupDBPaths(filepath.Dir(dumpPath)); err == nil && len(previous) > 0 {
			logger.Info("Found previous sqlite recordings", "count", len(previous), "dir", filepath.Dir(dumpPath))
		}
		if storageCfg.SQLite.DumpInterval <= 0 {
			// No periodic dumps: write straight to the file.
			if err := os.MkdirAll(filepath.Dir(dumpPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
			}
			db, err := database.OpenSqlite(dumpPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite file: %w", err)
			}
			logger.Info("SQLite file storage backend created", "path", dumpPath)
			return gormstore.New(gormstore.Dependencies{
				DB:            db,
				Logger:        logger,
				FlushInterval: storageCfg.FlushInterval,
			}), nil
		}
		db, err := database.OpenSqliteMemory(sqliteMemoryName)
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory sqlite: %w", err)
		}
		logger.Info("SQLite storage backend created", "dumpPath", dumpPath, "dumpInterval", storageCfg.SQLite.DumpInterval)
		return gormstore.NewSqlite(gormstore.SqliteConfig{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, db, gormstore.Dependencies{
			Logger:        logger,
			FlushInterval: storageCfg.FlushInterval,
		}), nil

	case "postgres":
		db, err := database.OpenPostgres(storageCfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logger.Info("Postgres storage backend created", "host", storageCfg.DB.Host, "database", storageCfg.DB.Database)
		return gormstore.New(gormstore.Dependencies{
			DB:            db,
			Logger:        logger,
			FlushInterval: storageCfg.FlushInterval,
		}), nil

	case "websocket":
		logger.Info("WebSocket storage backend created", "url", storageCfg.WebSocket.URL)
		return wsstorage.New(wsstorage.Config{
			URL:    storageCfg.WebSocket.URL,
			Secret: storageCfg.WebSocket.Secret,
			Logger: logger,
		}), nil

	case "none":
		return storage.Nop{}, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// sqliteDumpPath stamps the configured path with the run's start time so runs
// do not overwrite each other: recordings/bodytrack.db becomes
// recordings/bodytrack_20260102_150405.db.
func sqliteDumpPath(path string, startedAt time.Time) string {
	if path == "" {
		path = filepath.Join(".", "recordings", AppName+".db")
	}
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".db"
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return fmt.Sprintf("%s_%s%s", stem, startedAt.Format("20060102_150405"), ext)
}
