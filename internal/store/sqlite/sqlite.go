// Package sqlite is a reference store for the tick runner backed by SQLite
// through GORM. It implements core.DataSource, core.Persister,
// core.Notifier and core.WorldSource.
//
// The pure Go driver (github.com/glebarez/sqlite over modernc.org/sqlite)
// keeps the runner free of cgo. WAL mode is enabled for file databases.
package sqlite

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cryguy/tickrun/internal/core"
)

// Memory is the Path that opens a private in-memory database.
const Memory = ":memory:"

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // database file path, or Memory
	JournalMode string // wal by default
}

// Store implements the runner's collaborators on one database.
type Store struct {
	db   *gorm.DB
	path string
}

var (
	_ core.DataSource  = (*Store)(nil)
	_ core.Persister   = (*Store)(nil)
	_ core.Notifier    = (*Store)(nil)
	_ core.WorldSource = (*Store)(nil)
)

// Open opens the database and migrates its tables.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	inMemory := cfg.Path == Memory
	if !inMemory {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	if inMemory {
		journalMode = "memory"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		log.New(os.Stderr, "tickrun: ", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: cfg.Path}
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}
	log.Printf("tickrun: sqlite store opened at %s (journal_mode=%s)", cfg.Path, journalMode)
	return s, nil
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&TenantModel{},
		&CodeModuleModel{},
		&MemoryModel{},
		&SegmentModel{},
		&ConsoleCommandModel{},
		&ObjectModel{},
		&RoomModel{},
		&GameStateModel{},
		&IntentModel{},
		&VisualModel{},
		&NotificationModel{},
		&WorldModel{},
	)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Path is the database location.
func (s *Store) Path() string { return s.path }
