// Package store persists scraped assignments, the scrape session ledger and
// the resume checkpoint. Two backends are available: plain JSON files (one
// per resource, replaced atomically on every write) and a single SQLite
// database accessed through gorm.
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"go.uber.org/zap"
)

var ErrInvalidStatus = errors.New("invalid terminal session status")

type RecordStore interface {
	// UpsertBatch inserts or merges rows keyed by call sign and persists the
	// whole store before returning.
	UpsertBatch(rows []Row) (added int, updated int, err error)
	Count() (int, error)
	Get(callSign string) (Assignment, bool, error)
	All() ([]Assignment, error)
	Metadata() (Metadata, error)
	// Clear empties the store and invalidates the checkpoint.
	Clear() error
}

type SessionLedger interface {
	StartSession() (int, error)
	// UpdateProgress is a no-op when id is unknown.
	UpdateProgress(id int, p Progress) error
	CompleteSession(id int, p Progress, status SessionStatus) error
	Sessions() ([]Session, error)
}

type CheckpointStore interface {
	Save(cp Checkpoint) error
	// Load reports LoadAbsent or LoadRecovered with a zero Checkpoint when no
	// usable checkpoint exists. An unusable checkpoint is quarantined or removed.
	Load() (Checkpoint, LoadState, error)
	// Peek is Load without touching persisted state.
	Peek() (Checkpoint, LoadState, error)
	Clear() error
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type Config struct {
	Backend string
	Dir     string

	RecordsFile    string
	LedgerFile     string
	CheckpointFile string
	SQLiteFile     string

	// QuarantineDir receives unreadable state files. Relative paths are
	// resolved against Dir. Empty disables quarantine.
	QuarantineDir string

	// ReadOnly opens the store without moving, deleting or rebuilding
	// unreadable state. A missing store is still created.
	ReadOnly bool

	Now    func() time.Time
	Logger *zap.Logger
}

var defaultConfig = Config{
	Backend:        BackendJSON,
	Dir:            ".",
	RecordsFile:    "callsigns.json",
	LedgerFile:     "scrape_history.json",
	CheckpointFile: "checkpoint.json",
	SQLiteFile:     "callsigns.db",
}

// withDefaults fills empty names from defaultConfig. QuarantineDir has no
// default so that an empty value keeps quarantine disabled.
func (c Config) withDefaults() Config {
	// Both operands are Config values, so Merge cannot fail.
	_ = mergo.Merge(&c, defaultConfig)
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

func (c Config) quarantineDir() string {
	if strings.TrimSpace(c.QuarantineDir) == "" {
		return ""
	}
	return c.path(c.QuarantineDir)
}

// Store bundles the three persisted resources of one data directory.
type Store struct {
	Records    RecordStore
	Ledger     SessionLedger
	Checkpoint CheckpointStore

	closeFn func() error
}

func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	opts := Options{Now: cfg.Now, Logger: cfg.Logger, QuarantineDir: cfg.quarantineDir(), ReadOnly: cfg.ReadOnly}
	if cfg.ReadOnly {
		opts.QuarantineDir = ""
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendJSON:
		cp := NewJSONCheckpoint(cfg.path(cfg.CheckpointFile), opts)
		records, err := OpenJSONRecords(cfg.path(cfg.RecordsFile), cp, opts)
		if err != nil {
			return nil, err
		}
		ledger, err := OpenJSONLedger(cfg.path(cfg.LedgerFile), opts)
		if err != nil {
			return nil, err
		}
		return &Store{Records: records, Ledger: ledger, Checkpoint: cp}, nil
	case BackendSQLite:
		db, err := OpenSQLite(cfg.path(cfg.SQLiteFile), opts)
		if err != nil {
			return nil, err
		}
		return &Store{
			Records:    db.Records(),
			Ledger:     db.Ledger(),
			Checkpoint: db.Checkpoint(),
			closeFn:    db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Reset clears all records and the checkpoint. The ledger is kept.
func (s *Store) Reset() error {
	return s.Records.Clear()
}

func (s *Store) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// Options are shared by the backend constructors.
type Options struct {
	Now           func() time.Time
	Logger        *zap.Logger
	QuarantineDir string
	ReadOnly      bool
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
