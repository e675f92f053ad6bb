package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type assignmentRow struct {
	CallSign         string `gorm:"primaryKey;size:64"`
	RowNumber        int
	AssignmentHolder string    `gorm:"size:512"`
	AssignNo         string    `gorm:"size:128"`
	ExpiryDate       string    `gorm:"size:64"`
	FirstSeenAt      time.Time `gorm:"index"`
	LastUpdatedAt    time.Time `gorm:"index"`
}

func (assignmentRow) TableName() string { return "assignments" }

type storeMetaRow struct {
	ID          uint      `gorm:"primaryKey"`
	Created     time.Time `gorm:"column:created_at"`
	LastUpdated *time.Time
	TotalCount  int
}

func (storeMetaRow) TableName() string { return "store_metadata" }

type sessionRow struct {
	ID             int `gorm:"primaryKey;autoIncrement:false"`
	StartedAt      time.Time
	CompletedAt    *time.Time
	Status         string `gorm:"index;size:16"`
	RecordsFound   int
	RecordsAdded   int
	RecordsUpdated int
	LastPage       int
}

func (sessionRow) TableName() string { return "scrape_sessions" }

type checkpointRow struct {
	ID             uint `gorm:"primaryKey"`
	SessionID      int
	LastPage       int
	RecordsScraped int
	RecordsAdded   int
	RecordsUpdated int
	SavedAt        time.Time `gorm:"column:updated_at"`
}

func (checkpointRow) TableName() string { return "checkpoint" }

const (
	metaRowID       = 1
	checkpointRowID = 1
)

// SQLiteDB holds all three resources as tables of one SQLite file.
type SQLiteDB struct {
	db    *gorm.DB
	opts  Options
	state LoadState
}

func OpenSQLite(path string, opts Options) (*SQLiteDB, error) {
	opts = opts.withDefaults()
	state := LoadAbsent
	if _, err := os.Stat(path); err == nil {
		state = LoadOK
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := openGorm(path, opts)
	if err != nil {
		if state == LoadAbsent {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		if opts.ReadOnly {
			return nil, fmt.Errorf("sqlite store %s unreadable: %w", path, err)
		}
		opts.Logger.Warn("sqlite store unreadable", zap.String("path", path), zap.Error(err))
		recoverCorrupt(opts.Logger, path, opts.QuarantineDir)
		for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
		db, err = openGorm(path, opts)
		if err != nil {
			return nil, fmt.Errorf("reopen sqlite %s: %w", path, err)
		}
		state = LoadRecovered
	}

	s := &SQLiteDB{db: db, opts: opts, state: state}
	if err := s.ensureMeta(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func openGorm(path string, opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: opts.Now,
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&assignmentRow{}, &storeMetaRow{}, &sessionRow{}, &checkpointRow{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return db, nil
}

func (s *SQLiteDB) ensureMeta() error {
	var metas []storeMetaRow
	if err := s.db.Where("id = ?", metaRowID).Limit(1).Find(&metas).Error; err != nil {
		return err
	}
	if len(metas) > 0 {
		return nil
	}
	return s.db.Create(&storeMetaRow{ID: metaRowID, Created: s.opts.Now()}).Error
}

func (s *SQLiteDB) LoadState() LoadState {
	return s.state
}

func (s *SQLiteDB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	s.db = nil
	return err
}

func (s *SQLiteDB) Records() *SQLiteRecords       { return &SQLiteRecords{s: s} }
func (s *SQLiteDB) Ledger() *SQLiteLedger         { return &SQLiteLedger{s: s} }
func (s *SQLiteDB) Checkpoint() *SQLiteCheckpoint { return &SQLiteCheckpoint{s: s} }

type SQLiteRecords struct {
	s *SQLiteDB
}

func (r *SQLiteRecords) UpsertBatch(rows []Row) (int, int, error) {
	now := r.s.opts.Now()
	var added, updated int
	err := r.s.db.Transaction(func(tx *gorm.DB) error {
		a, u := 0, 0
		for _, row := range rows {
			var existing []assignmentRow
			if err := tx.Where("call_sign = ?", row.CallSign).Limit(1).Find(&existing).Error; err != nil {
				return err
			}
			if len(existing) > 0 {
				err := tx.Model(&assignmentRow{}).
					Where("call_sign = ?", row.CallSign).
					Updates(map[string]any{
						"row_number":        row.RowNumber,
						"assignment_holder": row.Holder,
						"assign_no":         row.AssignNo,
						"expiry_date":       row.Expiry,
						"last_updated_at":   now,
					}).Error
				if err != nil {
					return err
				}
				u++
				continue
			}
			rec := assignmentRow{
				CallSign:         row.CallSign,
				RowNumber:        row.RowNumber,
				AssignmentHolder: row.Holder,
				AssignNo:         row.AssignNo,
				ExpiryDate:       row.Expiry,
				FirstSeenAt:      now,
				LastUpdatedAt:    now,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			a++
		}

		var total int64
		if err := tx.Model(&assignmentRow{}).Count(&total).Error; err != nil {
			return err
		}
		if err := tx.Model(&storeMetaRow{}).
			Where("id = ?", metaRowID).
			Updates(map[string]any{"last_updated": now, "total_count": total}).Error; err != nil {
			return err
		}
		added, updated = a, u
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("persist records: %w", err)
	}
	return added, updated, nil
}

func (r *SQLiteRecords) Count() (int, error) {
	var total int64
	if err := r.s.db.Model(&assignmentRow{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

func (r *SQLiteRecords) Get(callSign string) (Assignment, bool, error) {
	var rows []assignmentRow
	if err := r.s.db.Where("call_sign = ?", callSign).Limit(1).Find(&rows).Error; err != nil {
		return Assignment{}, false, err
	}
	if len(rows) == 0 {
		return Assignment{}, false, nil
	}
	return rows[0].toAssignment(), true, nil
}

func (r *SQLiteRecords) All() ([]Assignment, error) {
	var rows []assignmentRow
	if err := r.s.db.Order("first_seen_at asc, row_number asc, call_sign asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAssignment())
	}
	return out, nil
}

func (r *SQLiteRecords) Metadata() (Metadata, error) {
	var metas []storeMetaRow
	if err := r.s.db.Where("id = ?", metaRowID).Limit(1).Find(&metas).Error; err != nil {
		return Metadata{}, err
	}
	if len(metas) == 0 {
		return Metadata{}, nil
	}
	m := metas[0]
	out := Metadata{CreatedAt: NewTimestamp(m.Created), TotalCount: m.TotalCount}
	if m.LastUpdated != nil {
		out.LastUpdated = NewTimestamp(*m.LastUpdated).Ptr()
	}
	return out, nil
}

func (r *SQLiteRecords) Clear() error {
	now := r.s.opts.Now()
	err := r.s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&assignmentRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&checkpointRow{}).Error; err != nil {
			return err
		}
		return tx.Model(&storeMetaRow{}).
			Where("id = ?", metaRowID).
			Updates(map[string]any{"created_at": now, "last_updated": nil, "total_count": 0}).Error
	})
	if err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	r.s.opts.Logger.Info("cleared existing assignments and checkpoint")
	return nil
}

func (row assignmentRow) toAssignment() Assignment {
	return Assignment{
		RowNumber:        row.RowNumber,
		AssignmentHolder: row.AssignmentHolder,
		CallSign:         row.CallSign,
		AssignNo:         row.AssignNo,
		ExpiryDate:       row.ExpiryDate,
		FirstSeenAt:      NewTimestamp(row.FirstSeenAt),
		LastUpdatedAt:    NewTimestamp(row.LastUpdatedAt),
	}
}

type SQLiteLedger struct {
	s *SQLiteDB
}

func (l *SQLiteLedger) StartSession() (int, error) {
	var id int
	err := l.s.db.Transaction(func(tx *gorm.DB) error {
		var maxID int
		if err := tx.Model(&sessionRow{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
			return err
		}
		row := sessionRow{ID: maxID + 1, StartedAt: l.s.opts.Now(), Status: string(SessionRunning)}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

func (l *SQLiteLedger) UpdateProgress(id int, p Progress) error {
	err := l.s.db.Model(&sessionRow{}).
		Where("id = ?", id).
		Updates(progressColumns(p)).Error
	if err != nil {
		return fmt.Errorf("update session %d: %w", id, err)
	}
	return nil
}

func (l *SQLiteLedger) CompleteSession(id int, p Progress, status SessionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	cols := progressColumns(p)
	cols["completed_at"] = l.s.opts.Now()
	cols["status"] = string(status)
	if err := l.s.db.Model(&sessionRow{}).Where("id = ?", id).Updates(cols).Error; err != nil {
		return fmt.Errorf("complete session %d: %w", id, err)
	}
	return nil
}

func (l *SQLiteLedger) Sessions() ([]Session, error) {
	var rows []sessionRow
	if err := l.s.db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		s := Session{
			ID:             row.ID,
			StartedAt:      NewTimestamp(row.StartedAt),
			Status:         SessionStatus(row.Status),
			RecordsFound:   row.RecordsFound,
			RecordsAdded:   row.RecordsAdded,
			RecordsUpdated: row.RecordsUpdated,
			LastPage:       row.LastPage,
		}
		if row.CompletedAt != nil {
			s.CompletedAt = NewTimestamp(*row.CompletedAt).Ptr()
		}
		out = append(out, s)
	}
	return out, nil
}

func progressColumns(p Progress) map[string]any {
	return map[string]any{
		"records_found":   p.Found,
		"records_added":   p.Added,
		"records_updated": p.Updated,
		"last_page":       p.LastPage,
	}
}

type SQLiteCheckpoint struct {
	s *SQLiteDB
}

func (c *SQLiteCheckpoint) Save(cp Checkpoint) error {
	row := checkpointRow{
		ID:             checkpointRowID,
		SessionID:      cp.SessionID,
		LastPage:       cp.LastPage,
		RecordsScraped: cp.RecordsScraped,
		RecordsAdded:   cp.RecordsAdded,
		RecordsUpdated: cp.RecordsUpdated,
		SavedAt:        c.s.opts.Now(),
	}
	if err := c.s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (c *SQLiteCheckpoint) Peek() (Checkpoint, LoadState, error) {
	var rows []checkpointRow
	if err := c.s.db.Where("id = ?", checkpointRowID).Limit(1).Find(&rows).Error; err != nil {
		return Checkpoint{}, LoadAbsent, err
	}
	if len(rows) == 0 {
		return Checkpoint{}, LoadAbsent, nil
	}
	row := rows[0]
	cp := Checkpoint{
		SessionID:      row.SessionID,
		LastPage:       row.LastPage,
		RecordsScraped: row.RecordsScraped,
		RecordsAdded:   row.RecordsAdded,
		RecordsUpdated: row.RecordsUpdated,
		UpdatedAt:      NewTimestamp(row.SavedAt),
	}
	if !cp.valid() {
		return Checkpoint{}, LoadRecovered, nil
	}
	return cp, LoadOK, nil
}

// Load is Peek followed by deleting an invalid row.
func (c *SQLiteCheckpoint) Load() (Checkpoint, LoadState, error) {
	cp, state, err := c.Peek()
	if err != nil || state != LoadRecovered {
		return cp, state, err
	}
	c.s.opts.Logger.Warn("invalid checkpoint row discarded")
	if err := c.Clear(); err != nil {
		return Checkpoint{}, LoadRecovered, err
	}
	return Checkpoint{}, LoadRecovered, nil
}

func (c *SQLiteCheckpoint) Clear() error {
	if err := c.s.db.Where("id = ?", checkpointRowID).Delete(&checkpointRow{}).Error; err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
