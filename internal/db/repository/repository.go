package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ppe-sentinel/internal/core/models"

	"gorm.io/gorm"
)

// ErrAlreadyStored is returned when inserting a record that already has an ID
var ErrAlreadyStored = errors.New("evidence record already has an id")

// EvidenceStore is the durable, append-only log of captured episodes
type EvidenceStore interface {
	// Insert appends rec and returns its generated ID
	Insert(ctx context.Context, rec *models.Evidence) (uint, error)
	// ListAll returns every record, newest first
	ListAll(ctx context.Context) ([]models.Evidence, error)
	// DeleteByID removes one record and reports whether it existed
	DeleteByID(ctx context.Context, id uint) (bool, error)
	// DeleteAll removes every record and resets the ID sequence
	DeleteAll(ctx context.Context) error
}

// SQLiteStore implements EvidenceStore on gorm and SQLite.
// Writes go through a single writer lock so each insert or delete is one
// uninterrupted transaction; reads use the pool directly.
type SQLiteStore struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// NewSQLiteStore creates a store on an open, migrated database
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert appends rec. On success rec.ID holds the generated ID.
func (s *SQLiteStore) Insert(ctx context.Context, rec *models.Evidence) (uint, error) {
	if rec == nil {
		return 0, fmt.Errorf("insert evidence: nil record")
	}
	if rec.ID != 0 {
		return 0, ErrAlreadyStored
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		rec.ID = 0
		return 0, fmt.Errorf("insert evidence: %w", err)
	}
	return rec.ID, nil
}

// ListAll returns every record including images, newest first
func (s *SQLiteStore) ListAll(ctx context.Context) ([]models.Evidence, error) {
	var records []models.Evidence
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	return records, nil
}

// ListSummaries returns record metadata without images, newest first.
// A limit <= 0 returns every record.
func (s *SQLiteStore) ListSummaries(ctx context.Context, limit, offset int) ([]models.EvidenceSummary, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Evidence{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count evidence: %w", err)
	}

	query := s.db.WithContext(ctx).Model(&models.Evidence{}).
		Select("id, timestamp, violation_type, camera, episode_id, COALESCE(length(image), 0) AS image_size, created_at").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	summaries := []models.EvidenceSummary{}
	if err := query.Scan(&summaries).Error; err != nil {
		return nil, 0, fmt.Errorf("list evidence summaries: %w", err)
	}
	return summaries, total, nil
}

// GetByID returns one record, or nil when it does not exist
func (s *SQLiteStore) GetByID(ctx context.Context, id uint) (*models.Evidence, error) {
	var rec models.Evidence
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get evidence %d: %w", id, err)
	}
	return &rec, nil
}

// Count returns the number of stored records
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Evidence{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count evidence: %w", err)
	}
	return total, nil
}

// DeleteByID removes the record with id. A missing id is not an error.
func (s *SQLiteStore) DeleteByID(ctx context.Context, id uint) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Delete(&models.Evidence{}, id)
	if res.Error != nil {
		return false, fmt.Errorf("delete evidence %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteAll removes every record and resets the AUTOINCREMENT sequence
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Evidence{}).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM sqlite_sequence WHERE name = ?", models.Evidence{}.TableName()).Error
	})
	if err != nil {
		return fmt.Errorf("delete all evidence: %w", err)
	}
	return nil
}

// DeleteOlderThan removes records created before cutoff and returns how many were removed
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Evidence{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete evidence older than %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}
