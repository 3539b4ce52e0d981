package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes the upload outbox.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&PendingUpload{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		logrus.WithError(err).Warn("set busy timeout")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnqueueUpload stores a new pending upload.
func (d *Database) EnqueueUpload(u *PendingUpload) error {
	if u == nil {
		return errors.New("upload is nil")
	}
	u.Path = strings.TrimSpace(u.Path)
	if u.Path == "" {
		return errors.New("upload path required")
	}
	u.Tag = strings.ToLower(strings.TrimSpace(u.Tag))
	if u.Tag == "" {
		return errors.New("upload tag required")
	}
	u.Status = UploadPending
	u.Attempts = 0
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(u).Error
}

// ClaimPendingUploads marks up to limit pending rows in progress and returns
// them oldest first.
func (d *Database) ClaimPendingUploads(limit int) ([]PendingUpload, error) {
	if limit <= 0 {
		limit = 25
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var claimed []PendingUpload
	err := d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", UploadPending).Order("id ASC").Limit(limit).Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(claimed))
		for _, row := range claimed {
			ids = append(ids, row.ID)
		}
		now := time.Now().UTC()
		if err := tx.Model(&PendingUpload{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":     UploadInProgress,
			"claimed_at": now,
		}).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = UploadInProgress
			claimed[i].ClaimedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim uploads: %w", err)
	}
	return claimed, nil
}

// MarkUploaded records a completed upload.
func (d *Database) MarkUploaded(id uint, key, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Model(&PendingUpload{}).Where("id = ?", id).Updates(map[string]any{
		"status":     UploadDone,
		"object_key": key,
		"object_url": url,
		"last_error": "",
		"attempts":   gorm.Expr("attempts + 1"),
	}).Error
}

// MarkUploadFailed records a failed attempt. The row returns to pending until
// maxAttempts is reached; terminal reports whether it is now failed for good.
func (d *Database) MarkUploadFailed(id uint, cause error, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var terminal bool
	err := d.gorm.Transaction(func(tx *gorm.DB) error {
		var row PendingUpload
		if err := tx.First(&row, id).Error; err != nil {
			return err
		}
		attempts := row.Attempts + 1
		status := UploadPending
		if attempts >= maxAttempts {
			status = UploadFailed
			terminal = true
		}
		return tx.Model(&PendingUpload{}).Where("id = ?", id).Updates(map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": msg,
			"claimed_at": nil,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("mark upload failed: %w", err)
	}
	return terminal, nil
}

// ResetStaleUploads returns in-progress rows claimed before the cutoff to the
// pending state, recovering from an uploader that died mid-run.
func (d *Database) ResetStaleUploads(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Model(&PendingUpload{}).
		Where("status = ? AND claimed_at < ?", UploadInProgress, cutoff).
		Updates(map[string]any{"status": UploadPending, "claimed_at": nil})
	return res.RowsAffected, res.Error
}

// CountUploads returns the number of rows with the status, or all rows when
// status is empty.
func (d *Database) CountUploads(status string) (int64, error) {
	var count int64
	q := d.gorm.Model(&PendingUpload{})
	if s := strings.TrimSpace(status); s != "" {
		q = q.Where("status = ?", s)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetUpload loads a single row.
func (d *Database) GetUpload(id uint) (*PendingUpload, error) {
	var row PendingUpload
	if err := d.gorm.First(&row, id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// PurgeUploaded removes completed rows older than the cutoff.
func (d *Database) PurgeUploaded(olderThan time.Duration) (int64, error) {
	cutoff := d.gorm.NowFunc().Add(-olderThan)
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Where("status = ? AND updated_at < ?", UploadDone, cutoff).Delete(&PendingUpload{})
	return res.RowsAffected, res.Error
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_pending_uploads_status_id ON pending_uploads(status, id)",
		"CREATE INDEX IF NOT EXISTS idx_pending_uploads_status_claimed ON pending_uploads(status, claimed_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
