package store

import (
	"strings"
	"time"
)

// Upload statuses.
const (
	UploadPending    = "pending"
	UploadInProgress = "in_progress"
	UploadDone       = "uploaded"
	UploadFailed     = "failed"
)

// PendingUpload is one spooled image waiting to be copied to object storage.
type PendingUpload struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID string `gorm:"size:64;index"`
	Path      string `gorm:"size:1024"`
	Tag       string `gorm:"size:16;index"`
	FileName  string `gorm:"size:255"`
	SizeBytes int64
	Status    string `gorm:"size:16;index"`
	Attempts  int
	LastError string `gorm:"type:text"`
	ObjectKey string `gorm:"size:1024"`
	ObjectURL string `gorm:"size:2048"`
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the row will not be attempted again.
func (u PendingUpload) Terminal() bool {
	switch strings.TrimSpace(u.Status) {
	case UploadDone, UploadFailed:
		return true
	default:
		return false
	}
}
