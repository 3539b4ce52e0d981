package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"socialify-moderation/backend/internal/store"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Outbox spools image bytes to disk and records them for a later upload.
type Outbox struct {
	db  *store.Database
	dir string
}

// NewOutbox creates the spool directory if needed.
func NewOutbox(db *store.Database, dir string) (*Outbox, error) {
	if db == nil {
		return nil, errors.New("outbox database required")
	}
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "moderation-uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Outbox{db: db, dir: dir}, nil
}

// Spool writes data to the spool directory and enqueues it under tag.
func (o *Outbox) Spool(_ context.Context, requestID string, data []byte, fileName, tag string) (*store.PendingUpload, error) {
	name := SpoolName(fileName)
	path := filepath.Join(o.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("spool image: %w", err)
	}
	row := &store.PendingUpload{
		RequestID: requestID,
		Path:      path,
		Tag:       tag,
		FileName:  strings.TrimSpace(fileName),
		SizeBytes: int64(len(data)),
	}
	if err := o.db.EnqueueUpload(row); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("enqueue upload: %w", err)
	}
	return row, nil
}

// SpoolName returns a collision-free file name that keeps the original
// base name readable.
func SpoolName(fileName string) string {
	base := filepath.Base(strings.TrimSpace(fileName))
	base = strings.Trim(unsafeFileChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "image"
	}
	return uuid.NewString()[:8] + "-" + base
}

// DrainResult summarizes one pass over the outbox.
type DrainResult struct {
	Uploaded int `json:"uploaded"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
}

// Drainer moves spooled files into object storage.
type Drainer struct {
	db          *store.Database
	uploader    Uploader
	batch       int
	maxAttempts int
	staleAfter  time.Duration
}

// NewDrainer constructs a drainer.
func NewDrainer(db *store.Database, uploader Uploader, batch, maxAttempts int) *Drainer {
	if batch <= 0 {
		batch = 25
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Drainer{db: db, uploader: uploader, batch: batch, maxAttempts: maxAttempts, staleAfter: 10 * time.Minute}
}

// Drain processes every pending row once. The spooled file is deleted once
// the row reaches a terminal state.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult
	rows, err := d.db.ClaimPendingUploads(d.batch)
	if err != nil {
		return result, err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		obj, err := d.uploader.Upload(ctx, row.Path, row.Tag)
		if err == nil {
			if markErr := d.db.MarkUploaded(row.ID, obj.Key, obj.URL); markErr != nil {
				return result, markErr
			}
			removeSpool(row.Path)
			result.Uploaded++
			logrus.WithFields(logrus.Fields{"id": row.ID, "key": obj.Key, "url": obj.URL}).Info("image uploaded")
			continue
		}

		attempts := d.maxAttempts
		if errors.Is(err, fs.ErrNotExist) {
			attempts = 1
		}
		terminal, markErr := d.db.MarkUploadFailed(row.ID, err, attempts)
		if markErr != nil {
			return result, markErr
		}
		entry := logrus.WithError(err).WithFields(logrus.Fields{"id": row.ID, "attempt": row.Attempts + 1})
		if terminal {
			removeSpool(row.Path)
			result.Failed++
			entry.Error("image upload abandoned")
		} else {
			result.Retried++
			entry.Warn("image upload failed, will retry")
		}
	}
	return result, nil
}

// Run drains on every tick until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if n, err := d.db.ResetStaleUploads(d.staleAfter); err != nil {
		logrus.WithError(err).Warn("reset stale uploads")
	} else if n > 0 {
		logrus.WithField("rows", n).Info("requeued stale uploads")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if res, err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Warn("drain upload outbox")
		} else if res.Uploaded+res.Retried+res.Failed > 0 {
			logrus.WithFields(logrus.Fields{
				"uploaded": res.Uploaded,
				"retried":  res.Retried,
				"failed":   res.Failed,
			}).Info("upload outbox drained")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func removeSpool(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).WithField("path", path).Warn("remove spooled image")
	}
}
