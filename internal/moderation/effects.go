package moderation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"socialify-moderation/backend/internal/metrics"
	"socialify-moderation/backend/internal/storage"
	"socialify-moderation/backend/internal/store"
	"socialify-moderation/backend/internal/tasks"
)

// Submitter queues fire-and-forget work. *tasks.Runner satisfies it.
type Submitter interface {
	Submit(name string, fn tasks.Task) bool
}

// Spooler stores image bytes for a later upload. *storage.Outbox satisfies it.
type Spooler interface {
	Spool(ctx context.Context, requestID string, data []byte, fileName, tag string) (*store.PendingUpload, error)
}

// VerdictEvent is broadcast to live monitors after every moderation.
type VerdictEvent struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"requestId"`
	IsOffensive bool      `json:"isOffensive"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	HasText     bool      `json:"hasText"`
	HasImage    bool      `json:"hasImage"`
	FileName    string    `json:"fileName,omitempty"`
	LatencyMs   int64     `json:"latencyMs"`
	Timestamp   time.Time `json:"timestamp"`
}

// Broadcaster fans verdict events out to subscribers.
type Broadcaster interface {
	Broadcast(event VerdictEvent)
}

// Effects publishes metrics, spools images for upload and broadcasts verdicts.
// Every piece runs on the submitter; failures are logged and never reach the
// request.
type Effects struct {
	Runner      Submitter
	Sink        metrics.Sink
	Spooler     Spooler
	Broadcaster Broadcaster
	Timeout     time.Duration
}

// Dispatch implements Dispatcher.
func (e *Effects) Dispatch(o Outcome) {
	if e == nil || e.Runner == nil {
		return
	}
	if e.Sink != nil {
		e.Runner.Submit("metrics", e.bounded(func(ctx context.Context) error {
			return e.publishMetrics(ctx, o)
		}))
	}
	if e.Spooler != nil && o.Request.hasImage() {
		img := o.Request.Image
		tag := storage.TagFor(o.Verdict.IsOffensive)
		e.Runner.Submit("spool-image", e.bounded(func(ctx context.Context) error {
			row, err := e.Spooler.Spool(ctx, o.RequestID, img.Data, img.FileName, tag)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"request_id": o.RequestID,
				"upload_id":  row.ID,
				"tag":        tag,
			}).Debug("image queued for upload")
			return nil
		}))
	}
	if e.Broadcaster != nil {
		event := verdictEvent(o)
		e.Runner.Submit("broadcast", func(context.Context) error {
			e.Broadcaster.Broadcast(event)
			return nil
		})
	}
}

func (e *Effects) publishMetrics(ctx context.Context, o Outcome) error {
	name := metrics.SafePosts
	if o.Verdict.IsOffensive {
		name = metrics.UnsafePosts
	}
	if err := e.Sink.Count(ctx, name, 1); err != nil {
		return err
	}
	if err := e.Sink.Count(ctx, metrics.TotalPosts, 1); err != nil {
		return err
	}
	if o.Request.hasImage() {
		if err := e.Sink.Duration(ctx, metrics.OCRProcessingTimeMs, o.OCRDuration); err != nil {
			return err
		}
	}
	return e.Sink.Duration(ctx, metrics.ModerationLatencyMs, o.Latency)
}

func (e *Effects) bounded(fn tasks.Task) tasks.Task {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx)
	}
}

func verdictEvent(o Outcome) VerdictEvent {
	event := VerdictEvent{
		Type:        "verdict",
		RequestID:   o.RequestID,
		IsOffensive: o.Verdict.IsOffensive,
		Label:       o.Verdict.Label,
		Confidence:  o.Verdict.Confidence,
		HasText:     o.Request.hasText(),
		HasImage:    o.Request.hasImage(),
		LatencyMs:   o.Latency.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
	if o.Request.Image != nil {
		event.FileName = o.Request.Image.FileName
	}
	return event
}
