package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Metric names published for every moderated post.
const (
	SafePosts           = "SafePosts"
	UnsafePosts         = "UnsafePosts"
	TotalPosts          = "TotalPosts"
	OCRProcessingTimeMs = "OCRProcessingTimeMs"
	ModerationLatencyMs = "ModerationLatencyMs"
)

// DefaultNamespace groups the moderation metrics in CloudWatch.
const DefaultNamespace = "BadContentApp"

// Sink publishes counters and durations.
type Sink interface {
	Count(ctx context.Context, name string, value float64) error
	Duration(ctx context.Context, name string, d time.Duration) error
}

// NopSink discards every metric.
type NopSink struct{}

func (NopSink) Count(context.Context, string, float64) error        { return nil }
func (NopSink) Duration(context.Context, string, time.Duration) error { return nil }

// LogSink writes metrics to the standard logger at debug level.
type LogSink struct{}

func (LogSink) Count(_ context.Context, name string, value float64) error {
	logrus.WithFields(logrus.Fields{"metric": name, "value": value}).Debug("metric")
	return nil
}

func (LogSink) Duration(_ context.Context, name string, d time.Duration) error {
	logrus.WithFields(logrus.Fields{"metric": name, "ms": d.Milliseconds()}).Debug("metric")
	return nil
}

// Counters wraps a Sink and keeps in-process totals for the health probe.
type Counters struct {
	next Sink

	mu     sync.Mutex
	counts map[string]float64
	last   map[string]int64
}

// NewCounters wraps next; a nil next behaves like NopSink.
func NewCounters(next Sink) *Counters {
	if next == nil {
		next = NopSink{}
	}
	return &Counters{next: next, counts: make(map[string]float64), last: make(map[string]int64)}
}

func (c *Counters) Count(ctx context.Context, name string, value float64) error {
	c.mu.Lock()
	c.counts[name] += value
	c.mu.Unlock()
	return c.next.Count(ctx, name, value)
}

func (c *Counters) Duration(ctx context.Context, name string, d time.Duration) error {
	c.mu.Lock()
	c.last[name] = d.Milliseconds()
	c.mu.Unlock()
	return c.next.Duration(ctx, name, d)
}

// Snapshot is the in-process view of published metrics.
type Snapshot struct {
	Counts map[string]float64 `json:"counts"`
	LastMs map[string]int64   `json:"lastMs"`
}

// Snapshot copies the current totals.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Snapshot{Counts: make(map[string]float64, len(c.counts)), LastMs: make(map[string]int64, len(c.last))}
	for k, v := range c.counts {
		out.Counts[k] = v
	}
	for k, v := range c.last {
		out.LastMs[k] = v
	}
	return out
}
