package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"socialify-moderation/backend/internal/util"
)

var (
	// ErrNotReady is returned when extraction is requested before the engine is usable.
	ErrNotReady = errors.New("ocr engine not ready")
	// ErrQueueFull is returned when too many extractions are already waiting.
	ErrQueueFull = errors.New("ocr queue full")
	// ErrQueueTimeout is returned when an extraction waited too long for its turn.
	ErrQueueTimeout = errors.New("ocr queue wait timed out")
)

// State is the lifecycle of the shared recognizer.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ExtractionResult is the recognized text and the engine's own confidence on
// its native 0-100 scale.
type ExtractionResult struct {
	Text             string
	EngineConfidence float64
	Duration         time.Duration
}

// Recognizer performs text recognition. Implementations are not required to
// be safe for concurrent use; the Engine never calls them concurrently.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (ExtractionResult, error)
	Close() error
}

// Factory builds the recognizer during engine start-up.
type Factory func(ctx context.Context) (Recognizer, error)

// Config bounds how extractions queue up behind the single recognizer.
type Config struct {
	MaxQueue     int
	QueueTimeout time.Duration
	JobTimeout   time.Duration
}

// DefaultConfig returns the production queue limits.
func DefaultConfig() Config {
	return Config{MaxQueue: 32, QueueTimeout: 30 * time.Second, JobTimeout: 20 * time.Second}
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	State     string `json:"state"`
	InFlight  int64  `json:"inFlight"`
	Waiting   int64  `json:"waiting"`
	Processed int64  `json:"processed"`
	Failures  int64  `json:"failures"`
	Shed      int64  `json:"shed"`
	MaxQueue  int    `json:"maxQueue"`
	StartupMs int64  `json:"startupMs"`
}

// Engine owns the single recognizer instance and serializes access to it.
// Waiters are served in arrival order.
type Engine struct {
	cfg Config

	mu         sync.RWMutex
	state      State
	err        error
	recognizer Recognizer
	closed     bool
	startupMs  int64

	startOnce sync.Once
	gate      *semaphore.Weighted

	inFlight  atomic.Int64
	waiting   atomic.Int64
	processed atomic.Int64
	failures  atomic.Int64
	shed      atomic.Int64
}

// NewEngine constructs an engine in the Uninitialized state.
func NewEngine(cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = defaults.MaxQueue
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaults.QueueTimeout
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaults.JobTimeout
	}
	return &Engine{cfg: cfg, gate: semaphore.NewWeighted(1)}
}

// Start initializes the recognizer exactly once. A failure is terminal: later
// calls return the original error without retrying.
func (e *Engine) Start(ctx context.Context, factory Factory) error {
	e.startOnce.Do(func() {
		e.setState(Initializing, nil)
		logrus.Info("initializing OCR engine")

		timer := util.StartTimer()
		var (
			rec Recognizer
			err error
		)
		if factory == nil {
			err = errors.New("ocr factory is nil")
		} else {
			rec, err = factory(ctx)
		}
		if err == nil && rec == nil {
			err = errors.New("ocr factory returned no recognizer")
		}

		e.mu.Lock()
		e.startupMs = timer.ElapsedMs()
		if err != nil {
			e.state, e.err = Failed, err
		} else {
			e.state, e.recognizer = Ready, rec
		}
		e.mu.Unlock()

		if err != nil {
			logrus.WithError(err).Error("OCR engine initialization failed")
			return
		}
		logrus.WithField("startup_ms", timer.ElapsedMs()).Info("OCR engine ready")
	})
	return e.Err()
}

// StartAsync runs Start in the background. The engine reports Initializing
// as soon as StartAsync returns.
func (e *Engine) StartAsync(ctx context.Context, factory Factory) {
	e.mu.Lock()
	if e.state == Uninitialized {
		e.state = Initializing
	}
	e.mu.Unlock()
	go func() {
		_ = e.Start(ctx, factory)
	}()
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	if e == nil {
		return Failed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Ready reports whether extractions are accepted.
func (e *Engine) Ready() bool {
	return e.State() == Ready
}

// Err returns the initialization failure, if any.
func (e *Engine) Err() error {
	if e == nil {
		return ErrNotReady
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Extract recognizes text in a preprocessed PNG. It fails fast with
// ErrNotReady unless the engine is Ready, and with ErrQueueFull when the
// waiting line is already at capacity.
func (e *Engine) Extract(ctx context.Context, png []byte) (ExtractionResult, error) {
	rec, err := e.activeRecognizer()
	if err != nil {
		return ExtractionResult{}, err
	}

	if n := e.waiting.Add(1); n > int64(e.cfg.MaxQueue) {
		e.waiting.Add(-1)
		e.shed.Add(1)
		return ExtractionResult{}, ErrQueueFull
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, e.cfg.QueueTimeout)
	err = e.gate.Acquire(waitCtx, 1)
	cancelWait()
	e.waiting.Add(-1)
	if err != nil {
		e.shed.Add(1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ExtractionResult{}, ctxErr
		}
		return ExtractionResult{}, ErrQueueTimeout
	}
	defer e.gate.Release(1)

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ExtractionResult{}, ErrNotReady
	}

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	jobCtx, cancelJob := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancelJob()

	timer := util.StartTimer()
	result, err := rec.Recognize(jobCtx, png)
	if err != nil {
		e.failures.Add(1)
		return ExtractionResult{}, fmt.Errorf("recognize: %w", err)
	}
	result.Duration = timer.Elapsed()
	e.processed.Add(1)

	logrus.WithFields(logrus.Fields{
		"chars":      len(result.Text),
		"confidence": result.EngineConfidence,
		"ocr_ms":     result.Duration.Milliseconds(),
	}).Debug("ocr extraction complete")
	return result, nil
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	state, startup := e.state, e.startupMs
	e.mu.RUnlock()
	return Stats{
		State:     state.String(),
		InFlight:  e.inFlight.Load(),
		Waiting:   e.waiting.Load(),
		Processed: e.processed.Load(),
		Failures:  e.failures.Load(),
		Shed:      e.shed.Load(),
		MaxQueue:  e.cfg.MaxQueue,
		StartupMs: startup,
	}
}

// Close waits for the in-flight extraction and releases the recognizer.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	rec := e.recognizer
	e.mu.Unlock()

	if rec == nil {
		return nil
	}
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for ocr job: %w", err)
	}
	defer e.gate.Release(1)
	return rec.Close()
}

func (e *Engine) activeRecognizer() (Recognizer, error) {
	if e == nil {
		return nil, ErrNotReady
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != Ready || e.closed || e.recognizer == nil {
		return nil, ErrNotReady
	}
	return e.recognizer, nil
}

func (e *Engine) setState(state State, err error) {
	e.mu.Lock()
	e.state, e.err = state, err
	e.mu.Unlock()
}
