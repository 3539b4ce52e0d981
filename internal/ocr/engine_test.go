package ocr

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedRecognizer struct {
	mu      sync.Mutex
	order   []string
	active  atomic.Int32
	overlap atomic.Bool
	closed  atomic.Bool
	hold    chan struct{}
	err     error
}

func newScriptedRecognizer() *scriptedRecognizer {
	return &scriptedRecognizer{hold: make(chan struct{})}
}

func (r *scriptedRecognizer) Recognize(ctx context.Context, png []byte) (ExtractionResult, error) {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.mu.Lock()
	r.order = append(r.order, string(png))
	first := len(r.order) == 1
	r.mu.Unlock()

	if first {
		select {
		case <-r.hold:
		case <-ctx.Done():
			return ExtractionResult{}, ctx.Err()
		}
	}
	time.Sleep(time.Millisecond)
	if r.err != nil {
		return ExtractionResult{}, r.err
	}
	return ExtractionResult{Text: "text " + string(png), EngineConfidence: 91}, nil
}

func (r *scriptedRecognizer) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *scriptedRecognizer) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func readyEngine(t *testing.T, cfg Config, rec Recognizer) *Engine {
	t.Helper()
	engine := NewEngine(cfg)
	require.NoError(t, engine.Start(context.Background(), func(context.Context) (Recognizer, error) {
		return rec, nil
	}))
	require.Equal(t, Ready, engine.State())
	require.True(t, engine.Ready())
	return engine
}

func TestExtractBeforeStart(t *testing.T) {
	engine := NewEngine(Config{})
	require.Equal(t, Uninitialized, engine.State())
	_, err := engine.Extract(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestExtractionsRunOneAtATimeInArrivalOrder(t *testing.T) {
	rec := newScriptedRecognizer()
	engine := readyEngine(t, Config{MaxQueue: 16, QueueTimeout: 5 * time.Second, JobTimeout: 5 * time.Second}, rec)

	const jobs = 6
	results := make([]ExtractionResult, jobs)
	errs := make([]error, jobs)
	var wg sync.WaitGroup
	launch := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = engine.Extract(context.Background(), []byte(strconv.Itoa(i)))
		}()
	}

	launch(0)
	require.Eventually(t, func() bool { return engine.Stats().InFlight == 1 }, time.Second, time.Millisecond)
	for i := 1; i < jobs; i++ {
		launch(i)
		want := int64(i)
		require.Eventually(t, func() bool { return engine.Stats().Waiting == want }, time.Second, time.Millisecond)
		// let the goroutine park on the gate before the next one arrives
		time.Sleep(20 * time.Millisecond)
	}

	close(rec.hold)
	wg.Wait()

	require.False(t, rec.overlap.Load(), "recognizer was entered concurrently")
	require.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, rec.calls())
	for i := 0; i < jobs; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "text "+strconv.Itoa(i), results[i].Text)
		require.Equal(t, 91.0, results[i].EngineConfidence)
	}
	stats := engine.Stats()
	require.EqualValues(t, jobs, stats.Processed)
	require.Zero(t, stats.Waiting)
	require.Zero(t, stats.InFlight)
}

func TestExtractQueueFull(t *testing.T) {
	rec := newScriptedRecognizer()
	engine := readyEngine(t, Config{MaxQueue: 1, QueueTimeout: 5 * time.Second, JobTimeout: 5 * time.Second}, rec)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = engine.Extract(context.Background(), []byte(strconv.Itoa(i)))
		}(i)
		if i == 0 {
			require.Eventually(t, func() bool { return engine.Stats().InFlight == 1 }, time.Second, time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return engine.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	_, err := engine.Extract(context.Background(), []byte("overflow"))
	require.ErrorIs(t, err, ErrQueueFull)
	require.EqualValues(t, 1, engine.Stats().Shed)

	close(rec.hold)
	wg.Wait()
}

func TestExtractQueueTimeout(t *testing.T) {
	rec := newScriptedRecognizer()
	engine := readyEngine(t, Config{MaxQueue: 4, QueueTimeout: 30 * time.Millisecond, JobTimeout: 5 * time.Second}, rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Extract(context.Background(), []byte("slow"))
	}()
	require.Eventually(t, func() bool { return engine.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	_, err := engine.Extract(context.Background(), []byte("late"))
	require.ErrorIs(t, err, ErrQueueTimeout)

	close(rec.hold)
	<-done
}

func TestExtractJobTimeout(t *testing.T) {
	rec := newScriptedRecognizer()
	engine := readyEngine(t, Config{MaxQueue: 4, QueueTimeout: time.Second, JobTimeout: 20 * time.Millisecond}, rec)

	_, err := engine.Extract(context.Background(), []byte("stuck"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, engine.Stats().Failures)
}

func TestExtractRecognizerError(t *testing.T) {
	rec := newScriptedRecognizer()
	rec.err = errors.New("engine crashed")
	close(rec.hold)
	engine := readyEngine(t, Config{}, rec)

	_, err := engine.Extract(context.Background(), []byte("x"))
	require.ErrorContains(t, err, "engine crashed")

	// the gate is released after a failure
	rec.err = nil
	res, err := engine.Extract(context.Background(), []byte("y"))
	require.NoError(t, err)
	require.Equal(t, "text y", res.Text)
}

func TestStartFailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	factory := func(context.Context) (Recognizer, error) {
		calls.Add(1)
		return nil, errors.New("missing language data")
	}
	engine := NewEngine(Config{})

	err := engine.Start(context.Background(), factory)
	require.ErrorContains(t, err, "missing language data")
	require.Equal(t, Failed, engine.State())

	err = engine.Start(context.Background(), factory)
	require.ErrorContains(t, err, "missing language data")
	require.EqualValues(t, 1, calls.Load())

	_, err = engine.Extract(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestStartAsyncReportsInitializing(t *testing.T) {
	release := make(chan struct{})
	rec := newScriptedRecognizer()
	close(rec.hold)
	engine := NewEngine(Config{})

	engine.StartAsync(context.Background(), func(context.Context) (Recognizer, error) {
		<-release
		return rec, nil
	})
	require.Equal(t, Initializing, engine.State())
	_, err := engine.Extract(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrNotReady)

	close(release)
	require.Eventually(t, engine.Ready, time.Second, time.Millisecond)
	require.Equal(t, "ready", engine.Stats().State)
}

func TestCloseReleasesRecognizer(t *testing.T) {
	rec := newScriptedRecognizer()
	close(rec.hold)
	engine := readyEngine(t, Config{}, rec)

	require.NoError(t, engine.Close(context.Background()))
	require.True(t, rec.closed.Load())
	require.NoError(t, engine.Close(context.Background()))

	_, err := engine.Extract(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestCloseStopsQueuedExtractions(t *testing.T) {
	rec := newScriptedRecognizer()
	engine := readyEngine(t, Config{MaxQueue: 4, QueueTimeout: 5 * time.Second, JobTimeout: 5 * time.Second}, rec)

	firstDone := make(chan error, 1)
	go func() {
		_, err := engine.Extract(context.Background(), []byte("first"))
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return engine.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	queuedDone := make(chan error, 1)
	go func() {
		_, err := engine.Extract(context.Background(), []byte("queued"))
		queuedDone <- err
	}()
	require.Eventually(t, func() bool { return engine.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	closeDone := make(chan error, 1)
	go func() { closeDone <- engine.Close(context.Background()) }()
	require.Eventually(t, func() bool {
		_, err := engine.activeRecognizer()
		return errors.Is(err, ErrNotReady)
	}, time.Second, time.Millisecond)

	close(rec.hold)
	require.NoError(t, <-firstDone)
	require.ErrorIs(t, <-queuedDone, ErrNotReady)
	require.NoError(t, <-closeDone)
	require.True(t, rec.closed.Load())
	require.Equal(t, []string{"first"}, rec.calls())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "uninitialized", Uninitialized.String())
	require.Equal(t, "initializing", Initializing.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "state(9)", State(9).String())
}
