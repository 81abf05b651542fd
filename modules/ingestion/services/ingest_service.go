package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/pkg/eventbus"
)

var (
	ErrNoRows       = errors.New("no rows to ingest")
	ErrTooManyRows  = errors.New("too many rows")
	ErrShuttingDown = errors.New("ingestion service is shutting down")
)

// DefaultEventBuffer holds every event a run can emit, so a run never waits
// on a slow reader.
const DefaultEventBuffer = 32

type IngestOptions struct {
	MaxConcurrentRuns int
	// MaxRows rejects larger submissions when positive.
	MaxRows int
	// RunTimeout bounds a whole run when positive.
	RunTimeout  time.Duration
	EventBuffer int

	Logger *logrus.Entry
	Now    func() time.Time
	NewID  func() string
}

func (o *IngestOptions) setDefaults() {
	if o.MaxConcurrentRuns <= 0 {
		o.MaxConcurrentRuns = 4
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// Run is a submitted ingestion. Events is closed after the terminal event.
type Run struct {
	ID     string
	Events <-chan ingest.Event
}

// IngestService runs each submission on its own goroutine and fans its events
// out to the caller, the run registry, the event bus and metrics.
type IngestService struct {
	pipeline  *Pipeline
	registry  RunRegistry
	publisher eventbus.EventBus
	watchers  *runWatchers
	opts      IngestOptions

	slots chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	stop     context.Context
	stopFunc context.CancelFunc
}

func NewIngestService(pipeline *Pipeline, registry RunRegistry, publisher eventbus.EventBus, opts IngestOptions) *IngestService {
	opts.setDefaults()
	stop, stopFunc := context.WithCancel(context.Background())
	return &IngestService{
		pipeline:  pipeline,
		registry:  registry,
		publisher: publisher,
		watchers:  newRunWatchers(opts.EventBuffer),
		opts:      opts,
		slots:     make(chan struct{}, opts.MaxConcurrentRuns),
		stop:      stop,
		stopFunc:  stopFunc,
	}
}

// Submit validates rows and starts a run. It returns as soon as the run is
// registered; the run continues after ctx is canceled.
func (s *IngestService) Submit(ctx context.Context, rows []ingest.Row) (*Run, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if s.opts.MaxRows > 0 && len(rows) > s.opts.MaxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds limit of %d", ErrTooManyRows, len(rows), s.opts.MaxRows)
	}

	// The run counts as in flight before the lock is released so that
	// Shutdown waits for it.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	id := s.opts.NewID()
	if err := s.registry.Save(ctx, ingest.Event{
		RunID: id,
		Type:  ingest.EventProgress,
		Stage: ingest.StageIdle,
		At:    s.opts.Now().UTC(),
	}); err != nil {
		s.wg.Done()
		return nil, fmt.Errorf("register run: %w", err)
	}

	log := s.opts.Logger.WithField("run_id", id)
	events := ingest.NewChannelSink(s.opts.EventBuffer)
	s.watchers.track(id)
	sinks := ingest.MultiSink{events, s.registrySink(log), s.watchers, ingest.SinkFunc(getMetrics().observe)}
	if s.publisher != nil {
		sinks = append(sinks, ingest.SinkFunc(func(e ingest.Event) { s.publisher.Publish(&e) }))
	}
	rep := ingest.NewReporter(id, sinks, s.opts.Now)

	getMetrics().rowsTotal.Add(float64(len(rows)))
	log.WithField("rows", len(rows)).Info("ingestion run submitted")

	runCtx := context.WithoutCancel(ctx)
	go s.execute(runCtx, rep, rows)

	return &Run{ID: id, Events: events.Events()}, nil
}

func (s *IngestService) registrySink(log *logrus.Entry) ingest.Sink {
	return ingest.SinkFunc(func(e ingest.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.registry.Save(ctx, e); err != nil {
			log.WithError(err).WithField("stage", e.Stage).Warn("failed to save run snapshot")
		}
	})
}

func (s *IngestService) execute(ctx context.Context, rep *ingest.Reporter, rows []ingest.Row) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
	case <-s.stop.Done():
		rep.Fail(ErrShuttingDown)
		return
	}
	defer func() { <-s.slots }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(s.stop, cancel)
	defer stopAfter()
	if s.opts.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancelTimeout()
	}

	m := getMetrics()
	m.runsActive.Inc()
	defer m.runsActive.Dec()

	started := time.Now()
	_, err := s.pipeline.Run(ctx, rep, rows)
	result := "complete"
	if err != nil {
		result = "failed"
	}
	m.runDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

// Status returns the latest snapshot of a run.
func (s *IngestService) Status(ctx context.Context, runID string) (Snapshot, error) {
	return s.registry.Get(ctx, runID)
}

// Watch returns the current snapshot of a run and, while the run executes in
// this process, a channel of its later events that closes after the terminal
// event. For runs that finished or execute elsewhere the channel is nil.
// stop releases the subscription.
func (s *IngestService) Watch(ctx context.Context, runID string) (Snapshot, <-chan ingest.Event, func(), error) {
	w, live := s.watchers.subscribe(runID)
	snapshot, err := s.registry.Get(ctx, runID)
	if err != nil || !live || snapshot.Done() {
		if live {
			s.watchers.unsubscribe(runID, w)
		}
		return snapshot, nil, func() {}, err
	}
	return snapshot, w.ch, func() { s.watchers.unsubscribe(runID, w) }, nil
}

// Wait blocks until every submitted run has finished.
func (s *IngestService) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting runs and waits for in-flight ones. When ctx ends
// first, remaining runs are canceled and fail.
func (s *IngestService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stopFunc()
		return nil
	case <-ctx.Done():
		s.stopFunc()
		<-done
		return ctx.Err()
	}
}
