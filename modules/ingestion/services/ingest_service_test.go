package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
	"github.com/iota-uz/policyhub/modules/ingestion/infrastructure/persistence"
	"github.com/iota-uz/policyhub/pkg/eventbus"
)

// gatedStore blocks Ping until the gate is closed and tracks concurrency.
type gatedStore struct {
	*persistence.MemoryStore
	gate    chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemoryStore: persistence.NewMemoryStore(), gate: make(chan struct{})}
}

func (g *gatedStore) Ping(ctx context.Context) error {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		cur := g.maxSeen.Load()
		if n <= cur || g.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case <-g.gate:
		return g.MemoryStore.Ping(ctx)
	case <-ctx.Done():
		return g.MemoryStore.Ping(ctx)
	}
}

func drain(t *testing.T, run *Run) []ingest.Event {
	t.Helper()
	var events []ingest.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-run.Events:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("run %s did not finish", run.ID)
		}
	}
}

func newTestService(store records.Store, opts IngestOptions) (*IngestService, *MemoryRunRegistry, eventbus.EventBus) {
	registry := NewMemoryRunRegistry(time.Hour)
	bus := eventbus.NewEventPublisher(nil)
	svc := NewIngestService(testPipeline(store), registry, bus, opts)
	return svc, registry, bus
}

func TestIngestService_SubmitValidatesRows(t *testing.T) {
	svc, _, _ := newTestService(persistence.NewMemoryStore(), IngestOptions{MaxRows: 1})

	_, err := svc.Submit(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoRows)

	_, err = svc.Submit(context.Background(), exampleRows())
	require.ErrorIs(t, err, ErrTooManyRows)
}

func TestIngestService_RunCompletesAsynchronously(t *testing.T) {
	svc, registry, bus := newTestService(persistence.NewMemoryStore(), IngestOptions{})

	var (
		mu        sync.Mutex
		published []ingest.Event
	)
	bus.Subscribe(func(e *ingest.Event) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, *e)
	})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := svc.Submit(ctx, exampleRows())
	require.NoError(t, err)
	// Canceling the submitting request does not stop the run.
	cancel()

	events := drain(t, run)
	svc.Wait()
	requireProgressContract(t, events)

	last := events[len(events)-1]
	require.Equal(t, ingest.EventComplete, last.Type)
	require.Equal(t, run.ID, last.RunID)
	require.Equal(t, 2, last.Summary.Facts)

	snap, err := svc.Status(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusComplete, snap.Status)
	require.Equal(t, 100, snap.Percent)
	require.Equal(t, 1, snap.Summary.Subjects)
	require.Equal(t, 1, registry.Len())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, events, published)
}

func TestIngestService_LimitsConcurrentRuns(t *testing.T) {
	store := newGatedStore()
	svc, _, _ := newTestService(store, IngestOptions{MaxConcurrentRuns: 1})

	var runs []*Run
	for i := 0; i < 3; i++ {
		run, err := svc.Submit(context.Background(), exampleRows())
		require.NoError(t, err)
		runs = append(runs, run)
	}

	require.Eventually(t, func() bool { return store.active.Load() == 1 }, time.Second, time.Millisecond)
	queued := 0
	for _, run := range runs {
		snap, err := svc.Status(context.Background(), run.ID)
		require.NoError(t, err)
		if snap.Status == RunStatusQueued {
			queued++
		}
	}
	require.Equal(t, 2, queued)

	close(store.gate)
	for _, run := range runs {
		events := drain(t, run)
		require.Equal(t, ingest.EventComplete, events[len(events)-1].Type)
	}
	svc.Wait()
	require.Equal(t, int32(1), store.maxSeen.Load())
}

func TestIngestService_RunTimeoutFailsRun(t *testing.T) {
	store := newGatedStore()
	svc, _, _ := newTestService(store, IngestOptions{RunTimeout: 20 * time.Millisecond})

	run, err := svc.Submit(context.Background(), exampleRows())
	require.NoError(t, err)

	events := drain(t, run)
	last := events[len(events)-1]
	require.Equal(t, ingest.EventFailed, last.Type)
	require.Contains(t, last.Error, "deadline exceeded")
}

func TestIngestService_ShutdownRejectsNewRuns(t *testing.T) {
	svc, _, _ := newTestService(persistence.NewMemoryStore(), IngestOptions{})

	run, err := svc.Submit(context.Background(), exampleRows())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	events := drain(t, run)
	require.Equal(t, ingest.EventComplete, events[len(events)-1].Type)

	_, err = svc.Submit(context.Background(), exampleRows())
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestIngestService_ShutdownDeadlineCancelsRuns(t *testing.T) {
	store := newGatedStore()
	svc, _, _ := newTestService(store, IngestOptions{})

	run, err := svc.Submit(context.Background(), exampleRows())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)

	events := drain(t, run)
	require.Equal(t, ingest.EventFailed, events[len(events)-1].Type)
}

func TestIngestService_WatchStreamsLiveEvents(t *testing.T) {
	store := newGatedStore()
	svc, _, _ := newTestService(store, IngestOptions{})

	run, err := svc.Submit(context.Background(), exampleRows())
	require.NoError(t, err)

	snap, events, stop, err := svc.Watch(context.Background(), run.ID)
	require.NoError(t, err)
	defer stop()
	require.False(t, snap.Done())
	require.NotNil(t, events)

	close(store.gate)
	var watched []ingest.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-events:
			if !ok {
				done = true
				break
			}
			watched = append(watched, e)
		case <-timeout:
			t.Fatal("watch channel was not closed")
		}
	}
	require.NotEmpty(t, watched)
	require.Equal(t, ingest.EventComplete, watched[len(watched)-1].Type)
	drain(t, run)
	svc.Wait()

	snap, events, stop, err = svc.Watch(context.Background(), run.ID)
	require.NoError(t, err)
	stop()
	require.Nil(t, events)
	require.Equal(t, RunStatusComplete, snap.Status)

	_, _, _, err = svc.Watch(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

// slowRegistry holds the first Save until release is closed.
type slowRegistry struct {
	*MemoryRunRegistry
	first   atomic.Bool
	entered chan struct{}
	release chan struct{}
	failErr error
}

func (r *slowRegistry) Save(ctx context.Context, e ingest.Event) error {
	if r.failErr != nil {
		return r.failErr
	}
	if r.first.CompareAndSwap(false, true) {
		close(r.entered)
		<-r.release
	}
	return r.MemoryRunRegistry.Save(ctx, e)
}

func TestIngestService_SubmitDoesNotSerializeOnRegistry(t *testing.T) {
	registry := &slowRegistry{
		MemoryRunRegistry: NewMemoryRunRegistry(time.Hour),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	svc := NewIngestService(testPipeline(persistence.NewMemoryStore()), registry, nil, IngestOptions{})

	slow := make(chan *Run, 1)
	go func() {
		run, err := svc.Submit(context.Background(), exampleRows())
		if err == nil {
			slow <- run
		}
		close(slow)
	}()
	<-registry.entered

	fast, err := svc.Submit(context.Background(), exampleRows())
	require.NoError(t, err)
	events := drain(t, fast)
	require.Equal(t, ingest.EventComplete, events[len(events)-1].Type)

	close(registry.release)
	run, ok := <-slow
	require.True(t, ok)
	events = drain(t, run)
	require.Equal(t, ingest.EventComplete, events[len(events)-1].Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
}

func TestIngestService_SubmitRegistryFailure(t *testing.T) {
	registry := &slowRegistry{MemoryRunRegistry: NewMemoryRunRegistry(time.Hour), failErr: errors.New("registry down")}
	svc := NewIngestService(testPipeline(persistence.NewMemoryStore()), registry, nil, IngestOptions{})

	_, err := svc.Submit(context.Background(), exampleRows())
	require.ErrorContains(t, err, "registry down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
}
