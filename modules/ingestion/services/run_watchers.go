package services

import (
	"sync"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
)

type watcher struct {
	ch   chan ingest.Event
	once sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.ch) })
}

// runWatchers fans the events of runs executing in this process out to live
// subscribers. Subscribers of a run are closed after its terminal event.
type runWatchers struct {
	buffer int

	mu     sync.Mutex
	active map[string]map[*watcher]struct{}
}

func newRunWatchers(buffer int) *runWatchers {
	return &runWatchers{buffer: buffer, active: make(map[string]map[*watcher]struct{})}
}

func (h *runWatchers) track(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[runID]; !ok {
		h.active[runID] = make(map[*watcher]struct{})
	}
}

// subscribe returns false when runID is not executing here.
func (h *runWatchers) subscribe(runID string) (*watcher, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.active[runID]
	if !ok {
		return nil, false
	}
	w := &watcher{ch: make(chan ingest.Event, h.buffer)}
	set[w] = struct{}{}
	return w, true
}

func (h *runWatchers) unsubscribe(runID string, w *watcher) {
	h.mu.Lock()
	if set, ok := h.active[runID]; ok {
		delete(set, w)
	}
	h.mu.Unlock()
	w.close()
}

// Emit never blocks: a subscriber whose buffer is full misses the event.
// The terminal event is delivered before the channel closes unless the
// subscriber fell behind.
func (h *runWatchers) Emit(e ingest.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.active[e.RunID]
	if !ok {
		return
	}
	for w := range set {
		select {
		case w.ch <- e:
		default:
		}
	}
	if e.Terminal() {
		for w := range set {
			w.close()
		}
		delete(h.active, e.RunID)
	}
}
