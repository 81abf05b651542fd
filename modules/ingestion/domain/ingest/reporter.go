package ingest

import (
	"sync"
	"time"
)

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink delivers every event to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// ChannelSink forwards events to a buffered channel and closes it after the
// terminal event. Emit blocks when the buffer is full.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Events() <-chan Event { return c.ch }

func (c *ChannelSink) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ch <- e
	if e.Terminal() {
		c.closed = true
		close(c.ch)
	}
}

// Reporter enforces the progress contract of one run: percent never goes
// down and exactly one terminal event is emitted. Anything reported after
// the terminal event is dropped.
type Reporter struct {
	runID string
	sink  Sink
	now   func() time.Time

	mu       sync.Mutex
	stage    Stage
	percent  int
	warnings int
	done     bool
}

func NewReporter(runID string, sink Sink, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	if sink == nil {
		sink = MultiSink{}
	}
	return &Reporter{runID: runID, sink: sink, now: now, stage: StageIdle}
}

func (r *Reporter) RunID() string { return r.runID }

func (r *Reporter) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

func (r *Reporter) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Warnings reports how many warning events were emitted.
func (r *Reporter) Warnings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}

// Enter moves the run into stage and emits a progress event.
func (r *Reporter) Enter(stage Stage) bool {
	return r.emit(Event{Type: EventProgress, Stage: stage, Percent: stage.Percent(), Message: stage.Message()})
}

// Warn emits a non-fatal event at the current stage and percent.
func (r *Reporter) Warn(message string, err error) bool {
	e := Event{Type: EventWarning, Message: message}
	if err != nil {
		e.Error = err.Error()
	}
	return r.emit(e)
}

func (r *Reporter) Complete(summary Summary) bool {
	return r.emit(Event{
		Type:    EventComplete,
		Stage:   StageComplete,
		Percent: StageComplete.Percent(),
		Message: StageComplete.Message(),
		Summary: &summary,
	})
}

// Fail emits the failure event carrying err verbatim.
func (r *Reporter) Fail(err error) bool {
	e := Event{Type: EventFailed, Stage: StageFailed, Message: "Import failed"}
	if err != nil {
		e.Error = err.Error()
	}
	return r.emit(e)
}

func (r *Reporter) emit(e Event) bool {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return false
	}
	if e.Stage == "" {
		e.Stage = r.stage
	}
	if e.Percent < r.percent {
		e.Percent = r.percent
	}
	if e.Percent > 100 {
		e.Percent = 100
	}
	switch e.Type {
	case EventWarning:
		r.warnings++
	case EventComplete, EventFailed:
		r.done = true
	}
	if e.Type != EventWarning {
		r.stage = e.Stage
	}
	r.percent = e.Percent
	e.RunID = r.runID
	e.At = r.now().UTC()
	// Sinks run under the lock so that events reach them in emission order.
	r.sink.Emit(e)
	r.mu.Unlock()
	return true
}
