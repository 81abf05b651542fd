package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
)

var ErrRunNotFound = errors.New("ingestion run not found")

const (
	maxSnapshotWarnings = 50
	maxWarningBytes     = 512
)

type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Snapshot is the last known state of a run.
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Status    RunStatus       `json:"status"`
	Stage     ingest.Stage    `json:"stage"`
	Percent   int             `json:"percent"`
	Message   string          `json:"message,omitempty"`
	Summary   *ingest.Summary `json:"summary,omitempty"`
	Error     string          `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Apply folds e into the snapshot. Events of other runs are ignored.
func (s Snapshot) Apply(e ingest.Event) Snapshot {
	if s.RunID == "" {
		s.RunID = e.RunID
		s.StartedAt = e.At
	}
	if s.RunID != e.RunID {
		return s
	}
	if s.Done() {
		return s
	}
	s.UpdatedAt = e.At
	switch e.Type {
	case ingest.EventWarning:
		if len(s.Warnings) < maxSnapshotWarnings {
			msg := e.Message
			if e.Error != "" {
				msg += ": " + e.Error
			}
			s.Warnings = append(s.Warnings, truncateString(msg, maxWarningBytes))
		}
		return s
	case ingest.EventComplete:
		s.Status = RunStatusComplete
		s.Summary = e.Summary
	case ingest.EventFailed:
		s.Status = RunStatusFailed
		s.Error = e.Error
	default:
		if e.Stage == ingest.StageIdle {
			s.Status = RunStatusQueued
		} else {
			s.Status = RunStatusRunning
		}
	}
	s.Stage = e.Stage
	s.Percent = e.Percent
	s.Message = e.Message
	return s
}

// Done reports whether the run has completed or failed.
func (s Snapshot) Done() bool {
	return s.Status == RunStatusComplete || s.Status == RunStatusFailed
}

// RunRegistry keeps the latest snapshot of every recent run.
type RunRegistry interface {
	Save(ctx context.Context, e ingest.Event) error
	Get(ctx context.Context, runID string) (Snapshot, error)
}

type MemoryRunRegistry struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	runs map[string]Snapshot
}

func NewMemoryRunRegistry(ttl time.Duration) *MemoryRunRegistry {
	return &MemoryRunRegistry{ttl: ttl, now: time.Now, runs: make(map[string]Snapshot)}
}

func (r *MemoryRunRegistry) Save(_ context.Context, e ingest.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict()
	r.runs[e.RunID] = r.runs[e.RunID].Apply(e)
	return nil
}

func (r *MemoryRunRegistry) Get(_ context.Context, runID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict()
	s, ok := r.runs[runID]
	if !ok {
		return Snapshot{}, ErrRunNotFound
	}
	return s, nil
}

// Len reports the number of retained runs.
func (r *MemoryRunRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *MemoryRunRegistry) evict() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.now().Add(-r.ttl)
	for id, s := range r.runs {
		if s.UpdatedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}

type RedisRunRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRunRegistry(client *redis.Client, ttl time.Duration) *RedisRunRegistry {
	return &RedisRunRegistry{client: client, prefix: "policyhub:ingest:runs:v1", ttl: ttl}
}

func (r *RedisRunRegistry) key(runID string) string {
	return fmt.Sprintf("%s:{%s}", r.prefix, runID)
}

// Save reads, applies and writes back the snapshot. A run's events come from
// a single reporter, so writes for one key never race.
func (r *RedisRunRegistry) Save(ctx context.Context, e ingest.Event) error {
	current, err := r.Get(ctx, e.RunID)
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		return err
	}
	payload, err := json.Marshal(current.Apply(e))
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(e.RunID), payload, r.ttl).Err()
}

func (r *RedisRunRegistry) Get(ctx context.Context, runID string) (Snapshot, error) {
	result, err := r.client.Get(ctx, r.key(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrRunNotFound
		}
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(result), &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

var (
	_ RunRegistry = (*MemoryRunRegistry)(nil)
	_ RunRegistry = (*RedisRunRegistry)(nil)
)
