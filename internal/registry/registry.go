// Package registry tracks the status of every run in the process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is a run's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool { return s == Completed || s == Failed }

var (
	ErrNotFound          = errors.New("run not found")
	ErrDuplicate         = errors.New("run id already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record is the registry's view of one run.
type Record struct {
	ID          string    `json:"run_id"`
	Keyword     string    `json:"keyword"`
	ContentType string    `json:"content_type"`
	Profile     string    `json:"profile,omitempty"`
	Status      Status    `json:"status"`
	StepIndex   int       `json:"step_index"`
	StepCount   int       `json:"step_count"`
	Step        string    `json:"step,omitempty"`
	ResultID    string    `json:"result_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	LastSeq     uint64    `json:"last_seq,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Recorder persists run records. Errors are logged, never fatal to a run.
type Recorder interface {
	RecordRun(ctx context.Context, rec Record) error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	runs     map[string]*Record
	recorder Recorder
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a registry. recorder may be nil.
func New(recorder Recorder, log zerolog.Logger) *Registry {
	return &Registry{
		runs:     make(map[string]*Record),
		recorder: recorder,
		log:      log.With().Str("component", "registry").Logger(),
		now:      time.Now,
	}
}

// Create registers a pending run.
func (r *Registry) Create(rec Record) (Record, error) {
	r.mu.Lock()
	if _, ok := r.runs[rec.ID]; ok {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	now := r.now().UTC()
	rec.Status, rec.CreatedAt, rec.UpdatedAt = Pending, now, now
	stored := rec
	r.runs[rec.ID] = &stored
	r.mu.Unlock()
	r.record(rec)
	return rec, nil
}

// Start moves a pending run to running.
func (r *Registry) Start(id string) error {
	return r.transition(id, func(rec *Record) error {
		if rec.Status != Pending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, Running)
		}
		rec.Status = Running
		return nil
	})
}

// Advance records the step a running run is on. Step indexes never move
// backwards.
func (r *Registry) Advance(id string, index int, step string) error {
	return r.transition(id, func(rec *Record) error {
		if rec.Status != Running {
			return fmt.Errorf("%w: advance while %s", ErrInvalidTransition, rec.Status)
		}
		if index < rec.StepIndex {
			return fmt.Errorf("%w: step %d after %d", ErrInvalidTransition, index, rec.StepIndex)
		}
		rec.StepIndex, rec.Step = index, step
		return nil
	})
}

// Complete marks a running run completed with its persisted result id.
func (r *Registry) Complete(id, resultID string) error {
	return r.transition(id, func(rec *Record) error {
		if rec.Status != Running {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, Completed)
		}
		rec.Status, rec.ResultID = Completed, resultID
		return nil
	})
}

// Fail marks a non-terminal run failed.
func (r *Registry) Fail(id, kind, message string) error {
	return r.transition(id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, Failed)
		}
		rec.Status, rec.ErrorKind, rec.Error = Failed, kind, message
		return nil
	})
}

// SetLastSeq records the sequence number of the run's terminal event, so
// the run's stream can be answered after its event log is released.
func (r *Registry) SetLastSeq(id string, seq uint64) error {
	r.mu.Lock()
	rec, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !rec.Status.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("run %s: %w: last seq while %s", id, ErrInvalidTransition, rec.Status)
	}
	if seq > rec.LastSeq {
		rec.LastSeq = seq
	}
	snapshot := *rec
	r.mu.Unlock()
	r.record(snapshot)
	return nil
}

// Get returns a copy of the record.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *rec, nil
}

// List returns every record, newest first.
func (r *Registry) List() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.runs))
	for _, rec := range r.runs {
		out = append(out, *rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) transition(id string, fn func(*Record) error) error {
	r.mu.Lock()
	rec, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(rec); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("run %s: %w", id, err)
	}
	rec.UpdatedAt = r.now().UTC()
	snapshot := *rec
	r.mu.Unlock()
	r.record(snapshot)
	return nil
}

func (r *Registry) record(rec Record) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordRun(context.Background(), rec); err != nil {
		r.log.Warn().Err(err).Str("run_id", rec.ID).Str("status", string(rec.Status)).Msg("record run failed")
	}
}
