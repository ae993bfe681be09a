// Package progress fans out per-run ordered event streams with replay.
package progress

import "time"

// Type distinguishes step progress from the terminal result.
type Type string

const (
	TypeProgress Type = "progress"
	TypeResult   Type = "result"
)

// Event is one message in a run's stream. Seq is assigned by the
// broadcaster and strictly increases per run.
type Event struct {
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq"`
	Step      string    `json:"step,omitempty"`
	StepIndex int       `json:"step_index,omitempty"`
	StepCount int       `json:"step_count,omitempty"`
	Status    string    `json:"status"`
	Cached    bool      `json:"cached,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ResultID  string    `json:"result_id,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Time      time.Time `json:"time"`
}

// Terminal reports whether e ends its run's stream.
func (e Event) Terminal() bool { return e.Type == TypeResult }
