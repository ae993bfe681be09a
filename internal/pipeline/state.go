package pipeline

import (
	"time"
)

// StepOutput is the merged output recorded for one step.
type StepOutput struct {
	Step     string   `json:"step"`
	Text     string   `json:"text,omitempty"`
	Parts    []string `json:"parts,omitempty"` // per-task outputs of a group step, in task order
	Provider string   `json:"provider,omitempty"`
	Cached   bool     `json:"cached,omitempty"`
}

// RunState accumulates one run's outputs. It is owned by the driver running
// it; steps only see outputs of strictly earlier steps.
type RunState struct {
	RunID       string
	Keyword     string
	ContentType ContentType
	Profile     Profile

	Intent          *Intent
	TitleCandidates []string
	Title           string
	Lead            string
	Intro           string
	Ending          string
	Summary         string
	Sections        []Section
	Media           []Media

	outputs map[string]StepOutput
	order   []string
	started time.Time
}

// NewRunState creates the state for a new run.
func NewRunState(runID, keyword string, ct ContentType, profile Profile) *RunState {
	return &RunState{
		RunID:       runID,
		Keyword:     keyword,
		ContentType: ct,
		Profile:     profile,
		outputs:     make(map[string]StepOutput),
		started:     time.Now().UTC(),
	}
}

// SetOutput records a step's output, keeping first-insertion order.
func (rs *RunState) SetOutput(out StepOutput) {
	if _, ok := rs.outputs[out.Step]; !ok {
		rs.order = append(rs.order, out.Step)
	}
	rs.outputs[out.Step] = out
}

// Output returns the recorded output of step.
func (rs *RunState) Output(step string) (StepOutput, bool) {
	out, ok := rs.outputs[step]
	return out, ok
}

// Outputs returns every recorded output in step order.
func (rs *RunState) Outputs() []StepOutput {
	out := make([]StepOutput, 0, len(rs.order))
	for _, name := range rs.order {
		out = append(out, rs.outputs[name])
	}
	return out
}

// Snapshot is an immutable copy of a finished run, handed to persistence
// and rendering.
type Snapshot struct {
	RunID           string       `json:"run_id"`
	Keyword         string       `json:"keyword"`
	ContentType     ContentType  `json:"content_type"`
	Profile         string       `json:"profile,omitempty"`
	Intent          *Intent      `json:"intent,omitempty"`
	TitleCandidates []string     `json:"title_candidates,omitempty"`
	Title           string       `json:"title"`
	Lead            string       `json:"lead,omitempty"`
	Intro           string       `json:"intro,omitempty"`
	Ending          string       `json:"ending,omitempty"`
	Summary         string       `json:"summary,omitempty"`
	Sections        []Section    `json:"sections"`
	Media           []Media      `json:"media,omitempty"`
	Outputs         []StepOutput `json:"outputs"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
}

// Snapshot deep-copies the state.
func (rs *RunState) Snapshot() Snapshot {
	s := Snapshot{
		RunID:           rs.RunID,
		Keyword:         rs.Keyword,
		ContentType:     rs.ContentType,
		Profile:         rs.Profile.Name,
		TitleCandidates: append([]string(nil), rs.TitleCandidates...),
		Title:           rs.Title,
		Lead:            rs.Lead,
		Intro:           rs.Intro,
		Ending:          rs.Ending,
		Summary:         rs.Summary,
		Sections:        make([]Section, len(rs.Sections)),
		Media:           append([]Media(nil), rs.Media...),
		Outputs:         rs.Outputs(),
		StartedAt:       rs.started,
		CompletedAt:     time.Now().UTC(),
	}
	if rs.Intent != nil {
		in := *rs.Intent
		in.NeedsExplicit = append([]string(nil), in.NeedsExplicit...)
		in.NeedsLatent = append([]string(nil), in.NeedsLatent...)
		s.Intent = &in
	}
	for i, sec := range rs.Sections {
		sec.Subheadings = append([]string(nil), sec.Subheadings...)
		sec.Lines = append([]DialogueLine(nil), sec.Lines...)
		s.Sections[i] = sec
	}
	for i := range s.Outputs {
		s.Outputs[i].Parts = append([]string(nil), s.Outputs[i].Parts...)
	}
	return s
}
