// Package pipeline runs a content type's ordered step list over a shared
// run state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/writefactory/internal/provider"
	"github.com/lucasnoah/writefactory/internal/stage"
)

// PipelineError reports the step a run failed at.
type PipelineError struct {
	Step  string
	Cause error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Kind is the classification reported to observers. Exhausted retries are
// reported as exhausted rather than as the transient kind that caused them.
func (e *PipelineError) Kind() string {
	if errors.Is(e.Cause, stage.ErrRetriesExhausted) {
		return "retries_exhausted"
	}
	return string(provider.KindOf(e.Cause))
}

// StepStatus is the state carried by a step event.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepEvent reports step progress to the caller.
type StepEvent struct {
	Step      string
	StepIndex int // 1-based
	StepCount int
	Status    StepStatus
	Cached    bool
	Message   string
	Err       error
}

// Executor runs one provider call.
type Executor interface {
	Execute(ctx context.Context, c stage.Call) (stage.Result, error)
}

// Renderer renders the system and user prompt for a step.
type Renderer interface {
	Render(contentType, step string, vars map[string]string) (system, user string, err error)
}

// RunOpts configures one run.
type RunOpts struct {
	RunID       string
	Keyword     string
	ContentType ContentType
	Profile     Profile
	Preferences map[string]string // step name or capability -> provider id, overrides the profile
	Emit        func(StepEvent)   // may be called concurrently by group tasks
}

// Driver executes step lists.
type Driver struct {
	exec        Executor
	renderer    Renderer
	concurrency int
	log         zerolog.Logger
}

// NewDriver creates a driver. concurrency bounds parallel group fan-out.
func NewDriver(exec Executor, renderer Renderer, concurrency int, log zerolog.Logger) *Driver {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Driver{exec: exec, renderer: renderer, concurrency: concurrency, log: log.With().Str("component", "driver").Logger()}
}

// Run executes every step for opts.ContentType in order. On the first
// unrecoverable failure it stops and returns a *PipelineError; the partial
// state is returned for diagnostics only.
func (d *Driver) Run(ctx context.Context, opts RunOpts) (*RunState, error) {
	steps, err := Steps(opts.ContentType, StepOptions{Images: opts.Profile.Images, MaxImages: opts.Profile.MaxImages})
	if err != nil {
		return nil, err
	}
	emit := opts.Emit
	if emit == nil {
		emit = func(StepEvent) {}
	}
	rs := NewRunState(opts.RunID, opts.Keyword, opts.ContentType, opts.Profile)
	log := d.log.With().Str("run_id", opts.RunID).Str("content_type", string(opts.ContentType)).Logger()

	for i, st := range steps {
		ev := StepEvent{Step: st.Name, StepIndex: i + 1, StepCount: len(steps)}
		fail := func(cause error) (*RunState, error) {
			if ctx.Err() != nil {
				cause = provider.Classify(ctx.Err())
			}
			perr := &PipelineError{Step: st.Name, Cause: cause}
			ev.Status, ev.Err, ev.Message = StepFailed, perr, perr.Kind()
			emit(ev)
			log.Error().Str("step", st.Name).Str("kind", perr.Kind()).Err(cause).Msg("run failed")
			return rs, perr
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		ev.Status = StepRunning
		emit(ev)
		start := time.Now()

		tasks, err := st.Select(rs)
		if err != nil {
			return fail(err)
		}
		results, err := d.runTasks(ctx, rs, st, tasks, func(re stage.RetryEvent) {
			emit(StepEvent{
				Step: st.Name, StepIndex: i + 1, StepCount: len(steps), Status: StepRunning,
				Message: fmt.Sprintf("retrying after %s (attempt %d, wait %s)", provider.KindOf(re.Err), re.Attempt, re.Delay.Round(time.Millisecond)),
			})
		}, opts.Preferences)
		if err != nil {
			return fail(err)
		}
		if err := st.Merge(rs, results); err != nil {
			return fail(err)
		}

		out := StepOutput{Step: st.Name, Cached: len(results) > 0}
		for _, r := range results {
			out.Parts = append(out.Parts, r.Response.Text)
			out.Cached = out.Cached && r.Cached
			if out.Provider == "" {
				out.Provider = r.Response.Provider
			}
		}
		if len(out.Parts) == 1 {
			out.Text, out.Parts = out.Parts[0], nil
		}
		rs.SetOutput(out)

		ev.Status, ev.Cached = StepCompleted, out.Cached
		if out.Cached {
			ev.Message = "served from cache"
		}
		emit(ev)
		log.Debug().Str("step", st.Name).Int("tasks", len(tasks)).Bool("cached", out.Cached).Dur("took", time.Since(start)).Msg("step completed")
	}
	return rs, nil
}

func (d *Driver) runTasks(ctx context.Context, rs *RunState, st Step, tasks []Task, onRetry func(stage.RetryEvent), prefs map[string]string) ([]TaskResult, error) {
	preferred := preferredProvider(st, prefs, rs.Profile.Preferences)
	base := baseVars(rs)

	// Prompts are rendered up front so every task sees the same state.
	calls := make([]stage.Call, len(tasks))
	for i, t := range tasks {
		vars := make(map[string]string, len(base)+len(t.Vars))
		for k, v := range base {
			vars[k] = v
		}
		for k, v := range t.Vars {
			vars[k] = v
		}
		system, user, err := d.renderer.Render(string(rs.ContentType), st.Name, vars)
		if err != nil {
			return nil, fmt.Errorf("render prompt: %w", err)
		}
		calls[i] = stage.Call{
			Step:       st.Name,
			Capability: st.Capability,
			System:     system,
			Prompt:     user,
			Params:     provider.Params{"step": st.Name, "keyword": rs.Keyword}.Merge(t.Params),
			Preferred:  preferred,
			OnRetry:    onRetry,
		}
	}

	run := func(ctx context.Context, i int) (TaskResult, error) {
		res, err := d.exec.Execute(ctx, calls[i])
		if err != nil {
			return TaskResult{}, err
		}
		return TaskResult{Task: tasks[i], Response: res.Response, Cached: res.Cached}, nil
	}

	if !st.Group || len(tasks) <= 1 {
		results := make([]TaskResult, 0, len(tasks))
		for i := range tasks {
			r, err := run(ctx, i)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		return results, nil
	}
	return RunGroup(ctx, d.concurrency, len(tasks), run)
}

// preferredProvider looks up a pinned provider by step name, then by
// capability, in the run's own preferences before the profile's.
func preferredProvider(st Step, maps ...map[string]string) string {
	for _, m := range maps {
		if id := m[st.Name]; id != "" {
			return id
		}
		if id := m[string(st.Capability)]; id != "" {
			return id
		}
	}
	return ""
}
