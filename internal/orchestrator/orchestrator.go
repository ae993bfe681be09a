// Package orchestrator runs generation jobs in the background and ties the
// pipeline driver to the run registry, the progress broadcaster and storage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/provider"
	"github.com/lucasnoah/writefactory/internal/registry"
	"github.com/lucasnoah/writefactory/internal/render"
)

const maxKeywordLen = 200

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = registry.ErrNotFound
	ErrAlreadyTerminal = errors.New("run already finished")
	ErrShuttingDown    = errors.New("service shutting down")
)

// Runner executes one run's step list.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOpts) (*pipeline.RunState, error)
}

// Profiles resolves client profiles by name.
type Profiles interface {
	Profile(name string) (pipeline.Profile, error)
}

// EventLog persists progress events. Optional.
type EventLog interface {
	LogEvent(ctx context.Context, ev progress.Event) error
}

// RunArchive reads run records written by an earlier process. Optional.
type RunArchive interface {
	GetRun(ctx context.Context, id string) (*registry.Record, error)
}

// Options holds the service's collaborators.
type Options struct {
	Runner      Runner
	Store       archive.Store
	Registry    *registry.Registry
	Broadcaster *progress.Broadcaster
	Profiles    Profiles
	Events      EventLog
	Runs        RunArchive
	Log         zerolog.Logger
}

// StartRequest is a request to generate content.
type StartRequest struct {
	Keyword     string            `json:"keyword"`
	ContentType string            `json:"content_type"`
	Profile     string            `json:"client_profile,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// Service owns every in-flight run.
type Service struct {
	runner   Runner
	store    archive.Store
	reg      *registry.Registry
	bc       *progress.Broadcaster
	profiles Profiles
	events   EventLog
	runs     RunArchive
	log      zerolog.Logger

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	newID    func() string
	baseCtx  context.Context
	stopRuns context.CancelFunc
}

// New creates a Service.
func New(opts Options) *Service {
	base, stop := context.WithCancel(context.Background())
	return &Service{
		runner:   opts.Runner,
		store:    opts.Store,
		reg:      opts.Registry,
		bc:       opts.Broadcaster,
		profiles: opts.Profiles,
		events:   opts.Events,
		runs:     opts.Runs,
		log:      opts.Log.With().Str("component", "orchestrator").Logger(),
		cancels:  make(map[string]context.CancelFunc),
		newID:    uuid.NewString,
		baseCtx:  base,
		stopRuns: stop,
	}
}

// SetIDFunc overrides run id generation (for testing).
func (s *Service) SetIDFunc(fn func() string) {
	s.newID = fn
}

// Start validates req, registers a pending run and executes it in the
// background. The returned record carries the run id.
func (s *Service) Start(ctx context.Context, req StartRequest) (registry.Record, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return registry.Record{}, fmt.Errorf("%w: keyword is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(keyword) > maxKeywordLen {
		return registry.Record{}, fmt.Errorf("%w: keyword longer than %d characters", ErrInvalidInput, maxKeywordLen)
	}
	ct, err := pipeline.ParseContentType(req.ContentType)
	if err != nil {
		return registry.Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var profile pipeline.Profile
	if s.profiles != nil {
		if profile, err = s.profiles.Profile(req.Profile); err != nil {
			return registry.Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	} else if req.Profile != "" {
		return registry.Record{}, fmt.Errorf("%w: unknown client profile %q", ErrInvalidInput, req.Profile)
	}
	steps, err := pipeline.Steps(ct, pipeline.StepOptions{Images: profile.Images, MaxImages: profile.MaxImages})
	if err != nil {
		return registry.Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return registry.Record{}, ErrShuttingDown
	}

	id := s.newID()
	rec, err := s.reg.Create(registry.Record{
		ID:          id,
		Keyword:     keyword,
		ContentType: string(ct),
		Profile:     profile.Name,
		StepCount:   len(steps),
	})
	if err != nil {
		return registry.Record{}, fmt.Errorf("register run: %w", err)
	}
	if err := s.bc.Open(id); err != nil {
		_ = s.reg.Fail(id, "internal", err.Error())
		return registry.Record{}, fmt.Errorf("open progress stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[id] = cancel
	s.wg.Add(1)
	go s.run(runCtx, cancel, pipeline.RunOpts{
		RunID:       id,
		Keyword:     keyword,
		ContentType: ct,
		Profile:     profile,
		Preferences: req.Preferences,
	})

	s.log.Info().Str("run_id", id).Str("keyword", keyword).Str("content_type", string(ct)).Str("profile", profile.Name).Msg("run started")
	return rec, nil
}

func (s *Service) run(ctx context.Context, cancel context.CancelFunc, opts pipeline.RunOpts) {
	defer s.wg.Done()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, opts.RunID)
		s.mu.Unlock()
	}()
	log := s.log.With().Str("run_id", opts.RunID).Logger()

	if err := s.reg.Start(opts.RunID); err != nil {
		log.Error().Err(err).Msg("start run")
		return
	}
	opts.Emit = func(ev pipeline.StepEvent) {
		if ev.Status == pipeline.StepRunning {
			if err := s.reg.Advance(opts.RunID, ev.StepIndex, ev.Step); err != nil {
				log.Warn().Err(err).Str("step", ev.Step).Msg("advance run")
			}
		}
		pe := progress.Event{
			Type:      progress.TypeProgress,
			RunID:     opts.RunID,
			Step:      ev.Step,
			StepIndex: ev.StepIndex,
			StepCount: ev.StepCount,
			Status:    string(ev.Status),
			Cached:    ev.Cached,
			Message:   ev.Message,
		}
		if ev.Err != nil {
			pe.Error = ev.Err.Error()
			pe.ErrorKind = errorKind(ev.Err)
		}
		s.publish(pe)
	}

	rs, err := s.runner.Run(ctx, opts)
	if err != nil {
		s.fail(opts.RunID, errorKind(err), err)
		return
	}

	snap := rs.Snapshot()
	// the run's own context may already be cancelled by shutdown; storage
	// still gets a chance to finish
	saveCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer done()
	resultID, err := s.store.Save(saveCtx, snap)
	if err != nil {
		s.fail(opts.RunID, "storage", err)
		return
	}
	if err := s.reg.Complete(opts.RunID, resultID); err != nil {
		log.Error().Err(err).Msg("complete run")
	}
	s.publish(progress.Event{
		Type:      progress.TypeResult,
		RunID:     opts.RunID,
		StepIndex: len(rs.Outputs()),
		StepCount: len(rs.Outputs()),
		Status:    string(registry.Completed),
		ResultID:  resultID,
		Artifact:  render.Markdown(snap),
	})
	log.Info().Str("result_id", resultID).Str("title", snap.Title).Int("sections", len(snap.Sections)).Msg("run completed")
}

func (s *Service) fail(runID, kind string, cause error) {
	if err := s.reg.Fail(runID, kind, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("run_id", runID).Msg("fail run")
	}
	ev := progress.Event{
		Type:      progress.TypeResult,
		RunID:     runID,
		Status:    string(registry.Failed),
		Error:     cause.Error(),
		ErrorKind: kind,
	}
	var perr *pipeline.PipelineError
	if errors.As(cause, &perr) {
		ev.Step = perr.Step
	}
	s.publish(ev)
	s.log.Warn().Str("run_id", runID).Str("kind", kind).Err(cause).Msg("run failed")
}

func (s *Service) publish(ev progress.Event) {
	ev.Time = time.Now().UTC()
	stamped, err := s.bc.Publish(ev)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", ev.RunID).Msg("publish event")
		return
	}
	if stamped.Terminal() {
		if err := s.reg.SetLastSeq(ev.RunID, stamped.Seq); err != nil {
			s.log.Warn().Err(err).Str("run_id", ev.RunID).Msg("record last seq")
		}
	}
	if s.events != nil {
		if err := s.events.LogEvent(context.Background(), stamped); err != nil {
			s.log.Warn().Err(err).Str("run_id", ev.RunID).Uint64("seq", stamped.Seq).Msg("log event")
		}
	}
}

func errorKind(err error) string {
	var perr *pipeline.PipelineError
	if errors.As(err, &perr) {
		return perr.Kind()
	}
	return string(provider.KindOf(err))
}

// Cancel requests cancellation of a running run. The run finishes with a
// failed result event of kind cancelled.
func (s *Service) Cancel(id string) error {
	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, rec.Status)
	}
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
	}
	cancel()
	s.log.Info().Str("run_id", id).Msg("cancel requested")
	return nil
}

// Status returns the run's record. Runs unknown to this process are looked
// up in the run archive; an archived run that never reached a terminal
// state was cut off by a restart and is reported as failed.
func (s *Service) Status(id string) (registry.Record, error) {
	rec, err := s.reg.Get(id)
	if !errors.Is(err, registry.ErrNotFound) || s.runs == nil {
		return rec, err
	}
	archived, aerr := s.runs.GetRun(context.Background(), id)
	if aerr != nil {
		s.log.Warn().Err(aerr).Str("run_id", id).Msg("archived run lookup")
		return rec, err
	}
	if archived == nil {
		return rec, err
	}
	if !archived.Status.Terminal() {
		archived.Status = registry.Failed
		archived.ErrorKind = "interrupted"
		archived.Error = "run did not finish before the process stopped"
	}
	return *archived, nil
}

// List returns every known run, newest first.
func (s *Service) List() []registry.Record {
	return s.reg.List()
}

// Subscribe streams the run's events with sequence numbers above afterSeq.
func (s *Service) Subscribe(id string, afterSeq uint64) (*progress.Subscription, error) {
	if _, err := s.Status(id); err != nil {
		return nil, err
	}
	return s.bc.Subscribe(id, afterSeq)
}

// LastEvent returns the most recent event still retained for the run.
func (s *Service) LastEvent(id string) (progress.Event, bool) {
	return s.bc.Last(id)
}

// Result loads a completed run's stored snapshot.
func (s *Service) Result(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	rec, err := s.Status(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != registry.Completed {
		return nil, fmt.Errorf("run %s is %s", id, rec.Status)
	}
	return s.store.Get(ctx, rec.ResultID)
}

// Shutdown stops accepting runs, cancels the in-flight ones and waits for
// them to record their outcome or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopRuns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
